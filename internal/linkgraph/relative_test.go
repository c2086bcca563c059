package linkgraph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marksite/internal/linkgraph"
	"github.com/starford/marksite/internal/render"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/testutil"
)

func TestBacklinks_RelativeLinksCountAsInbound(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"docs/index.md":    "# Docs",
		"docs/sub/leaf.md": "back to [hub](../)",
		"other.md":         "see [docs](docs/index.md)",
	})
	sc, err := site.NewScanner(site.Options{
		Root:  root,
		Rules: site.URLRules{Extensions: []string{".md"}, IndexFiles: []string{"index.md"}},
	}, testutil.Logger())
	require.NoError(t, err)
	store := site.NewStore(sc, testutil.Logger())
	_, err = store.Rescan(context.Background())
	require.NoError(t, err)

	pipeline := render.New(render.Options{LinkTracking: true}, nil, nil, testutil.Logger())
	bl := linkgraph.NewBacklinks(pipeline.Links, 2, testutil.Logger())

	recs, err := bl.Inbound(context.Background(), store.Load(), "/docs/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/docs/sub/leaf/", recs[0].From)
	assert.Equal(t, "/other/", recs[1].From)

	doc, err := bl.Document(context.Background(), store.Load(), "/docs/sub/leaf/")
	require.NoError(t, err)
	require.Len(t, doc.Outbound, 1)
	assert.Equal(t, "/docs/", doc.Outbound[0].To)
}
