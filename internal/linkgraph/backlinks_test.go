package linkgraph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/site"
	"github.com/starford/marksite/internal/testutil"
)

func scan(t *testing.T, root string) *site.Store {
	t.Helper()
	sc, err := site.NewScanner(site.Options{
		Root:  root,
		Rules: site.URLRules{Extensions: []string{".md"}, IndexFiles: []string{"index.md"}},
	}, testutil.Logger())
	require.NoError(t, err)
	store := site.NewStore(sc, testutil.Logger())
	_, err = store.Rescan(context.Background())
	require.NoError(t, err)
	return store
}

// outboundFromLinks treats every markdown link in the source as an anchor.
func outboundFromLinks(calls *atomic.Int32) OutboundFunc {
	return func(_ context.Context, idx *site.Index, f *models.FileMetadata) ([]models.LinkRecord, error) {
		calls.Add(1)
		var out []models.LinkRecord
		for _, target := range []string{"/guide/", "/other/"} {
			data := mustRead(idx.Abs(f.Path))
			if contains(data, "("+target+")") {
				out = append(out, models.LinkRecord{From: f.URLPath, To: target, Text: "x", Internal: true})
			}
		}
		return out, nil
	}
}

func TestBacklinks_InboundAndCache(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"guide.md": "# Guide",
		"a.md":     "[x](/guide/)",
		"b.md":     "[x](/other/)",
		"c.md":     "[x](/guide/) again",
	})
	store := scan(t, root)

	var calls atomic.Int32
	bl := NewBacklinks(outboundFromLinks(&calls), 2, testutil.Logger())

	recs, err := bl.Inbound(context.Background(), store.Load(), "/guide/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/a/", recs[0].From)
	assert.Equal(t, "/c/", recs[1].From)
	assert.Equal(t, int32(4), calls.Load(), "every page is rendered once")

	other, err := bl.Inbound(context.Background(), store.Load(), "/other/")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "/b/", other[0].From)
	assert.Equal(t, int32(4), calls.Load(), "later lookups in the same generation reuse the graph")

	none, err := bl.Inbound(context.Background(), store.Load(), "/nowhere/")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	testutil.AddFiles(t, root, map[string]string{"d.md": "[x](/guide/)"})
	_, err = store.Rescan(context.Background())
	require.NoError(t, err)

	recs, err = bl.Inbound(context.Background(), store.Load(), "/guide/")
	require.NoError(t, err)
	assert.Len(t, recs, 3, "new generation rebuilds the graph")
	assert.Equal(t, int32(9), calls.Load())
}

func TestBacklinks_DocumentIsSymmetric(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"guide.md": "# Guide",
		"a.md":     "[x](/guide/)",
	})
	store := scan(t, root)
	var calls atomic.Int32
	bl := NewBacklinks(outboundFromLinks(&calls), 2, testutil.Logger())

	from, err := bl.Document(context.Background(), store.Load(), "/a/")
	require.NoError(t, err)
	to, err := bl.Document(context.Background(), store.Load(), "/guide/")
	require.NoError(t, err)

	require.Len(t, from.Outbound, 1)
	require.Len(t, to.Inbound, 1)
	assert.Equal(t, "/guide/", from.Outbound[0].To)
	assert.Equal(t, "/a/", to.Inbound[0].From)
}

func TestBacklinks_ConcurrentLookups(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{"guide.md": "# Guide", "a.md": "[x](/guide/)"})
	store := scan(t, root)

	var calls atomic.Int32
	bl := NewBacklinks(outboundFromLinks(&calls), 2, testutil.Logger())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := bl.Inbound(context.Background(), store.Load(), "/guide/")
			assert.NoError(t, err)
			assert.Len(t, recs, 1)
		}()
	}
	wg.Wait()
}
