package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestWriteRead(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, s.Write("a/b/index.html", []byte("<h1>deep</h1>")))

	got, err := s.Read("a/b/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>deep</h1>", string(got))

	info, err := os.Stat(filepath.Join(s.Root(), "a", "b", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteReplacesWithoutLeftovers(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, s.Write("page.html", []byte("old")))
	require.NoError(t, s.Write("page.html", []byte("new")))

	got, err := s.Read("page.html")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	leftovers, _ := filepath.Glob(filepath.Join(s.Root(), ".marksite-tmp-*"))
	assert.Empty(t, leftovers)
}

func TestList(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, s.Write("b/index.html", []byte("b")))
	require.NoError(t, s.Write("a.json", []byte("{}")))

	items, err := s.List("")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.json", items[0].Path)
	assert.Equal(t, "b/index.html", items[1].Path)
	assert.Equal(t, int64(2), items[0].Size)
	assert.NotEmpty(t, items[0].Checksum)

	sub, err := s.List("b")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "b/index.html", sub[0].Path)
}

func TestSymlinkAndExists(t *testing.T) {
	s := tempRoot(t)
	src := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	assert.False(t, s.Exists("img/logo.png"))
	if err := s.Symlink(src, "img/logo.png"); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	assert.True(t, s.Exists("img/logo.png"))

	got, err := s.Read("img/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))

	items, err := s.List("")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Checksum)

	require.NoError(t, os.Remove(src))
	assert.True(t, s.Exists("img/logo.png"), "dangling link still occupies the path")
}

func TestPathsOutsideRootRejected(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"../../etc/passwd", "../outside.html", "a/../../x", "/etc/shadow"} {
		t.Run(p, func(t *testing.T) {
			_, err := s.Read(p)
			assert.True(t, errors.Is(err, ErrEscapesRoot), "read: %v", err)
			assert.ErrorIs(t, s.Write(p, []byte("x")), ErrEscapesRoot)
			assert.ErrorIs(t, s.Symlink("/tmp", p), ErrEscapesRoot)
			assert.False(t, s.Exists(p))
		})
	}
}

func TestNewFSRequiresDirectory(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewFS(file)
	assert.Error(t, err)
}
