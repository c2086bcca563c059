package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/starford/marksite/internal/apperr"
	"github.com/starford/marksite/internal/checksum"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// ErrEscapesRoot is returned for paths that resolve outside the root.
var ErrEscapesRoot = errors.New("storage: path escapes root")

// FS is a Provider over a local directory.
type FS struct {
	root string
}

// NewFS roots a provider at an existing directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return nil, fmt.Errorf("storage: stat root: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

func (f *FS) Root() string { return f.root }

// resolve maps a slash-separated relative path onto the file system. Empty
// means the root itself.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	native := filepath.FromSlash(rel)
	if filepath.IsAbs(native) {
		return "", fmt.Errorf("%w: %s is absolute", ErrEscapesRoot, rel)
	}
	abs := filepath.Join(f.root, native)
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, rel)
	}
	return abs, nil
}

// List returns the files below dir sorted by path. Regular files carry their
// size and digest; symlinks are listed without either.
func (f *FS) List(dir string) ([]Entry, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		e := Entry{Path: filepath.ToSlash(rel)}
		if d.Type()&fs.ModeSymlink == 0 {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			e.Size = int64(len(data))
			e.Checksum = checksum.Sum(data)
		}
		out = append(out, e)
		return nil
	}
	if err := filepath.WalkDir(base, walk); err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Exists reports whether anything, including a dangling symlink, occupies path.
func (f *FS) Exists(path string) bool {
	abs, err := f.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Lstat(abs)
	return err == nil
}

func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces path with content. Readers see either the old or the new
// file, never a partial one.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".marksite-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	if err := fill(tmp, content); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("storage: rename %s: %w", path, err)
	}
	return nil
}

// fill writes, syncs and closes tmp. tmp is closed on every path.
func fill(tmp *os.File, content []byte) error {
	_, err := tmp.Write(content)
	if err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(filePerm)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	return err
}

// Symlink creates path pointing at target. A platform or file system without
// symlink support yields an error wrapping apperr.ErrSymlinkUnsupported.
func (f *FS) Symlink(target, path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), dirPerm); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", path, err)
	}
	err = os.Symlink(target, abs)
	switch {
	case err == nil:
		return nil
	case unsupported(err):
		return fmt.Errorf("storage: symlink %s: %w: %w", path, apperr.ErrSymlinkUnsupported, err)
	default:
		return fmt.Errorf("storage: symlink %s: %w", path, err)
	}
}

func unsupported(err error) bool {
	for _, target := range []error{errors.ErrUnsupported, syscall.ENOTSUP, syscall.EOPNOTSUPP, syscall.ENOSYS, syscall.EPERM} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
