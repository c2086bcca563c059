// Package storage confines file operations to a single root directory. The
// build writes its staging tree through it and the MCP server reads page
// sources through it.
package storage

// Entry describes one regular file below the root.
type Entry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Provider is the interface for rooted file operations. All paths are
// slash-separated and relative to the root.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// List returns every regular file under dir, sorted by path.
	List(dir string) ([]Entry, error)
	// Exists reports whether path is occupied.
	Exists(path string) bool
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Symlink creates path as a symbolic link to the absolute target.
	Symlink(target, path string) error
}
