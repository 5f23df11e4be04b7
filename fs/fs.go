// Package fs provides the filesystem abstraction used by the release
// pipeline for staging, attesting, and archiving artifact sets. It wraps
// go-billy so that every consumer can run against an in-memory filesystem
// in tests and the OS filesystem in production.
package fs

import (
	"os"
	"path/filepath"
)

// Filesystem is the subset of filesystem operations the release pipeline
// depends on. Implementations must be safe for concurrent use.
type Filesystem interface {
	// Exists reports whether the named path exists.
	Exists(path string) (bool, error)

	// MkdirAll creates a directory named path, along with any necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// ReadFile reads the named file and returns its contents.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(filename string, data []byte, perm os.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Walk walks the file tree rooted at root, calling walkFn for each
	// file or directory in the tree, including root.
	Walk(root string, walkFn filepath.WalkFunc) error
}
