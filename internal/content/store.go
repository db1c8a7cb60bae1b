// Package content stores uploaded media files. Paths are site-relative and
// use forward slashes, matching the references kept in track records.
package content

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrOutsideRoot is returned for paths that would resolve outside the store.
var ErrOutsideRoot = errors.New("path escapes content root")

// Store is the capability the library needs to place and remove media.
// Implementations must be safe for concurrent use.
type Store interface {
	// Write streams r to path. Either the whole payload lands or nothing does.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)

	// Delete removes path. A missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path holds a file.
	Exists(ctx context.Context, path string) (bool, error)
}

// Entry describes one stored file.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Lister is implemented by stores that can enumerate a directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]Entry, error)
}
