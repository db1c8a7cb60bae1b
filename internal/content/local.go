package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Local keeps files under a root directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal returns a store rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Root returns the root directory.
func (l *Local) Root() string {
	return l.root
}

// resolve maps a site-relative path to a filesystem path inside the root.
func (l *Local) resolve(rel string) (string, error) {
	if rel == "" || strings.Contains(rel, "\x00") || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	clean := path.Clean(rel)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// Write implements Store. The payload is written to a hidden temporary file
// in the destination directory and renamed into place once complete.
func (l *Local) Write(ctx context.Context, rel string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dest, err := l.resolve(rel)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return 0, fmt.Errorf("copy payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, fmt.Errorf("move into place: %w", err)
	}

	success = true
	return n, nil
}

// Delete implements Store.
func (l *Local) Delete(_ context.Context, rel string) error {
	p, err := l.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists implements Store.
func (l *Local) Exists(_ context.Context, rel string) (bool, error) {
	p, err := l.resolve(rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// List implements Lister. Hidden files (in-flight uploads) and
// subdirectories are skipped; a missing directory lists as empty.
func (l *Local) List(ctx context.Context, dir string) ([]Entry, error) {
	p, err := l.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Path:    path.Join(path.Clean(dir), entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}
