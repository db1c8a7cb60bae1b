// Package watcher monitors the content directories for media files that
// disappear while the catalog still points at them.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"melodycloud/internal/catalog"
	"melodycloud/internal/library"
	"melodycloud/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Pruner reconciles the catalog with the content directories.
type Pruner interface {
	Prune(ctx context.Context, dryRun bool) (*library.PruneReport, error)
}

// Options configures a Watcher.
type Options struct {
	SiteRoot  string
	Dirs      []string // site-relative
	Debounce  time.Duration
	AutoPrune bool
}

// Watcher reports catalog records whose media was removed behind the
// catalog's back, and optionally prunes them.
type Watcher struct {
	opts    Options
	fs      *fsnotify.Watcher
	catalog *catalog.Store
	pruner  Pruner
	logger  *logrus.Logger

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer

	// onCheck observes each completed check.
	onCheck func(dangling []string)

	done chan struct{}
}

// New creates a watcher; Start begins monitoring.
func New(opts Options, store *catalog.Store, pruner Pruner, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	return &Watcher{
		opts:    opts,
		catalog: store,
		pruner:  pruner,
		logger:  logger,
		pending: make(map[string]bool),
		done:    make(chan struct{}),
	}
}

// Start watches every configured directory, creating missing ones. Events
// are processed until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fs = fw

	for _, dir := range w.opts.Dirs {
		abs := filepath.Join(w.opts.SiteRoot, filepath.FromSlash(dir))
		if err := os.MkdirAll(abs, 0755); err != nil {
			fw.Close()
			return err
		}
		if err := fw.Add(abs); err != nil {
			fw.Close()
			return err
		}
	}

	go w.watchFiles(ctx)

	w.logger.WithFields(logrus.Fields{
		"dirs":       w.opts.Dirs,
		"auto_prune": w.opts.AutoPrune,
	}).Info("Content watcher started")
	return nil
}

// Close stops the watcher (idempotent).
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if w.fs == nil {
		return nil
	}
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) watchFiles(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.fs.Close()
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFileEvent(ctx, event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Content watcher error")
		}
	}
}

// handleFileEvent queues removed files for the next check.
func (w *Watcher) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	// Hidden files are in-flight writes.
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(w.opts.SiteRoot, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	w.logger.WithField("path", rel).Debug("Content file removed")

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[rel] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, func() { w.check(ctx) })
}

// check compares the removed files against the catalog once the burst of
// events has settled. Our own deletes have saved the catalog by then.
func (w *Watcher) check(ctx context.Context) {
	w.mu.Lock()
	removed := w.pending
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	for p := range removed {
		if _, err := os.Stat(filepath.Join(w.opts.SiteRoot, filepath.FromSlash(p))); !errors.Is(err, fs.ErrNotExist) {
			delete(removed, p)
		}
	}

	dangling := DanglingReferences(w.catalog.Load(), removed)
	for _, ref := range dangling {
		w.logger.WithField("path", ref).Warn("Catalog references a missing file")
	}

	if len(dangling) > 0 && w.opts.AutoPrune && w.pruner != nil {
		report, err := w.pruner.Prune(ctx, false)
		if err != nil {
			w.logger.WithError(err).Error("Automatic prune failed")
		} else {
			w.logger.WithField("records", len(report.DanglingRecords)).Info("Automatic prune complete")
		}
	}

	if w.onCheck != nil {
		w.onCheck(dangling)
	}
}

// DanglingReferences returns the removed paths that some track still uses,
// sorted.
func DanglingReferences(tracks []models.Track, removed map[string]bool) []string {
	seen := make(map[string]bool)
	for _, t := range tracks {
		for _, p := range []string{t.URL, t.Cover} {
			if removed[p] {
				seen[p] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
