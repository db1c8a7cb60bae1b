// Package library implements the catalog mutations: uploading a track with
// its media files and deleting a track together with them.
//
// An upload writes files first and appends the record last; a delete
// removes files first and drops the record last. Failures during an upload
// undo the files already written. Failures during a delete are not undone,
// so a crash between the two steps leaves a record whose files are gone
// until Prune clears it.
package library

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"melodycloud/internal/catalog"
	"melodycloud/internal/content"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Default text for empty record fields.
const (
	DefaultTitle  = "Untitled"
	DefaultArtist = "Unknown"
)

// maxNameAttempts bounds id and filename regeneration on collision.
const maxNameAttempts = 8

// Journal receives one entry per catalog mutation and per failed cleanup.
type Journal interface {
	Record(ctx context.Context, kind, trackID, detail string) error
}

// Journal entry kinds.
const (
	EventUpload         = "upload"
	EventDelete         = "delete"
	EventRollbackFailed = "rollback_failed"
	EventCleanupFailed  = "cleanup_failed"
	EventPrune          = "prune"
)

// Config holds the catalog layout and upload limits.
type Config struct {
	MusicDir           string
	CoversDir          string
	DefaultCover       string
	MaxAudioBytes      int64
	MaxCoverBytes      int64
	PreferEmbeddedTags bool
}

// Service performs uploads and deletes against a catalog and a content store.
type Service struct {
	cfg     Config
	catalog *catalog.Store
	files   content.Store
	journal Journal
	logger  *logrus.Logger
	now     func() time.Time
	newID   func() (string, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithJournal records mutations in j.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator replaces the generator used for track ids and file names.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// NewService wires a Service.
func NewService(cfg Config, store *catalog.Store, files content.Store, logger *logrus.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Service{
		cfg:     cfg,
		catalog: store,
		files:   files,
		journal: nopJournal{},
		logger:  logger,
		now:     time.Now,
		newID:   newUUIDv7,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the underlying catalog store.
func (s *Service) Catalog() *catalog.Store {
	return s.catalog
}

// DefaultCover returns the shared cover path.
func (s *Service) DefaultCover() string {
	return s.cfg.DefaultCover
}

// isDefaultCover reports whether cover is the shared default. Catalogs
// migrated from older installs keep a copy of it under the covers
// directory, so the file name alone also counts.
func (s *Service) isDefaultCover(cover string) bool {
	return cover == s.cfg.DefaultCover || path.Base(cover) == path.Base(s.cfg.DefaultCover)
}

// newUUIDv7 yields time-ordered ids: a millisecond timestamp followed by
// random bits.
func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// freshPath picks dir/prefix_<id>ext that does not exist yet.
func (s *Service) freshPath(ctx context.Context, dir, prefix, ext string) (string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", err
		}
		candidate := path.Join(dir, prefix+"_"+id+ext)
		exists, err := s.files.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free file name in %s after %d attempts", dir, maxNameAttempts)
}

// within reports whether p lies inside dir.
func within(p, dir string) bool {
	return strings.HasPrefix(path.Clean(p), path.Clean(dir)+"/")
}

// discard removes files written by a failed operation, newest first. A
// failed removal is logged and journaled; it never replaces the error that
// caused the rollback.
func (s *Service) discard(ctx context.Context, paths []string, cause error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(paths) - 1; i >= 0; i-- {
		p := paths[i]
		if err := s.files.Delete(ctx, p); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"path":  p,
				"cause": cause.Error(),
			}).Error("Rollback failed, file left orphaned")
			s.record(ctx, EventRollbackFailed, "", p)
			continue
		}
		s.logger.WithField("path", p).Debug("Rolled back file")
	}
}

func (s *Service) record(ctx context.Context, kind, trackID, detail string) {
	if err := s.journal.Record(ctx, kind, trackID, detail); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("Failed to write audit entry")
	}
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, string, string, string) error { return nil }
