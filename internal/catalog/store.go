// Package catalog owns the persisted track catalog: a single JSON document
// holding the ordered list of track records.
//
// There is no in-memory copy. Every read decodes the current document and
// every mutation rewrites it in full. Writes go through a temporary file and
// a rename, so readers see either the old or the new document and never a
// partial one. Mutations made through Update and UpdateStrict are serialized
// by a process-wide lock; a second process writing the same document can
// still race with this one.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"melodycloud/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrPersistence marks failures to read or write the catalog document.
var ErrPersistence = errors.New("catalog persistence failed")

// errMalformed marks a document that exists but is not a JSON array.
var errMalformed = errors.New("catalog document is not a track list")

// Store reads and writes the catalog document.
type Store struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

// New returns a store for the document at path.
func New(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Path returns the filesystem location of the document.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current catalog for display. A missing, unreadable or
// malformed document yields an empty catalog; the failure is logged, never
// returned. Load never writes, so callers that mutate use Update.
func (s *Store) Load() []models.Track {
	tracks, err := s.read()
	if err != nil {
		s.logger.WithError(err).WithField("catalog", s.path).Warn("Catalog unreadable, treating as empty")
		return []models.Track{}
	}
	return tracks
}

// Read returns the current catalog. A missing document is an empty catalog;
// any other read or decode failure is reported as ErrPersistence.
func (s *Store) Read() ([]models.Track, error) {
	tracks, err := s.read()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return tracks, nil
}

// Save replaces the document with tracks.
func (s *Store) Save(tracks []models.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(tracks)
}

// Update loads the catalog, passes it to fn and saves whatever fn returns.
// A missing document starts empty. A malformed one is copied aside and also
// starts empty. Any other read failure aborts with ErrPersistence. If fn fails nothing is written and its error is
// returned as is. The writer lock is held for the whole sequence.
func (s *Store) Update(fn func([]models.Track) ([]models.Track, error)) error {
	return s.update(false, fn)
}

// UpdateStrict is Update with Read semantics: a document that cannot be
// read or decoded aborts the mutation with ErrPersistence.
func (s *Store) UpdateStrict(fn func([]models.Track) ([]models.Track, error)) error {
	return s.update(true, fn)
}

func (s *Store) update(strict bool, fn func([]models.Track) ([]models.Track, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks, err := s.read()
	switch {
	case err == nil:
	case strict || !errors.Is(err, errMalformed):
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	default:
		s.logger.WithError(err).WithField("catalog", s.path).Warn("Catalog malformed, starting from empty")
		s.preserveMalformed()
		tracks = []models.Track{}
	}

	updated, err := fn(tracks)
	if err != nil {
		return err
	}

	return s.save(updated)
}

func (s *Store) read() ([]models.Track, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.Track{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []models.Track{}, nil
	}

	var tracks []models.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if tracks == nil {
		tracks = []models.Track{}
	}
	return tracks, nil
}

func (s *Store) save(tracks []models.Track) error {
	if tracks == nil {
		tracks = []models.Track{}
	}

	data, err := Encode(tracks)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := writeFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, s.path, err)
	}
	return nil
}

// preserveMalformed copies an undecodable document aside before a lenient
// update overwrites it.
func (s *Store) preserveMalformed() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	backup := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.WriteFile(backup, data, 0644); err != nil {
		s.logger.WithError(err).WithField("backup", backup).Error("Failed to preserve malformed catalog")
		return
	}
	s.logger.WithField("backup", backup).Warn("Preserved malformed catalog before rewrite")
}

// Encode renders tracks the way they are stored: indented, with slashes
// and HTML characters left unescaped.
func Encode(tracks []models.Track) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(tracks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
