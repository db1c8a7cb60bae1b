package library

import (
	"context"
	"fmt"

	"melodycloud/pkg/models"

	"github.com/sirupsen/logrus"
)

// Delete removes the track with exactly this id: its audio file, its cover
// unless it is the shared default, and finally its record. An unreadable
// catalog fails with ErrPersistence before anything is touched.
func (s *Service) Delete(ctx context.Context, id string) error {
	var removed models.Track

	err := s.catalog.UpdateStrict(func(tracks []models.Track) ([]models.Track, error) {
		idx := models.IndexOf(tracks, id)
		if id == "" || idx < 0 {
			return nil, ErrNotFound
		}
		removed = tracks[idx]

		s.removeFiles(ctx, removed)

		remaining := make([]models.Track, 0, len(tracks)-1)
		remaining = append(remaining, tracks[:idx]...)
		remaining = append(remaining, tracks[idx+1:]...)
		return remaining, nil
	})
	if err != nil {
		if removed.ID != "" {
			// Files are gone but the record is still listed.
			s.logger.WithError(err).WithField("track_id", removed.ID).Error("Track files removed but catalog save failed")
		}
		return fmt.Errorf("delete track %q: %w", id, err)
	}

	s.logger.WithFields(logrus.Fields{
		"track_id": removed.ID,
		"title":    removed.Title,
		"artist":   removed.Artist,
	}).Info("Track deleted")
	s.record(ctx, EventDelete, removed.ID, removed.URL)

	return nil
}

// removeFiles deletes the media behind a record. Missing files are fine.
// Paths outside the content directories are never touched, which also
// protects the shared default cover.
func (s *Service) removeFiles(ctx context.Context, track models.Track) {
	targets := []struct {
		path string
		dir  string
	}{
		{track.URL, s.cfg.MusicDir},
	}
	if track.Cover != "" && !s.isDefaultCover(track.Cover) {
		targets = append(targets, struct {
			path string
			dir  string
		}{track.Cover, s.cfg.CoversDir})
	}

	for _, t := range targets {
		if t.path == "" {
			continue
		}
		entry := s.logger.WithFields(logrus.Fields{"track_id": track.ID, "path": t.path})
		if !within(t.path, t.dir) {
			entry.Warn("Skipping file outside content directory")
			continue
		}
		if err := s.files.Delete(ctx, t.path); err != nil {
			entry.WithError(err).Error("Failed to remove track file")
			s.record(ctx, EventCleanupFailed, track.ID, t.path)
		}
	}
}
