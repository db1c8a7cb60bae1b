package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"melodycloud/internal/content"
	"melodycloud/pkg/models"

	"github.com/sirupsen/logrus"
)

// OrphanGracePeriod protects freshly written files: an upload in flight has
// its media on disk before its record reaches the catalog.
const OrphanGracePeriod = 15 * time.Minute

// PruneReport lists what a prune removed, or would remove on a dry run.
type PruneReport struct {
	DryRun          bool     `json:"dry_run"`
	DanglingRecords []string `json:"dangling_records"`
	OrphanFiles     []string `json:"orphan_files"`
	// SkippedRecords have an audio path outside the content root.
	SkippedRecords  []string `json:"skipped_records,omitempty"`
}

// Prune reconciles the catalog with the content directories. Records whose
// audio file is missing are dropped, and files no record references are
// deleted once they are older than OrphanGracePeriod. With dryRun nothing
// changes.
func (s *Service) Prune(ctx context.Context, dryRun bool) (*PruneReport, error) {
	report := &PruneReport{DryRun: dryRun}

	var remaining []models.Track
	sweep := func(tracks []models.Track) ([]models.Track, error) {
		kept := make([]models.Track, 0, len(tracks))
		for _, t := range tracks {
			ok, err := s.files.Exists(ctx, t.URL)
			if errors.Is(err, content.ErrOutsideRoot) {
				s.logger.WithFields(logrus.Fields{"track_id": t.ID, "url": t.URL}).Warn("Record audio path cannot be checked, keeping record")
				report.SkippedRecords = append(report.SkippedRecords, t.ID)
				kept = append(kept, t)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", t.URL, err)
			}
			if !ok {
				report.DanglingRecords = append(report.DanglingRecords, t.ID)
				continue
			}
			kept = append(kept, t)
		}
		remaining = kept
		return kept, nil
	}

	if dryRun {
		tracks, err := s.catalog.Read()
		if err != nil {
			return nil, err
		}
		if _, err := sweep(tracks); err != nil {
			return nil, err
		}
	} else if err := s.catalog.UpdateStrict(sweep); err != nil {
		return nil, err
	}

	orphans, err := s.orphans(ctx, remaining)
	if err != nil {
		return nil, err
	}
	for _, p := range orphans {
		if !dryRun {
			if err := s.files.Delete(ctx, p); err != nil {
				s.logger.WithError(err).WithField("path", p).Warn("Failed to remove orphaned file")
				continue
			}
		}
		report.OrphanFiles = append(report.OrphanFiles, p)
	}

	s.logger.WithFields(logrus.Fields{
		"dry_run":  dryRun,
		"dangling": len(report.DanglingRecords),
		"orphans":  len(report.OrphanFiles),
	}).Info("Catalog pruned")
	if !dryRun && (len(report.DanglingRecords) > 0 || len(report.OrphanFiles) > 0) {
		s.record(ctx, EventPrune, "", fmt.Sprintf("records=%d files=%d", len(report.DanglingRecords), len(report.OrphanFiles)))
	}

	return report, nil
}

// orphans lists files in the content directories that no track references.
func (s *Service) orphans(ctx context.Context, tracks []models.Track) ([]string, error) {
	lister, ok := s.files.(content.Lister)
	if !ok {
		return nil, nil
	}

	referenced := make(map[string]bool, 2*len(tracks)+1)
	referenced[s.cfg.DefaultCover] = true
	for _, t := range tracks {
		referenced[t.URL] = true
		referenced[t.Cover] = true
	}

	cutoff := s.now().Add(-OrphanGracePeriod)
	var out []string
	for _, dir := range []string{s.cfg.MusicDir, s.cfg.CoversDir} {
		entries, err := lister.List(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, e := range entries {
			if referenced[e.Path] || s.isDefaultCover(e.Path) || e.ModTime.After(cutoff) {
				continue
			}
			out = append(out, e.Path)
		}
	}
	return out, nil
}
