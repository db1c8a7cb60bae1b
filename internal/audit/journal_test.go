package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestJournal(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dbPath := filepath.Join(t.TempDir(), "audit.db")
	j, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()

	t.Run("RecordAndRecent", func(t *testing.T) {
		entries := []struct{ kind, id, detail string }{
			{"upload", "t1", "assets/uploads/music/track_1.mp3"},
			{"rollback_failed", "", "assets/uploads/covers/cover_1.png"},
			{"delete", "t1", "assets/uploads/music/track_1.mp3"},
		}
		for _, e := range entries {
			if err := j.Record(ctx, e.kind, e.id, e.detail); err != nil {
				t.Fatalf("Failed to record %s: %v", e.kind, err)
			}
		}

		events, err := j.Recent(ctx, 2)
		if err != nil {
			t.Fatalf("Failed to read events: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("Expected 2 events, got %d", len(events))
		}
		if events[0].Kind != "delete" || events[1].Kind != "rollback_failed" {
			t.Errorf("Expected newest first, got %s, %s", events[0].Kind, events[1].Kind)
		}
		if events[1].TrackID != "" || events[1].Detail != entries[1].detail {
			t.Errorf("Unexpected event %+v", events[1])
		}
		if events[0].CreatedAt.IsZero() {
			t.Error("Expected timestamp to be set")
		}
	})

	t.Run("Reopen", func(t *testing.T) {
		again, err := Open(dbPath, logger)
		if err != nil {
			t.Fatalf("Failed to reopen journal: %v", err)
		}
		defer again.Close()

		events, err := again.Recent(ctx, 0)
		if err != nil {
			t.Fatalf("Failed to read events: %v", err)
		}
		if len(events) != 3 {
			t.Errorf("Expected 3 persisted events, got %d", len(events))
		}
	})
}
