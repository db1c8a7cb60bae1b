package watcher

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"melodycloud/internal/catalog"
	"melodycloud/internal/library"
	"melodycloud/pkg/models"

	"github.com/sirupsen/logrus"
)

func TestDanglingReferences(t *testing.T) {
	tracks := []models.Track{
		{ID: "1", URL: "music/a.mp3", Cover: "images/default.png"},
		{ID: "2", URL: "music/b.mp3", Cover: "covers/b.png"},
	}

	tests := []struct {
		name    string
		removed []string
		want    []string
	}{
		{"nothing removed", nil, []string{}},
		{"unreferenced file", []string{"music/stray.mp3"}, []string{}},
		{"audio and cover", []string{"covers/b.png", "music/a.mp3"}, []string{"covers/b.png", "music/a.mp3"}},
		{"shared cover", []string{"images/default.png"}, []string{"images/default.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			removed := make(map[string]bool)
			for _, p := range tt.removed {
				removed[p] = true
			}
			if got := DanglingReferences(tracks, removed); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

type countingPruner struct {
	calls chan bool
}

func (p *countingPruner) Prune(_ context.Context, dryRun bool) (*library.PruneReport, error) {
	p.calls <- dryRun
	return &library.PruneReport{}, nil
}

func TestWatcherDetectsRemovedMedia(t *testing.T) {
	root := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store := catalog.New(filepath.Join(root, "music", "tracks.json"), logger)
	audio := filepath.Join(root, "uploads", "music", "a.mp3")
	if err := os.MkdirAll(filepath.Dir(audio), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(audio, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := store.Save([]models.Track{{ID: "1", URL: "uploads/music/a.mp3"}}); err != nil {
		t.Fatal(err)
	}

	pruner := &countingPruner{calls: make(chan bool, 1)}
	w := New(Options{
		SiteRoot:  root,
		Dirs:      []string{"uploads/music", "uploads/covers"},
		Debounce:  20 * time.Millisecond,
		AutoPrune: true,
	}, store, pruner, logger)

	checks := make(chan []string, 4)
	w.onCheck = func(dangling []string) { checks <- dangling }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Close()

	if err := os.Remove(audio); err != nil {
		t.Fatal(err)
	}

	select {
	case dangling := <-checks:
		if !reflect.DeepEqual(dangling, []string{"uploads/music/a.mp3"}) {
			t.Errorf("Unexpected dangling references %v", dangling)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for watcher check")
	}

	select {
	case dryRun := <-pruner.calls:
		if dryRun {
			t.Error("Expected a real prune")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected automatic prune")
	}
}
