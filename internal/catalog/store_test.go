package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"melodycloud/pkg/models"

	"github.com/sirupsen/logrus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(filepath.Join(t.TempDir(), "music", "tracks.json"), logger)
}

func TestLoad(t *testing.T) {
	t.Run("MissingDocument", func(t *testing.T) {
		s := newTestStore(t)
		if tracks := s.Load(); len(tracks) != 0 || tracks == nil {
			t.Errorf("Expected empty non-nil catalog, got %#v", tracks)
		}
	})

	t.Run("MalformedDocument", func(t *testing.T) {
		s := newTestStore(t)
		writeRaw(t, s, "{broken")

		if tracks := s.Load(); len(tracks) != 0 {
			t.Errorf("Expected empty catalog, got %d tracks", len(tracks))
		}
		if _, err := s.Read(); !errors.Is(err, ErrPersistence) {
			t.Errorf("Expected ErrPersistence from Read, got %v", err)
		}
	})

	t.Run("EmptyAndNull", func(t *testing.T) {
		for _, raw := range []string{"", "  \n", "null"} {
			s := newTestStore(t)
			writeRaw(t, s, raw)
			tracks, err := s.Read()
			if err != nil {
				t.Fatalf("Read(%q) failed: %v", raw, err)
			}
			if len(tracks) != 0 {
				t.Errorf("Read(%q) returned %d tracks", raw, len(tracks))
			}
		}
	})
}

func TestSaveFormat(t *testing.T) {
	s := newTestStore(t)
	tracks := []models.Track{{
		ID:          "abc",
		Title:       "Tom & Jerry <live>",
		Artist:      "Ünïcode",
		Description: "",
		URL:         "assets/uploads/music/track_abc.mp3",
		Cover:       "assets/images/default-cover.png",
		UploadDate:  "2024-05-01 10:00:00",
	}}
	if err := s.Save(tracks); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("Failed to read document: %v", err)
	}
	text := string(data)

	for _, want := range []string{
		"\n    {\n        \"id\": \"abc\"",
		`"url": "assets/uploads/music/track_abc.mp3"`,
		`Tom & Jerry <live>`,
		`Ünïcode`,
		`"upload_date": "2024-05-01 10:00:00"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected document to contain %q, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "duration") {
		t.Error("Expected unknown duration to be omitted")
	}

	got, err := s.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 || got[0] != tracks[0] {
		t.Errorf("Round trip mismatch: %+v", got)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), ".catalog-*"))
	if len(leftovers) != 0 {
		t.Errorf("Expected no temporary files, found %v", leftovers)
	}
}

func TestUpdate(t *testing.T) {
	t.Run("ErrorLeavesDocument", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.Save([]models.Track{{ID: "one"}}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		boom := errors.New("boom")
		err := s.Update(func(tracks []models.Track) ([]models.Track, error) {
			return nil, boom
		})
		if err != boom {
			t.Fatalf("Expected fn error to be returned as is, got %v", err)
		}
		if tracks := s.Load(); len(tracks) != 1 {
			t.Errorf("Expected document untouched, got %d tracks", len(tracks))
		}
	})

	t.Run("LenientPreservesMalformed", func(t *testing.T) {
		s := newTestStore(t)
		writeRaw(t, s, "[{oops")

		err := s.Update(func(tracks []models.Track) ([]models.Track, error) {
			return append(tracks, models.Track{ID: "fresh"}), nil
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if tracks := s.Load(); len(tracks) != 1 || tracks[0].ID != "fresh" {
			t.Errorf("Unexpected catalog: %+v", tracks)
		}

		backups, _ := filepath.Glob(s.Path() + ".corrupt-*")
		if len(backups) != 1 {
			t.Fatalf("Expected one backup of the malformed document, found %v", backups)
		}
		data, _ := os.ReadFile(backups[0])
		if string(data) != "[{oops" {
			t.Errorf("Backup content mismatch: %q", data)
		}
	})

	t.Run("UnreadableDocumentAborts", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("file permissions do not apply to root")
		}
		s := newTestStore(t)
		writeRaw(t, s, `[{"id":"one"},{"id":"two"}]`)
		if err := os.Chmod(s.Path(), 0); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { os.Chmod(s.Path(), 0644) })

		called := false
		err := s.Update(func(tracks []models.Track) ([]models.Track, error) {
			called = true
			return append(tracks, models.Track{ID: "fresh"}), nil
		})
		if !errors.Is(err, ErrPersistence) {
			t.Fatalf("Expected ErrPersistence, got %v", err)
		}
		if called {
			t.Error("Expected fn not to run")
		}

		if err := os.Chmod(s.Path(), 0644); err != nil {
			t.Fatal(err)
		}
		tracks, err := s.Read()
		if err != nil || len(tracks) != 2 {
			t.Errorf("Expected document untouched, got %d tracks (%v)", len(tracks), err)
		}
	})

	t.Run("StrictRefusesMalformed", func(t *testing.T) {
		s := newTestStore(t)
		writeRaw(t, s, "[{oops")

		called := false
		err := s.UpdateStrict(func(tracks []models.Track) ([]models.Track, error) {
			called = true
			return tracks, nil
		})
		if !errors.Is(err, ErrPersistence) {
			t.Fatalf("Expected ErrPersistence, got %v", err)
		}
		if called {
			t.Error("Expected fn not to run")
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := newTestStore(t)
		const writers = 20

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.Update(func(tracks []models.Track) ([]models.Track, error) {
					return append(tracks, models.Track{ID: string(rune('a' + i))}), nil
				})
				if err != nil {
					t.Errorf("Update failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if tracks := s.Load(); len(tracks) != writers {
			t.Errorf("Expected %d tracks, got %d", writers, len(tracks))
		}
	})
}

func writeRaw(t *testing.T, s *Store, raw string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}
}
