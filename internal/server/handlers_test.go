package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"melodycloud/internal/auth"
	"melodycloud/internal/catalog"
	"melodycloud/internal/config"
	"melodycloud/internal/content"
	"melodycloud/internal/library"
	"melodycloud/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUser     = "admin"
	testPassword = "correct horse"
	testClientIP = "192.0.2.10"
	testUA       = "melodycloud-test"
)

type testEnv struct {
	cfg     *config.Config
	handler http.Handler
	store   *catalog.Store
	cookie  *http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Server.SiteRoot = t.TempDir()
	cfg.Logging.RequestLogging = false
	cfg.Auth.Username = testUser
	cfg.Auth.PasswordHash = string(hash)

	defaultCover := cfg.SitePath(cfg.Catalog.DefaultCover)
	if err := os.MkdirAll(filepath.Dir(defaultCover), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(defaultCover, []byte("\x89PNG\r\n\x1a\n"), 0644); err != nil {
		t.Fatal(err)
	}

	store := catalog.New(cfg.SitePath(cfg.Catalog.DocumentPath), logger)
	svc := library.NewService(library.Config{
		MusicDir:      cfg.Catalog.MusicDir,
		CoversDir:     cfg.Catalog.CoversDir,
		DefaultCover:  cfg.Catalog.DefaultCover,
		MaxAudioBytes: cfg.Uploads.MaxAudioBytes,
		MaxCoverBytes: cfg.Uploads.MaxCoverBytes,
	}, store, content.NewLocal(cfg.Server.SiteRoot), logger)

	guard := auth.NewGuard(cfg.Auth, time.Hour, logger)
	t.Cleanup(guard.Close)

	srv := New(cfg, Deps{Library: svc, Guard: guard}, logger)
	return &testEnv{cfg: cfg, handler: srv.Handler(), store: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = testClientIP + ":40000"
	req.Header.Set("User-Agent", testUA)
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	body := `{"username":"` + testUser + `","password":"` + testPassword + `"}`
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Login failed with %d: %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			e.cookie = c
		}
	}
	if e.cookie == nil {
		t.Fatal("Expected session cookie")
	}
}

func uploadRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, data := range files {
		fw, err := mw.CreateFormFile(field, field+".bin")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func mp3Data(size int) []byte {
	b := make([]byte, size)
	copy(b, "ID3\x03\x00\x00\x00\x00\x00\x00")
	return b
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestUploadRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(uploadRequest(t, nil, map[string][]byte{"track": mp3Data(1024)}))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Unauthorized" {
		t.Errorf("Unexpected body %v", body)
	}
	if n := len(env.store.Load()); n != 0 {
		t.Errorf("Expected empty catalog, got %d tracks", n)
	}
}

func TestDeleteRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/tracks/delete", strings.NewReader(`{"track_id":"x"}`)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["message"] != "Unauthorized" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestSessionBoundToClient(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	req := uploadRequest(t, nil, map[string][]byte{"track": mp3Data(1024)})
	req.AddCookie(env.cookie)
	req.RemoteAddr = "198.51.100.7:1234"
	req.Header.Set("User-Agent", testUA)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 from another client, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	t.Run("WrongPassword", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"admin","password":"nope"}`)))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"admin"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Run("FormRedirects", func(t *testing.T) {
		env := newTestEnv(t)
		form := url.Values{"username": {testUser}, "password": {testPassword}}
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := env.do(req)
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin.html" {
			t.Errorf("Expected redirect to admin page, got %d %s", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/login", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", rec.Code)
		}
	})

	t.Run("Logout", func(t *testing.T) {
		env := newTestEnv(t)
		env.login(t)
		if rec := env.do(httptest.NewRequest(http.MethodPost, "/api/logout", nil)); rec.Code != http.StatusOK {
			t.Fatalf("Logout failed with %d", rec.Code)
		}
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/session", nil))
		if body := decodeBody(t, rec); body["authenticated"] != false {
			t.Errorf("Expected session to be gone, got %v", body)
		}
	})
}

func TestUploadAndDelete(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(uploadRequest(t,
		map[string]string{"title": "Night Drive", "artist": "DJ Test", "song_description": "late"},
		map[string][]byte{"audio": mp3Data(3 * 1024 * 1024)},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("Upload failed with %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Success bool         `json:"success"`
		Track   models.Track `json:"track"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Invalid upload response: %v", err)
	}
	if !created.Success || created.Track.Cover != env.cfg.Catalog.DefaultCover || created.Track.Description != "late" {
		t.Errorf("Unexpected upload response %+v", created)
	}

	// The catalog is public and served as a static file.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/"+env.cfg.Catalog.DocumentPath, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), created.Track.ID) {
		t.Errorf("Expected catalog document to list the track, got %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/"+created.Track.URL, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected audio file to be served, got %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/tracks/delete", strings.NewReader(`{"track_id":"`+created.Track.ID+`"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Delete failed with %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["success"] != true {
		t.Errorf("Unexpected delete body %v", body)
	}

	if n := len(env.store.Load()); n != 0 {
		t.Errorf("Expected empty catalog, got %d tracks", n)
	}
	if _, err := os.Stat(env.cfg.SitePath(env.cfg.Catalog.DefaultCover)); err != nil {
		t.Errorf("Expected default cover to survive: %v", err)
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	tests := []struct {
		name       string
		files      map[string][]byte
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing audio",
			files:      nil,
			wantStatus: http.StatusBadRequest,
			wantError:  "Audio file is required",
		},
		{
			name:       "not mp3",
			files:      map[string][]byte{"track": []byte("plain text pretending")},
			wantStatus: http.StatusBadRequest,
			wantError:  "Only MP3 allowed",
		},
		{
			name:       "audio too large",
			files:      map[string][]byte{"track": mp3Data(12 * 1024 * 1024)},
			wantStatus: http.StatusBadRequest,
			wantError:  "at most 10MB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(uploadRequest(t, map[string]string{"title": "x"}, tt.files))
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			msg, _ := body["error"].(string)
			if !strings.Contains(msg, tt.wantError) {
				t.Errorf("Expected error containing %q, got %q", tt.wantError, msg)
			}
		})
	}

	if n := len(env.store.Load()); n != 0 {
		t.Errorf("Expected catalog unchanged, got %d tracks", n)
	}
}

func TestDeleteErrors(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	seed := []models.Track{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if err := env.store.Save(seed); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"unknown id", http.MethodPost, `{"track_id":"zzz"}`, http.StatusNotFound},
		{"missing id", http.MethodPost, `{}`, http.StatusBadRequest},
		{"empty id", http.MethodPost, `{"track_id":""}`, http.StatusBadRequest},
		{"padded id", http.MethodPost, `{"track_id":" a "}`, http.StatusBadRequest},
		{"not json", http.MethodPost, `track_id=a`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(tt.method, "/api/tracks/delete", strings.NewReader(tt.body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if body := decodeBody(t, rec); body["success"] != false {
				t.Errorf("Expected success=false, got %v", body)
			}
		})
	}

	if n := len(env.store.Load()); n != 3 {
		t.Errorf("Expected 3 tracks to remain, got %d", n)
	}
}

func TestHealthAndTracks(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.Save([]models.Track{{ID: "a", Title: "One"}}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected healthy, got %d: %s", rec.Code, rec.Body.String())
	}
	var health HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Tracks != 1 || health.Catalog != "ok" || !health.Login {
		t.Errorf("Unexpected health %+v", health)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/tracks", nil))
	var tracks []models.Track
	if err := json.Unmarshal(rec.Body.Bytes(), &tracks); err != nil || len(tracks) != 1 {
		t.Errorf("Unexpected tracks response %s", rec.Body.String())
	}

	if err := os.WriteFile(env.store.Path(), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for a corrupt catalog, got %d", rec.Code)
	}
}

func TestStaticHidesDotfiles(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.cfg.Server.SiteRoot, ".env"), []byte("SECRET=1"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := env.do(httptest.NewRequest(http.MethodGet, "/.env", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for dotfile, got %d", rec.Code)
	}
}
