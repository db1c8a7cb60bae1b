package server

import (
	"net/http"
	"os"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Catalog   string                 `json:"catalog"`
	Storage   string                 `json:"storage"`
	Journal   string                 `json:"journal"`
	Tracks    int                    `json:"trackCount"`
	Login     bool                   `json:"adminLogin"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Catalog:   "ok",
		Storage:   "ok",
		Journal:   "disabled",
		Login:     s.guard.Enabled(),
		Details:   make(map[string]interface{}),
	}

	tracks, err := s.library.Catalog().Read()
	if err != nil {
		health.Status = "unhealthy"
		health.Catalog = "error"
		health.Details["catalog_error"] = err.Error()
	} else {
		health.Tracks = len(tracks)
	}

	if err := s.checkStorageHealth(); err != nil {
		health.Status = "unhealthy"
		health.Storage = "error"
		health.Details["storage_error"] = err.Error()
	}

	if s.journal != nil {
		health.Journal = "ok"
		if _, err := s.journal.Recent(r.Context(), 1); err != nil {
			health.Journal = "error"
			health.Details["journal_error"] = err.Error()
		}
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, health)
}

// checkStorageHealth verifies the content directories are usable. A
// directory that does not exist yet is created by the first upload.
func (s *Server) checkStorageHealth() error {
	for _, dir := range []string{s.config.Catalog.MusicDir, s.config.Catalog.CoversDir} {
		info, err := os.Stat(s.config.SitePath(dir))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return &os.PathError{Op: "stat", Path: dir, Err: os.ErrInvalid}
		}
	}
	return nil
}
