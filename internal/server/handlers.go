package server

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"

	"melodycloud/internal/media"

	"github.com/sirupsen/logrus"
)

// maxDeleteBody bounds delete request bodies.
const maxDeleteBody = 4 << 10

// staticHandler serves the site root. The catalog document is served from
// here like any other asset.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(s.config.Server.SiteRoot))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
			return
		}
		// Dotfiles include in-flight uploads and .env.
		for _, part := range strings.Split(path.Clean(r.URL.Path), "/") {
			if strings.HasPrefix(part, ".") {
				http.NotFound(w, r)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}

// handleGetTracks returns the catalog. An unreadable document reads as empty.
func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.respondJSON(w, http.StatusOK, s.library.Catalog().Load())
}

// handleDeleteTrack removes one track given {"track_id": "..."}.
func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondWithFailure(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var input struct {
		TrackID *string `json:"track_id"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxDeleteBody)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.TrackID == nil {
		s.respondWithFailure(w, r, http.StatusBadRequest, "Invalid input", err)
		return
	}

	trackID, verr := validateTrackID(*input.TrackID)
	if verr != nil {
		s.respondWithFailure(w, r, http.StatusBadRequest, verr.Message, verr)
		return
	}

	if err := s.library.Delete(r.Context(), trackID); err != nil {
		status, message := statusForError(err)
		s.respondWithFailure(w, r, status, message, err)
		return
	}

	entry := s.logger.WithField("track_id", trackID)
	if session := sessionFromContext(r); session != nil {
		entry = entry.WithField("username", session.Username)
	}
	entry.Info("Delete accepted")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Track deleted successfully",
	})
}

// ConfigResponse is the public configuration the admin page reads.
type ConfigResponse struct {
	MaxAudioBytes int64    `json:"max_audio_bytes"`
	MaxCoverBytes int64    `json:"max_cover_bytes"`
	AudioTypes    []string `json:"audio_types"`
	CoverTypes    []string `json:"cover_types"`
	DefaultCover  string   `json:"default_cover"`
}

// handleGetConfig returns upload limits so the form can check before sending.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}
	s.respondJSON(w, http.StatusOK, ConfigResponse{
		MaxAudioBytes: s.config.Uploads.MaxAudioBytes,
		MaxCoverBytes: s.config.Uploads.MaxCoverBytes,
		AudioTypes:    []string{media.TypeMP3},
		CoverTypes:    []string{media.TypeJPEG, media.TypePNG},
		DefaultCover:  s.library.DefaultCover(),
	})
}

// handleGetEvents returns recent audit journal entries.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}
	if s.journal == nil {
		s.respondWithError(w, r, http.StatusNotFound, "Audit journal is disabled", nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.respondWithError(w, r, http.StatusBadRequest, "limit must be between 1 and 500", err)
			return
		}
		limit = n
	}

	events, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to read audit journal", err)
		return
	}
	s.logger.WithFields(logrus.Fields{"count": len(events)}).Debug("Audit events listed")
	s.respondJSON(w, http.StatusOK, events)
}
