package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"melodycloud/internal/library"

	"github.com/sirupsen/logrus"
)

// maxTrackIDLength bounds client-supplied identifiers.
const maxTrackIDLength = 128

// ValidationError represents a request validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// errorResponder writes an error in one endpoint's response shape.
type errorResponder func(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error)

// respondJSON writes v with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

// logFailure logs a failed request at a level matching its status.
func (s *Server) logFailure(r *http.Request, statusCode int, message string, err error) {
	logEntry := s.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})
	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}
}

// respondWithError sends {"error": message}.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	s.logFailure(r, statusCode, message, err)
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error": message,
	})
}

// respondWithFailure sends {"success": false, "message": message}.
func (s *Server) respondWithFailure(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	s.logFailure(r, statusCode, message, err)
	s.respondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// statusForError classifies a library error. The message is safe to show
// to clients.
func statusForError(err error) (int, string) {
	var ve *library.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound, "Track not found"
	case errors.Is(err, library.ErrStorageWrite):
		return http.StatusInternalServerError, "Failed to save uploaded file"
	case errors.Is(err, library.ErrPersistence):
		return http.StatusInternalServerError, "Failed to update tracks data"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// validateTrackID checks a client-supplied track identifier. Ids are
// matched exactly, so nothing is trimmed.
func validateTrackID(id string) (string, *ValidationError) {
	if strings.TrimSpace(id) == "" {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID is required",
			Code:    "MISSING_TRACK_ID",
		}
	}

	if len(id) > maxTrackIDLength {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID too long",
			Code:    "TRACK_ID_TOO_LONG",
		}
	}

	if strings.TrimSpace(id) != id {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID must not have surrounding whitespace",
			Code:    "TRACK_ID_WHITESPACE",
		}
	}

	if !utf8.ValidString(id) || strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID contains invalid characters",
			Code:    "INVALID_TRACK_ID_CHARACTERS",
		}
	}

	return id, nil
}

// sanitizeInput strips null bytes and surrounding whitespace from credentials.
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
