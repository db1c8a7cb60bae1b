package server

import (
	"errors"
	"mime/multipart"
	"net/http"

	"melodycloud/internal/library"

	"github.com/sirupsen/logrus"
)

// multipartMemory is how much of a form is held in memory before file
// parts spill to temporary files.
const multipartMemory = 8 << 20

// Accepted form field names, current first.
var (
	audioFields       = []string{"track", "audio"}
	coverFields       = []string{"cover", "image"}
	descriptionFields = []string{"description", "song_description"}
)

// handleUpload stores a new track from a multipart form.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondWithError(w, r, http.StatusBadRequest, "Upload exceeds the maximum request size", err)
			return
		}
		s.respondWithError(w, r, http.StatusBadRequest, "Failed to parse upload form", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	audio, closeAudio := formPayload(r, audioFields)
	defer closeAudio()
	cover, closeCover := formPayload(r, coverFields)
	defer closeCover()

	req := library.UploadRequest{
		Audio:       audio,
		Cover:       cover,
		Title:       r.FormValue("title"),
		Artist:      r.FormValue("artist"),
		Description: firstFormValue(r, descriptionFields),
	}

	track, err := s.library.Upload(r.Context(), req)
	if err != nil {
		status, message := statusForError(err)
		s.respondWithError(w, r, status, message, err)
		return
	}

	entry := s.logger.WithField("track_id", track.ID)
	if session := sessionFromContext(r); session != nil {
		entry = entry.WithField("username", session.Username)
	}
	entry.WithFields(logrus.Fields{
		"title":  track.Title,
		"artist": track.Artist,
	}).Info("Upload accepted")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Upload successful",
		"track":   track,
	})
}

// formPayload returns the first non-empty file among fields, or nil. The
// returned func closes it.
func formPayload(r *http.Request, fields []string) (*library.Payload, func()) {
	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		if header.Size == 0 {
			file.Close()
			continue
		}
		return payloadFrom(file, header), func() { file.Close() }
	}
	return nil, func() {}
}

func payloadFrom(file multipart.File, header *multipart.FileHeader) *library.Payload {
	return &library.Payload{
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	}
}

func firstFormValue(r *http.Request, fields []string) string {
	for _, field := range fields {
		if v := r.FormValue(field); v != "" {
			return v
		}
	}
	return ""
}
