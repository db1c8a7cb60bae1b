package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"melodycloud/internal/auth"
)

type contextKey string

const sessionContextKey contextKey = "session"

// maxLoginBody bounds login request bodies.
const maxLoginBody = 16 << 10

func withSession(ctx context.Context, session *auth.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// isBrowserRequest reports whether the login came from a plain HTML form,
// which expects redirects instead of JSON.
func isBrowserRequest(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

// handleLogin accepts either a JSON body or an HTML form.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
	browser := isBrowserRequest(r)

	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if browser {
		if err := r.ParseForm(); err != nil {
			s.respondWithError(w, r, http.StatusBadRequest, "Invalid form", err)
			return
		}
		credentials.Username = r.PostFormValue("username")
		credentials.Password = r.PostFormValue("password")
	} else if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	username := sanitizeInput(credentials.Username)
	if username == "" || credentials.Password == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "Username and password are required", nil)
		return
	}

	// A login replaces any session the client already holds.
	s.guard.Logout(r)

	session, err := s.guard.Login(r.Context(), username, credentials.Password, auth.ClientFromRequest(r))
	if err != nil {
		status, message := http.StatusUnauthorized, "Invalid credentials"
		if errors.Is(err, auth.ErrRateLimited) {
			status, message = http.StatusTooManyRequests, "Too many login attempts"
		}
		if browser && status == http.StatusUnauthorized {
			http.Redirect(w, r, "/login.html?error=1", http.StatusSeeOther)
			return
		}
		s.respondWithError(w, r, status, message, err)
		return
	}

	s.guard.Sessions().SetSessionCookie(w, session)

	if browser {
		http.Redirect(w, r, "/admin.html", http.StatusSeeOther)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"username":   session.Username,
		"expires_at": session.ExpiresAt,
	})
}

// handleLogout ends the caller's session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}

	if session, err := s.guard.Authorize(r); err == nil {
		s.logger.WithField("username", session.Username).Info("Admin logged out")
	}
	s.guard.Logout(r)
	s.guard.Sessions().ClearSessionCookie(w)

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/login.html", http.StatusSeeOther)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSessionStatus lets the admin page check whether it is logged in.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}

	session, err := s.guard.Authorize(r)
	if err != nil {
		s.respondJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"username":      session.Username,
		"expires_at":    session.ExpiresAt,
	})
}
