// Package auth guards the catalog mutations behind an admin login. There
// is a single admin account whose bcrypt hash comes from the environment.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"melodycloud/internal/cache"
	"melodycloud/internal/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Errors returned by Guard.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrUnauthorized       = errors.New("authentication required")
	ErrLoginDisabled      = errors.New("admin login is not configured")
)

// Failed logins are slowed by a random delay in this range.
const (
	minFailureDelay = 200 * time.Millisecond
	maxFailureDelay = 500 * time.Millisecond
)

// Client identifies the caller a session is bound to.
type Client struct {
	IP        string
	UserAgent string
}

// ClientFromRequest derives the client identity from the connection.
func ClientFromRequest(r *http.Request) Client {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return Client{IP: ip, UserAgent: r.UserAgent()}
}

// Guard decides whether a caller may mutate the catalog.
type Guard struct {
	username     string
	passwordHash string
	bindClient   bool
	sessions     *SessionManager
	limiters     *cache.MemoryCache[*rate.Limiter]
	limit        rate.Limit
	burst        int
	logger       *logrus.Logger
	sleep        func(ctx context.Context, d time.Duration)
}

// NewGuard creates a guard from the auth configuration. A missing or
// malformed password hash leaves the guard running with login disabled.
func NewGuard(cfg config.AuthConfig, ttl time.Duration, logger *logrus.Logger) *Guard {
	if logger == nil {
		logger = logrus.New()
	}

	g := &Guard{
		username:   cfg.Username,
		bindClient: cfg.BindClient,
		sessions:   NewSessionManager(ttl, cfg.SecureCookies),
		limiters:   cache.NewMemoryCache[*rate.Limiter](10*time.Minute, 5*time.Minute),
		limit:      rate.Limit(float64(cfg.LoginPerMinute) / 60),
		burst:      cfg.LoginBurst,
		logger:     logger,
		sleep:      sleepContext,
	}
	if g.username == "" {
		g.username = config.DefaultAdminUsername
	}

	if err := validateHash(cfg.PasswordHash); err != nil {
		logger.WithError(err).Error("Admin login disabled; set " + config.EnvAdminPasswordHash)
	} else {
		g.passwordHash = cfg.PasswordHash
	}
	return g
}

// Enabled reports whether a usable password hash is configured.
func (g *Guard) Enabled() bool {
	return g.passwordHash != ""
}

// Sessions returns the session manager, for cookie handling.
func (g *Guard) Sessions() *SessionManager {
	return g.sessions
}

// Login checks the credentials and opens a session for client.
func (g *Guard) Login(ctx context.Context, username, password string, client Client) (*Session, error) {
	entry := g.logger.WithFields(logrus.Fields{"username": username, "client_ip": client.IP})

	limiter := g.limiters.GetOrSet(client.IP, func() *rate.Limiter {
		return rate.NewLimiter(g.limit, g.burst)
	})
	if !limiter.Allow() {
		entry.Warn("Login rate limited")
		return nil, ErrRateLimited
	}

	if !g.Enabled() {
		g.fail(ctx)
		return nil, ErrLoginDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := checkPassword(g.passwordHash, password)
	if !userOK || !passOK {
		entry.Warn("Failed admin login")
		g.fail(ctx)
		return nil, ErrInvalidCredentials
	}

	session, err := g.sessions.CreateSession(g.username, client.IP, client.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	entry.Info("Admin logged in")
	return session, nil
}

// Authorize returns the session carried by r. A session presented from a
// different client than the one that opened it is destroyed.
func (g *Guard) Authorize(r *http.Request) (*Session, error) {
	session, ok := g.sessions.GetSession(SessionID(r))
	if !ok {
		return nil, ErrUnauthorized
	}

	if g.bindClient {
		client := ClientFromRequest(r)
		if session.ClientIP != client.IP || session.UserAgent != client.UserAgent {
			g.logger.WithFields(logrus.Fields{
				"username":   session.Username,
				"client_ip":  client.IP,
				"session_ip": session.ClientIP,
			}).Warn("Session presented from another client, revoking")
			g.sessions.DeleteSession(session.ID)
			return nil, ErrUnauthorized
		}
	}
	return session, nil
}

// Logout ends the session carried by r, if any.
func (g *Guard) Logout(r *http.Request) {
	if id := SessionID(r); id != "" {
		g.sessions.DeleteSession(id)
	}
}

// Close stops background sweepers.
func (g *Guard) Close() {
	g.sessions.Close()
	g.limiters.Close()
}

func (g *Guard) fail(ctx context.Context) {
	spread := int64(maxFailureDelay - minFailureDelay)
	g.sleep(ctx, minFailureDelay+time.Duration(rand.Int64N(spread)))
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// IsAuthError reports whether err should be answered with 403.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrLoginDisabled)
}
