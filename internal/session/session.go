// Package session keeps per-client authentication state in a server-side
// store keyed by an opaque cookie token.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/errs"
	"github.com/fruitsalade/filemanager/internal/logging"
)

// Session is the request-scoped identity of one client. A zero ID means the
// session has never been persisted.
type Session struct {
	ID            string    `json:"-"`
	Authenticated bool      `json:"authenticated"`
	Username      string    `json:"username,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Bind marks the session authenticated as username.
func (s *Session) Bind(username string) {
	s.Authenticated = true
	s.Username = username
}

// Clear drops the authenticated state and identity.
func (s *Session) Clear() {
	s.Authenticated = false
	s.Username = ""
}

// Store persists sessions by ID. Get returns errs.ErrNotFound for missing or
// expired sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Type() string
}

// Options configures the session cookie.
type Options struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Manager loads and saves sessions through a Store and a cookie.
type Manager struct {
	store Store
	opts  Options
}

// NewManager creates a Manager. Zero options fall back to defaults.
func NewManager(store Store, opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "fm_session"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Manager{store: store, opts: opts}
}

// Load returns the session named by the request cookie, or a fresh
// unauthenticated session if there is none or it has expired.
func (m *Manager) Load(r *http.Request) *Session {
	c, err := r.Cookie(m.opts.CookieName)
	if err != nil || c.Value == "" {
		return &Session{CreatedAt: time.Now()}
	}
	s, err := m.store.Get(r.Context(), c.Value)
	if err != nil {
		if !isNotFound(err) {
			logging.WithContext(r.Context()).Warn("session load failed", zap.Error(err))
		}
		return &Session{CreatedAt: time.Now()}
	}
	s.ID = c.Value
	return s
}

// Save persists s, assigning an ID if it has none, and sets the cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		s.ID = id
	}
	if err := m.store.Save(ctx, s, m.opts.TTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.opts.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Rotate replaces the session ID, deleting the old record. Call it before
// saving a session whose privilege changed.
func (m *Manager) Rotate(ctx context.Context, s *Session) error {
	if s.ID != "" {
		if err := m.store.Delete(ctx, s.ID); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete old session: %w", err)
		}
	}
	id, err := NewID()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

// Destroy deletes the session record and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	var err error
	if s.ID != "" {
		if derr := m.store.Delete(ctx, s.ID); derr != nil && !isNotFound(derr) {
			err = fmt.Errorf("delete session: %w", derr)
		}
	}
	s.ID = ""
	s.Clear()
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}

type contextKey string

const sessionKey contextKey = "session"

// Middleware loads the session for every request and stores it in the
// request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session stored by Middleware, or a fresh
// unauthenticated one.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok && s != nil {
		return s
	}
	return &Session{CreatedAt: time.Now()}
}

// NewID returns a 256-bit random session token in base64url form.
func NewID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
