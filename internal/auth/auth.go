// Package auth gates filesystem access behind an authenticated session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/credentials"
	"github.com/fruitsalade/filemanager/internal/errs"
	"github.com/fruitsalade/filemanager/internal/logging"
	"github.com/fruitsalade/filemanager/internal/metrics"
	"github.com/fruitsalade/filemanager/internal/sandbox"
	"github.com/fruitsalade/filemanager/internal/session"
)

// Identity is the authenticated user of a request together with the root
// every path of that request is confined to.
type Identity struct {
	User *credentials.User
	Root sandbox.Root
}

// Authenticator binds credential checks to sessions.
type Authenticator struct {
	users    *credentials.Store
	sessions *session.Manager
}

// New creates an Authenticator.
func New(users *credentials.Store, sessions *session.Manager) *Authenticator {
	return &Authenticator{users: users, sessions: sessions}
}

// Login verifies the credentials and, on success, rotates the session ID and
// binds the session to username. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (a *Authenticator) Login(ctx context.Context, w http.ResponseWriter, sess *session.Session, username, password string) error {
	if !a.users.Verify(ctx, username, password) {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(ctx).Warn("login failed", zap.String("username", username))
		return errs.ErrInvalidCredentials
	}
	metrics.RecordAuthAttempt(true)

	if err := a.establish(ctx, w, sess, username); err != nil {
		return err
	}
	logging.WithContext(ctx).Info("login", zap.String("username", username))
	return nil
}

// Register creates the user and authenticates the session as them.
func (a *Authenticator) Register(ctx context.Context, w http.ResponseWriter, sess *session.Session, username, password string) error {
	if _, err := a.users.Register(ctx, username, password); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			logging.WithContext(ctx).Warn("register rejected, user exists", zap.String("username", username))
		}
		return err
	}
	return a.establish(ctx, w, sess, username)
}

func (a *Authenticator) establish(ctx context.Context, w http.ResponseWriter, sess *session.Session, username string) error {
	if err := a.sessions.Rotate(ctx, sess); err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	sess.Bind(username)
	if err := a.sessions.Save(ctx, w, sess); err != nil {
		return err
	}
	return nil
}

// Logout destroys the session.
func (a *Authenticator) Logout(ctx context.Context, w http.ResponseWriter, sess *session.Session) error {
	username := sess.Username
	if err := a.sessions.Destroy(ctx, w, sess); err != nil {
		return err
	}
	if username != "" {
		logging.WithContext(ctx).Info("logout", zap.String("username", username))
	}
	return nil
}

// RequireAuthenticated returns the identity of an authenticated session or
// errs.ErrUnauthenticated. A session naming a user that no longer exists is
// destroyed.
func (a *Authenticator) RequireAuthenticated(ctx context.Context, w http.ResponseWriter, sess *session.Session) (*Identity, error) {
	if sess == nil || !sess.Authenticated || sess.Username == "" {
		return nil, errs.ErrUnauthenticated
	}

	u, err := a.users.Lookup(ctx, sess.Username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			logging.WithContext(ctx).Warn("session names unknown user, destroying",
				zap.String("username", sess.Username))
			if derr := a.sessions.Destroy(ctx, w, sess); derr != nil {
				logging.WithContext(ctx).Error("destroy stale session", zap.Error(derr))
			}
			return nil, errs.ErrUnauthenticated
		}
		return nil, err
	}

	root, err := a.users.Root(ctx, u.Username)
	if err != nil {
		return nil, fmt.Errorf("open root for %s: %w", u.Username, err)
	}
	return &Identity{User: u, Root: root}, nil
}
