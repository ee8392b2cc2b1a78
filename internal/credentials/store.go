// Package credentials registers users, stores their password hashes, and
// provisions each user's sandbox root.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/errs"
	"github.com/fruitsalade/filemanager/internal/logging"
	"github.com/fruitsalade/filemanager/internal/metrics"
	"github.com/fruitsalade/filemanager/internal/sandbox"
)

// User is a registered account. Users are immutable once created.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password"`
	// RootPath records where the root was provisioned at registration.
	// It is informational only: Store.Root always derives the root from
	// the current site directory, so relocating SITE_DIR keeps accounts
	// working.
	RootPath string `json:"root_path"`
}

// Backend persists one record per username.
type Backend interface {
	// Create stores u, failing with errs.ErrAlreadyExists if the username
	// is taken. Creation must be atomic with respect to concurrent Creates.
	Create(ctx context.Context, u *User) error

	// Get loads the record for username. Missing users yield errs.ErrNotFound.
	Get(ctx context.Context, username string) (*User, error)

	// Type returns the backend type identifier ("file", "postgres").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// maxPasswordBytes is bcrypt's input limit, applied to every scheme so a
// hasher switch never rejects an existing password.
const maxPasswordBytes = 72

// ValidateUsername reports whether username is non-empty and safe to use as
// a single directory name.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) || username == "." || username == ".." {
		return fmt.Errorf("username %q: %w", username, errs.ErrBadRequest)
	}
	return nil
}

// Store is the credential store: register, verify, exists.
type Store struct {
	backend Backend
	hasher  Hasher
	sites   *sandbox.Sites

	dummyOnce sync.Once
	dummy     string
}

// NewStore creates a Store.
func NewStore(backend Backend, hasher Hasher, sites *sandbox.Sites) *Store {
	return &Store{backend: backend, hasher: hasher, sites: sites}
}

// Register creates a user and provisions their root with a welcome file.
//
// The credential write and the provisioning step are not transactional. A
// crash between them leaves a credential without a root; Root re-provisions
// it on the next authenticated request.
func (s *Store) Register(ctx context.Context, username, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if password == "" || len(password) > maxPasswordBytes {
		return nil, fmt.Errorf("password length: %w", errs.ErrBadRequest)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username:     username,
		PasswordHash: hash,
		RootPath:     s.sites.PathFor(username),
	}
	if err := s.backend.Create(ctx, u); err != nil {
		metrics.RecordRegistration(false)
		return nil, err
	}

	if _, err := s.sites.Provision(username); err != nil {
		metrics.RecordRegistration(false)
		logging.Error("provision root failed after credential write",
			zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("provision root: %w", err)
	}

	metrics.RecordRegistration(true)
	logging.Info("user registered",
		zap.String("username", username),
		zap.String("backend", s.backend.Type()))
	return u, nil
}

// Verify reports whether password matches the stored hash for username.
// It fails closed: unknown users, unreadable records and unrecognised hash
// formats all return false.
func (s *Store) Verify(ctx context.Context, username, password string) bool {
	if ValidateUsername(username) != nil {
		return false
	}
	u, err := s.backend.Get(ctx, username)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			logging.Warn("credential lookup failed",
				zap.String("username", username), zap.Error(err))
		}
		// Burn one hash comparison so unknown users cost the same as
		// wrong passwords.
		s.hasher.Verify(password, s.dummyHash())
		return false
	}
	if u.PasswordHash == "" || !s.hasher.Handles(u.PasswordHash) {
		logging.Warn("credential record has no usable hash", zap.String("username", username))
		return false
	}
	return s.hasher.Verify(password, u.PasswordHash)
}

func (s *Store) dummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummy, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummy
}

// Exists reports whether a record for username exists.
func (s *Store) Exists(ctx context.Context, username string) bool {
	if ValidateUsername(username) != nil {
		return false
	}
	_, err := s.backend.Get(ctx, username)
	return err == nil
}

// Lookup returns the record for username.
func (s *Store) Lookup(ctx context.Context, username string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, errs.New("lookup", username, errs.ErrNotFound)
	}
	return s.backend.Get(ctx, username)
}

// Root returns the sandbox root of an existing user, re-provisioning it if
// the directory went missing. The root is derived from the site directory;
// the stored User.RootPath is not consulted.
func (s *Store) Root(ctx context.Context, username string) (sandbox.Root, error) {
	if err := ValidateUsername(username); err != nil {
		return sandbox.Root{}, err
	}
	if _, err := s.backend.Get(ctx, username); err != nil {
		return sandbox.Root{}, err
	}
	root, err := s.sites.Open(username)
	if errors.Is(err, errs.ErrNotFound) {
		logging.Warn("user root missing, re-provisioning", zap.String("username", username))
		if _, err := s.sites.Provision(username); err != nil {
			return sandbox.Root{}, err
		}
		return s.sites.Open(username)
	}
	return root, err
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }
