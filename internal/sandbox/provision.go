package sandbox

import (
	"fmt"
	"html"
	"os"
	"path/filepath"

	"github.com/fruitsalade/filemanager/internal/errs"
)

// WelcomeFile is the artifact placed in every freshly provisioned root.
const WelcomeFile = "index.html"

// Sites lays out one root directory per user beneath a base directory.
type Sites struct {
	base string
}

// NewSites creates the base directory if needed and returns a Sites for it.
func NewSites(base string) (*Sites, error) {
	if base == "" {
		return nil, fmt.Errorf("site directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("absolute site dir %s: %w", base, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create site dir %s: %w", abs, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve site dir %s: %w", abs, err)
	}
	return &Sites{base: canon}, nil
}

// Base returns the canonical base directory.
func (s *Sites) Base() string { return s.base }

// PathFor returns the root directory path for username. The username must
// already be validated as a single path component.
func (s *Sites) PathFor(username string) string {
	return filepath.Join(s.base, username)
}

// Provision creates the user's root and welcome file. An existing root is
// left untouched apart from restoring a missing welcome file.
func (s *Sites) Provision(username string) (string, error) {
	if err := ValidateName(username); err != nil {
		return "", err
	}
	dir := s.PathFor(username)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errs.Wrap("provision", username, err)
	}

	welcome := fmt.Sprintf("<h1>Welcome to your site, %s!</h1>", html.EscapeString(username))
	f, err := os.OpenFile(filepath.Join(dir, WelcomeFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return dir, nil
		}
		return "", errs.Wrap("provision", username, err)
	}
	if _, err := f.WriteString(welcome); err != nil {
		f.Close()
		return "", errs.Wrap("provision", username, err)
	}
	if err := f.Close(); err != nil {
		return "", errs.Wrap("provision", username, err)
	}
	return dir, nil
}

// Open returns the Root for username's directory.
func (s *Sites) Open(username string) (Root, error) {
	if err := ValidateName(username); err != nil {
		return Root{}, err
	}
	return NewRoot(s.PathFor(username))
}
