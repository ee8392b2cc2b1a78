package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fruitsalade/filemanager/internal/errs"
)

// FileBackend stores one JSON record per user under a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the users directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("users directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create users dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) recordPath(username string) string {
	return filepath.Join(b.dir, username+".json")
}

// Create writes the record with O_EXCL so concurrent registrations of the
// same name cannot both succeed. The record is written to a temp file first
// and hard-linked into place, so readers never see a half-written record.
func (b *FileBackend) Create(_ context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.Username, err)
	}

	tmp, err := os.CreateTemp(b.dir, ".user-*.tmp")
	if err != nil {
		return errs.Wrap("register", u.Username, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap("register", u.Username, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap("register", u.Username, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap("register", u.Username, err)
	}

	// link(2) fails with EEXIST if the record already exists.
	if err := os.Link(tmpName, b.recordPath(u.Username)); err != nil {
		if os.IsExist(err) {
			return errs.New("register", u.Username, errs.ErrAlreadyExists)
		}
		return errs.Wrap("register", u.Username, err)
	}
	return nil
}

// Get reads and decodes the record for username.
func (b *FileBackend) Get(_ context.Context, username string) (*User, error) {
	data, err := os.ReadFile(b.recordPath(username))
	if err != nil {
		return nil, errs.Wrap("lookup", username, err)
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", username, errs.ErrIO)
	}
	if u.Username != username {
		return nil, fmt.Errorf("user record %s names %q: %w", username, u.Username, errs.ErrIO)
	}
	return &u, nil
}

// Type returns "file".
func (b *FileBackend) Type() string { return "file" }

// Close is a no-op for file backends.
func (b *FileBackend) Close() error { return nil }
