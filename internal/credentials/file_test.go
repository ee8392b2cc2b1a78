package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filemanager/internal/errs"
)

func TestFileBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "users")
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	ctx := context.Background()

	u := &User{Username: "alice", PasswordHash: "$2a$04$x", RootPath: "/site/alice"}
	require.NoError(t, b.Create(ctx, u))

	got, err := b.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	err = b.Create(ctx, &User{Username: "alice", PasswordHash: "y"})
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	_, err = b.Get(ctx, "bob")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice.json", entries[0].Name())
}

func TestFileBackendRejectsMismatchedRecord(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"),
		[]byte(`{"username":"mallory","password":"$2a$04$x"}`), 0600))
	_, err = b.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, errs.ErrIO)
}
