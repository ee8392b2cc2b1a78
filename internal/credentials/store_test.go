package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/filemanager/internal/errs"
	"github.com/fruitsalade/filemanager/internal/sandbox"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewFileBackend(filepath.Join(dir, "users"))
	require.NoError(t, err)
	sites, err := sandbox.NewSites(filepath.Join(dir, "site"))
	require.NoError(t, err)
	return NewStore(backend, BcryptHasher{Cost: bcrypt.MinCost}, sites), dir
}

func TestRegisterVerifyExists(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NotEqual(t, "s3cret", u.PasswordHash)

	assert.True(t, s.Exists(ctx, "alice"))
	assert.True(t, s.Verify(ctx, "alice", "s3cret"))
	assert.False(t, s.Verify(ctx, "alice", "wrong"))
	assert.False(t, s.Exists(ctx, "bob"))
	assert.False(t, s.Verify(ctx, "bob", "s3cret"))

	// The record never contains the plaintext.
	raw, err := os.ReadFile(filepath.Join(dir, "users", "alice.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")

	// Root is provisioned with exactly the welcome file.
	entries, err := os.ReadDir(filepath.Join(dir, "site", "alice"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sandbox.WelcomeFile, entries[0].Name())
}

func TestRegisterDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "first")
	require.NoError(t, err)

	_, err = s.Register(ctx, "alice", "second")
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	// The original password still works.
	assert.True(t, s.Verify(ctx, "alice", "first"))
	assert.False(t, s.Verify(ctx, "alice", "second"))
}

func TestRegisterConcurrentSameName(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Register(ctx, "race", fmt.Sprintf("pw-%d", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, exists int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, errs.ErrAlreadyExists):
			exists++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, exists)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"", ".", "..", "../x", "a/b", ".hidden", "with space"} {
		_, err := s.Register(ctx, name, "pw")
		assert.ErrorIs(t, err, errs.ErrBadRequest, "username %q", name)
	}
	_, err := s.Register(ctx, "carol", "")
	assert.ErrorIs(t, err, errs.ErrBadRequest)
}

func TestVerifyFailsClosedOnCorruptRecord(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	record := filepath.Join(dir, "users", "alice.json")
	require.NoError(t, os.WriteFile(record, []byte("{not json"), 0600))
	assert.False(t, s.Verify(ctx, "alice", "pw"))

	require.NoError(t, os.WriteFile(record, []byte(`{"username":"alice","password":"plaintext"}`), 0600))
	assert.False(t, s.Verify(ctx, "alice", "plaintext"))

	require.NoError(t, os.Remove(record))
	assert.False(t, s.Verify(ctx, "alice", "pw"))
}

func TestRootReprovisionsMissingDirectory(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "site", "alice")))

	root, err := s.Root(ctx, "alice")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root.Path(), sandbox.WelcomeFile))
	assert.NoError(t, err)

	_, err = s.Root(ctx, "nobody")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLookup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	u, err := s.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = s.Lookup(ctx, "../etc")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRootIgnoresStoredRootPath(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	// A record written under an older SITE_DIR.
	hash, err := s.hasher.Hash("pw")
	require.NoError(t, err)
	require.NoError(t, s.backend.Create(ctx, &User{
		Username:     "carol",
		PasswordHash: hash,
		RootPath:     filepath.Join(dir, "old-site", "carol"),
	}))

	root, err := s.Root(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, s.sites.PathFor("carol"), root.Path())
	assert.FileExists(t, filepath.Join(root.Path(), sandbox.WelcomeFile))
	assert.NoDirExists(t, filepath.Join(dir, "old-site"))
}
