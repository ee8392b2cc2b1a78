package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filemanager/internal/errs"
)

// run executes fmctl with args against a fresh command tree.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("USERS_DIR", filepath.Join(dir, "users"))
	t.Setenv("SITE_DIR", filepath.Join(dir, "site"))
	t.Setenv("CREDENTIAL_BACKEND", "file")
	t.Setenv("PASSWORD_HASHER", "bcrypt")
	t.Setenv("BCRYPT_COST", "4")
	return dir
}

func TestUserAddVerifyExists(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "", "user", "add", "alice", "--password", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, `User "alice" created`)
	assert.FileExists(t, filepath.Join(dir, "site", "alice", "index.html"))

	out, err = run(t, "", "user", "exists", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "exists")

	out, err = run(t, "", "user", "verify", "alice", "-p", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, "Password OK")

	_, err = run(t, "", "user", "verify", "alice", "-p", "wrong")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)
}

func TestUserAddDuplicate(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "user", "add", "alice", "-p", "one")
	require.NoError(t, err)
	_, err = run(t, "", "user", "add", "alice", "-p", "two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, "", "user", "verify", "alice", "-p", "one")
	assert.NoError(t, err, "original password survives")
}

func TestUserExistsMissing(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "user", "exists", "nobody")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPasswordFromStdin(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "piped\n", "user", "add", "bob")
	require.NoError(t, err)

	_, err = run(t, "piped\n", "user", "verify", "bob")
	assert.NoError(t, err)

	_, err = run(t, "", "user", "verify", "bob")
	assert.ErrorContains(t, err, "password is required")
}

func TestFlagOverridesEnvironment(t *testing.T) {
	setupEnv(t)
	other := t.TempDir()

	_, err := run(t, "", "user", "add", "carol", "-p", "pw",
		"--users-dir", filepath.Join(other, "users"),
		"--site-dir", filepath.Join(other, "site"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(other, "site", "carol", "index.html"))

	_, err = run(t, "", "user", "exists", "carol")
	assert.ErrorIs(t, err, errs.ErrNotFound, "default location does not see carol")
}

func TestUsageErrors(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "user", "add")
	assert.Error(t, err)

	_, err = run(t, "", "user", "exists", "a", "b")
	assert.Error(t, err)
}
