package credentials

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testArgon2() Argon2Hasher {
	return Argon2Hasher{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}
	enc, err := h.Hash("hunter2")
	require.NoError(t, err)

	assert.True(t, h.Handles(enc))
	assert.True(t, h.Verify("hunter2", enc))
	assert.False(t, h.Verify("hunter3", enc))

	// Cost is read from the hash, not the hasher.
	assert.True(t, BcryptHasher{Cost: 14}.Verify("hunter2", enc))
}

func TestArgon2Hasher(t *testing.T) {
	h := testArgon2()
	enc, err := h.Hash("hunter2")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(enc, "$argon2id$v=19$m=8192,t=1,p=1$"))

	assert.True(t, h.Handles(enc))
	assert.True(t, h.Verify("hunter2", enc))
	assert.False(t, h.Verify("hunter3", enc))

	// Parameters come from the encoded hash.
	assert.True(t, DefaultArgon2().Verify("hunter2", enc))

	other, err := h.Hash("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, enc, other, "salts must differ")
}

func TestArgon2RejectsMalformed(t *testing.T) {
	h := testArgon2()
	for _, enc := range []string{
		"",
		"$argon2id$",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5",
	} {
		assert.False(t, h.Verify("x", enc), "hash %q", enc)
	}
}

func TestWithFallback(t *testing.T) {
	a := testArgon2()
	b := BcryptHasher{Cost: bcrypt.MinCost}

	legacy, err := b.Hash("pw")
	require.NoError(t, err)

	h := WithFallback(a, b)
	fresh, err := h.Hash("pw")
	require.NoError(t, err)
	assert.True(t, a.Handles(fresh))

	assert.True(t, h.Verify("pw", legacy))
	assert.True(t, h.Verify("pw", fresh))
	assert.False(t, h.Verify("pw", "plaintext"))
	assert.False(t, h.Handles("plaintext"))
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("bcrypt", 0)
	require.NoError(t, err)
	assert.Equal(t, BcryptHasher{Cost: bcrypt.DefaultCost}, h)

	_, err = NewHasher("bcrypt", 99)
	assert.Error(t, err)

	h, err = NewHasher("argon2id", 0)
	require.NoError(t, err)
	assert.IsType(t, Argon2Hasher{}, h)

	_, err = NewHasher("md5", 0)
	assert.Error(t, err)
}

func TestParsePHCBoundsParameters(t *testing.T) {
	ok := "$argon2id$v=19$m=65536,t=1,p=4$c2FsdHNhbHQ$a2V5a2V5"
	_, err := parsePHC(ok)
	require.NoError(t, err)

	longKey := strings.Repeat("a", 200)
	for _, enc := range []string{
		"$argon2id$v=19$m=4294967295,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5",
		"$argon2id$v=19$m=2097152,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5",
		"$argon2id$v=19$m=65536,t=4294967295,p=1$c2FsdHNhbHQ$a2V5a2V5",
		"$argon2id$v=19$m=65536,t=1,p=1$c2FsdHNhbHQ$" + longKey,
	} {
		_, err := parsePHC(enc)
		assert.Error(t, err, "hash %q", enc)
		assert.False(t, testArgon2().Verify("x", enc), "hash %q", enc)
	}
}
