package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and checks one-way password hashes. Verify must read its
// parameters (salt, cost) from the encoded hash, not from the Hasher.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
	// Handles reports whether encoded was produced by this scheme.
	Handles(encoded string) bool
}

// NewHasher returns the hasher named by scheme ("bcrypt" or "argon2id").
func NewHasher(scheme string, bcryptCost int) (Hasher, error) {
	switch scheme {
	case "", "bcrypt":
		if bcryptCost == 0 {
			bcryptCost = bcrypt.DefaultCost
		}
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
		}
		return BcryptHasher{Cost: bcryptCost}, nil
	case "argon2id":
		return DefaultArgon2(), nil
	default:
		return nil, fmt.Errorf("unknown password hasher: %s", scheme)
	}
}

// BcryptHasher hashes with bcrypt.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func (h BcryptHasher) Verify(password, encoded string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
}

func (h BcryptHasher) Handles(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

const argon2ID = "argon2id"

// Argon2Hasher hashes with argon2id and encodes in PHC string format.
type Argon2Hasher struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2 returns an Argon2Hasher with interactive-login parameters.
func DefaultArgon2() Argon2Hasher {
	return Argon2Hasher{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (h Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Parallelism, h.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID, argon2.Version, h.Memory, h.Time, h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h Argon2Hasher) Verify(password, encoded string) bool {
	p, err := parsePHC(encoded)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1
}

func (h Argon2Hasher) Handles(encoded string) bool {
	return strings.HasPrefix(encoded, "$"+argon2ID+"$")
}

// Upper bounds on parameters read from a stored hash. Records above them
// are rejected rather than computed.
const (
	maxArgon2Memory = 1 << 20 // KiB, 1 GiB
	maxArgon2Time   = 10
	maxArgon2KeyLen = 128
)

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return nil, errors.New("invalid argon2id hash")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, errors.New("unsupported argon2 version")
	}

	var p phc
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("invalid argon2 parameter")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, errors.New("invalid argon2 parameter")
		}
		switch k {
		case "m":
			if n > maxArgon2Memory {
				return nil, errors.New("argon2 memory out of range")
			}
			p.memory = uint32(n)
		case "t":
			if n > maxArgon2Time {
				return nil, errors.New("argon2 time out of range")
			}
			p.time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("invalid argon2 parallelism")
			}
			p.parallelism = uint8(n)
		default:
			return nil, errors.New("unknown argon2 parameter")
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, errors.New("missing argon2 parameters")
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) == 0 {
		return nil, errors.New("invalid argon2 salt")
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 || len(p.key) > maxArgon2KeyLen {
		return nil, errors.New("invalid argon2 key")
	}
	return &p, nil
}

// multiHasher hashes with its primary scheme and verifies with whichever
// scheme produced the stored hash.
type multiHasher struct {
	primary Hasher
	all     []Hasher
}

// WithFallback returns a Hasher that hashes with primary and verifies any
// hash produced by primary or one of the others.
func WithFallback(primary Hasher, others ...Hasher) Hasher {
	return multiHasher{primary: primary, all: append([]Hasher{primary}, others...)}
}

func (m multiHasher) Hash(password string) (string, error) { return m.primary.Hash(password) }

func (m multiHasher) Verify(password, encoded string) bool {
	for _, h := range m.all {
		if h.Handles(encoded) {
			return h.Verify(password, encoded)
		}
	}
	return false
}

func (m multiHasher) Handles(encoded string) bool {
	for _, h := range m.all {
		if h.Handles(encoded) {
			return true
		}
	}
	return false
}
