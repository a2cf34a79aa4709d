// Package password hashes and verifies account passwords with argon2id.
//
// Digests are self-describing ("$argon2id$v=19$m=..,t=..,p=..$salt$key"), so a
// digest produced under older parameters keeps verifying after the policy is
// raised; Verify reports such digests as needing an upgrade. Legacy bcrypt
// digests are accepted and always reported as needing an upgrade.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultMemoryKiB   uint32 = 64 * 1024
	DefaultIterations  uint32 = 3
	DefaultParallelism uint8  = 2

	keyLen  uint32 = 32
	saltLen        = 16
)

var errInvalidHash = errors.New("invalid password hash")

type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

func DefaultParams() Params {
	return Params{
		MemoryKiB:   DefaultMemoryKiB,
		Iterations:  DefaultIterations,
		Parallelism: DefaultParallelism,
	}
}

type Hasher struct {
	params Params
}

func NewHasher(params Params) *Hasher {
	defaults := DefaultParams()
	if params.MemoryKiB == 0 {
		params.MemoryKiB = defaults.MemoryKiB
	}
	if params.Iterations == 0 {
		params.Iterations = defaults.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = defaults.Parallelism
	}
	return &Hasher{params: params}
}

func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify never returns an error: malformed digests simply do not match.
func (h *Hasher) Verify(password, digest string) (ok bool, needsUpgrade bool) {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil, true
	}

	decoded, err := decode(digest)
	if err != nil {
		return false, false
	}

	actual := argon2.IDKey([]byte(password), decoded.salt, decoded.params.Iterations, decoded.params.MemoryKiB, decoded.params.Parallelism, uint32(len(decoded.key)))
	if subtle.ConstantTimeCompare(actual, decoded.key) != 1 {
		return false, false
	}

	return true, h.weaker(decoded)
}

func (h *Hasher) weaker(d decodedHash) bool {
	return d.params.MemoryKiB < h.params.MemoryKiB ||
		d.params.Iterations < h.params.Iterations ||
		d.params.Parallelism < h.params.Parallelism ||
		uint32(len(d.key)) < keyLen ||
		len(d.salt) < saltLen
}

type decodedHash struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(digest string) (decodedHash, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return decodedHash{}, errInvalidHash
	}

	version, err := parseVersion(parts[2])
	if err != nil || version != argon2.Version {
		return decodedHash{}, errInvalidHash
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return decodedHash{}, errInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return decodedHash{}, errInvalidHash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return decodedHash{}, errInvalidHash
	}

	return decodedHash{params: params, salt: salt, key: key}, nil
}

func parseVersion(value string) (int, error) {
	if !strings.HasPrefix(value, "v=") {
		return 0, errInvalidHash
	}
	return strconv.Atoi(strings.TrimPrefix(value, "v="))
}

func parseParams(value string) (Params, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return Params{}, errInvalidHash
	}

	mem, err := parseUint32Param(parts[0], "m=")
	if err != nil || mem == 0 {
		return Params{}, errInvalidHash
	}
	timeCost, err := parseUint32Param(parts[1], "t=")
	if err != nil || timeCost == 0 {
		return Params{}, errInvalidHash
	}
	threads, err := parseUint32Param(parts[2], "p=")
	if err != nil || threads == 0 || threads > 255 {
		return Params{}, errInvalidHash
	}

	return Params{MemoryKiB: mem, Iterations: timeCost, Parallelism: uint8(threads)}, nil
}

func parseUint32Param(value, prefix string) (uint32, error) {
	if !strings.HasPrefix(value, prefix) {
		return 0, errInvalidHash
	}
	parsed, err := strconv.ParseUint(strings.TrimPrefix(value, prefix), 10, 32)
	if err != nil {
		return 0, errInvalidHash
	}
	return uint32(parsed), nil
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}
