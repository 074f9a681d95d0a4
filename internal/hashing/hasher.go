package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"finnect-auth/internal/config"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies login credentials with Argon2id. Peppers are
// versioned and supplied through configuration so that hashes written under
// an older pepper stay verifiable after a rotation.
type Hasher struct {
	params         Argon2Params
	peppers        map[int]string
	currentVersion int
	mu             sync.RWMutex
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}

	h := &Hasher{
		params:  params,
		peppers: map[int]string{},
	}
	h.loadPeppers(cfg.Hashing.Peppers)

	return h
}

func (h *Hasher) loadPeppers(spec string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	versions := []int{}
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, ":")
		if idx <= 0 {
			continue
		}
		version, err := strconv.Atoi(pair[:idx])
		if err != nil || version < 1 {
			continue
		}
		h.peppers[version] = pair[idx+1:]
		versions = append(versions, version)
	}

	if len(versions) == 0 {
		// No pepper configured: version 0 with an empty value. Hashes
		// remain plain Argon2id.
		h.peppers[0] = ""
		h.currentVersion = 0
		return
	}

	sort.Ints(versions)
	h.currentVersion = versions[len(versions)-1]
}

// HashPassword returns an encoded hash of the form
// $argon2id$v=19$m=<mem>,t=<time>,p=<par>,k=<pepper-version>$<saltB64>$<hashB64>
func (h *Hasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("empty password")
	}

	h.mu.RLock()
	version := h.currentVersion
	pepper := h.peppers[version]
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password+pepper),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d,k=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		version,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// VerifyPassword compares a candidate password against an encoded hash in
// constant time. A malformed hash yields an error, not a silent mismatch.
func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	params, pepperVersion, salt, expected, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	h.mu.RLock()
	pepper, ok := h.peppers[pepperVersion]
	h.mu.RUnlock()
	if !ok {
		return false, ErrUnknownPepper
	}

	computed := argon2.IDKey(
		[]byte(password+pepper),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func decodeHash(encoded string) (Argon2Params, int, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, 0, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, 0, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return params, 0, nil, nil, ErrIncompatibleVersion
	}

	var mem, iter, par, pepperVersion int
	n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d,k=%d", &mem, &iter, &par, &pepperVersion)
	if err != nil || n != 4 {
		return params, 0, nil, nil, ErrInvalidHash
	}
	params.Memory = uint32(mem)
	params.Iterations = uint32(iter)
	params.Parallelism = uint8(par)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, 0, nil, nil, ErrInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, 0, nil, nil, ErrInvalidHash
	}

	return params, pepperVersion, salt, hash, nil
}
