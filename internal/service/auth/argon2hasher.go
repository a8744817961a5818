package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	defaultArgon2Memory      uint32 = 64 * 1024
	defaultArgon2Time        uint32 = 1
	defaultArgon2Parallelism uint8  = 2
	defaultArgon2SaltLength  uint32 = 16
	defaultArgon2KeyLength   uint32 = 32
)

var errArgon2Mismatch = errors.New("argon2: hashed password does not match password")

// Argon2id password hasher
// Hashes are stored in PHC string format: $argon2id$v=19$m=65536,t=1,p=2$<salt>$<hash>
type Argon2Hasher struct {
	// Memory in KiB
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (h Argon2Hasher) withDefaults() Argon2Hasher {
	if h.Memory == 0 {
		h.Memory = defaultArgon2Memory
	}
	if h.Time == 0 {
		h.Time = defaultArgon2Time
	}
	if h.Parallelism == 0 {
		h.Parallelism = defaultArgon2Parallelism
	}
	if h.SaltLength == 0 {
		h.SaltLength = defaultArgon2SaltLength
	}
	if h.KeyLength == 0 {
		h.KeyLength = defaultArgon2KeyLength
	}
	return h
}

func (h Argon2Hasher) Hash(password string) (string, error) {
	h = h.withDefaults()

	salt := make([]byte, h.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error while generating salt. Err: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Parallelism, h.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.Memory,
		h.Time,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare password with hash using parameters stored in the hash itself
func (h Argon2Hasher) Compare(hashedPassword string, password string) error {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return errors.New("argon2: invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return errors.New("argon2: unsupported version")
	}

	var (
		memory, time uint32
		parallelism  uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &parallelism); err != nil {
		return fmt.Errorf("argon2: invalid parameters. Err: %w", err)
	}
	if memory == 0 || time == 0 || parallelism == 0 {
		return errors.New("argon2: invalid parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("argon2: invalid salt. Err: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return errors.New("argon2: invalid key")
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(computed, key) != 1 {
		return errArgon2Mismatch
	}

	return nil
}
