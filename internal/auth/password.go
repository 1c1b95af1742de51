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
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashKey returns an encoded argon2id hash for the supplied API key.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("key required")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, b64Salt, b64Hash)
	return encoded, nil
}

type argonHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	sum     []byte
}

func parseHash(encoded string) (argonHash, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(encoded), "$"), "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return argonHash{}, errors.New("invalid hash format")
	}

	var h argonHash
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return argonHash{}, fmt.Errorf("parse params: %w", err)
	}
	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[3]); err != nil {
		return argonHash{}, fmt.Errorf("decode salt: %w", err)
	}
	if h.sum, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argonHash{}, fmt.Errorf("decode hash: %w", err)
	}
	if len(h.sum) == 0 {
		return argonHash{}, errors.New("empty hash")
	}
	return h, nil
}

func (h argonHash) matches(key string) bool {
	calculated := argon2.IDKey([]byte(key), h.salt, h.time, h.memory, h.threads, uint32(len(h.sum)))
	return subtle.ConstantTimeCompare(calculated, h.sum) == 1
}

// VerifyKey compares a key against an encoded hash string.
func VerifyKey(key string, encoded string) (bool, error) {
	if key == "" || encoded == "" {
		return false, errors.New("key and hash required")
	}
	h, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	return h.matches(key), nil
}
