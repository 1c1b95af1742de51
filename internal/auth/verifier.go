// Package auth checks the shared API key presented by gateway clients.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/config"
)

// maxVerified bounds the cache of keys that already passed an argon2 check.
const maxVerified = 64

// Verifier validates presented API keys against a plain configured key or an
// argon2id hash. A disabled Verifier accepts every request.
type Verifier struct {
	enabled bool
	header  string
	plain   []byte
	hash    *argonHash

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		enabled:  cfg.Enabled,
		header:   cfg.Header,
		verified: make(map[[sha256.Size]byte]struct{}),
	}
	if v.header == "" {
		v.header = "X-API-Key"
	}
	if !cfg.Enabled {
		return v, nil
	}
	if encoded := strings.TrimSpace(cfg.APIKeyHash); encoded != "" {
		h, err := parseHash(encoded)
		if err != nil {
			return nil, fmt.Errorf("auth.api_key_hash: %w", err)
		}
		v.hash = &h
		return v, nil
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("auth enabled without api_key or api_key_hash")
	}
	v.plain = []byte(key)
	return v, nil
}

func (v *Verifier) Enabled() bool { return v != nil && v.enabled }

// Header is the request header that carries the key.
func (v *Verifier) Header() string { return v.header }

// Verify returns an AuthError unless presented is the configured key.
func (v *Verifier) Verify(presented string) error {
	if !v.Enabled() {
		return nil
	}
	if presented == "" {
		return apierr.Auth("missing API key")
	}
	if v.hash == nil {
		if subtle.ConstantTimeCompare([]byte(presented), v.plain) != 1 {
			return apierr.Auth("invalid API key")
		}
		return nil
	}

	digest := sha256.Sum256([]byte(presented))
	v.mu.Lock()
	_, ok := v.verified[digest]
	v.mu.Unlock()
	if ok {
		return nil
	}
	if !v.hash.matches(presented) {
		return apierr.Auth("invalid API key")
	}
	v.mu.Lock()
	if len(v.verified) >= maxVerified {
		clear(v.verified)
	}
	v.verified[digest] = struct{}{}
	v.mu.Unlock()
	return nil
}
