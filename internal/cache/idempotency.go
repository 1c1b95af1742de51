// Package cache replays buffered responses for repeated Idempotency-Key requests.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a stored response.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyCache stores completed responses keyed by caller scope and
// Idempotency-Key. A nil cache never hits.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// Get returns the entry stored for key. Redis failures read as a miss.
func (c *IdempotencyCache) Get(ctx context.Context, scope, key string) (Entry, bool) {
	if c == nil || key == "" {
		return Entry{}, false
	}
	data, err := c.client.Get(ctx, c.redisKey(scope, key)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

// Set stores entry unless one already exists; the first completed response
// for a key wins.
func (c *IdempotencyCache) Set(ctx context.Context, scope, key string, entry Entry) error {
	if c == nil || key == "" || len(entry.Body) == 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = c.client.SetArgs(ctx, c.redisKey(scope, key), data, redis.SetArgs{Mode: "NX", TTL: c.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// redisKey hashes the caller-supplied key so arbitrary header values stay
// out of the keyspace.
func (c *IdempotencyCache) redisKey(scope, key string) string {
	sum := sha256.Sum256([]byte(key))
	return "idem:" + scope + ":" + hex.EncodeToString(sum[:16])
}
