// Package cache provides the exact-match response cache. Identical
// requests (same model, messages, and sampling parameters) hit Redis
// instead of an upstream provider.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ArmanHov2006/sentinel/internal/core"
)

const (
	keyPrefix  = "llm:"
	DefaultTTL = time.Hour
)

// ExactCache stores serialized ChatResponses keyed by a deterministic
// hash of the request. A Redis failure is never a request failure:
// Get reports a miss and Set logs and moves on.
type ExactCache struct {
	rdb redis.Cmdable
	TTL time.Duration
}

// NewExactCache returns a cache with the given TTL; ttl <= 0 falls
// back to DefaultTTL.
func NewExactCache(rdb redis.Cmdable, ttl time.Duration) *ExactCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ExactCache{rdb: rdb, TTL: ttl}
}

// Key derives the cache key: canonical JSON of the request fields that
// determine the completion, hashed with SHA-256. Map marshaling sorts
// keys, which gives the stable byte form the hash needs.
func Key(req *core.ChatRequest) string {
	messages := make([]map[string]any, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		}
	}
	canonical := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Parameters.Temperature,
		"max_tokens":  req.Parameters.MaxTokens,
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached response for req, or nil on a miss. KV
// errors and undecodable entries count as misses.
func (c *ExactCache) Get(ctx context.Context, req *core.ChatRequest) *core.ChatResponse {
	key := Key(req)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("exact cache get failed", "error", err)
		}
		return nil
	}
	var resp core.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("exact cache entry undecodable, treating as miss", "key", key, "error", err)
		return nil
	}
	return &resp
}

// Set stores the response under the request's key, best effort.
func (c *ExactCache) Set(ctx context.Context, req *core.ChatRequest, resp *core.ChatResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("exact cache marshal failed", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, Key(req), data, c.TTL).Err(); err != nil {
		slog.Warn("exact cache set failed", "error", err)
	}
}

// Delete removes the entry for req, if any.
func (c *ExactCache) Delete(ctx context.Context, req *core.ChatRequest) error {
	return c.rdb.Del(ctx, Key(req)).Err()
}
