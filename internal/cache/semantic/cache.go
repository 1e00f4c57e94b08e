package semantic

import (
	"context"
	"log/slog"
	"time"
)

const DefaultThreshold = 0.95

// Cache serves stored responses for queries semantically close to a
// previous one. It is process-local and not durable; a restart starts
// cold, which is acceptable because the exact cache persists in Redis.
type Cache struct {
	embedder  Embedder
	store     *VectorStore
	Threshold float64
}

// NewCache builds a cache over the embedder with its own vector store.
// threshold <= 0 falls back to DefaultThreshold.
func NewCache(embedder Embedder, threshold float64) *Cache {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Cache{
		embedder:  embedder,
		store:     NewVectorStore(embedder.Dimension()),
		Threshold: threshold,
	}
}

// Size returns the number of cached entries.
func (c *Cache) Size() int { return c.store.Size() }

// Lookup embeds the query and returns the best match's response with
// its similarity score, or ok=false on a miss. Embedding failures are
// misses, never request failures.
func (c *Cache) Lookup(ctx context.Context, query string) (response string, score float64, ok bool) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("semantic cache embed failed, treating as miss", "error", err)
		return "", 0, false
	}
	meta, score, ok := c.store.Search(vec, c.Threshold)
	if !ok {
		return "", 0, false
	}
	return meta.Response, score, true
}

// Store embeds the query and adds it with its response, best effort.
func (c *Cache) Store(ctx context.Context, query, response, model string) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("semantic cache embed failed, skipping store", "error", err)
		return
	}
	if _, err := c.store.Add(vec, Metadata{
		Response:  response,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		slog.Warn("semantic cache store failed", "error", err)
	}
}
