package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueryVectorCache keeps question embeddings in Redis so repeated questions
// skip the embedding API. Keys incorporate the model and dimensionality, so
// a model or dimension change naturally misses instead of serving stale
// vectors. Both operations are best-effort: errors are logged, never
// surfaced, a failure only costs one extra API call.
type QueryVectorCache struct {
	client *redisv9.Client
	model  string
	dims   int
	ttl    time.Duration
	logger *zap.Logger
}

func NewQueryVectorCache(client *redisv9.Client, model string, dims int, ttl time.Duration, logger *zap.Logger) *QueryVectorCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryVectorCache{
		client: client,
		model:  model,
		dims:   dims,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *QueryVectorCache) Get(ctx context.Context, question string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.key(question)).Result()
	if err == redisv9.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("query vector cache get failed", zap.Error(err))
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		c.logger.Warn("query vector cache decode failed", zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *QueryVectorCache) Set(ctx context.Context, question string, vec []float32) {
	payload, err := json.Marshal(vec)
	if err != nil {
		c.logger.Warn("query vector cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(question), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("query vector cache set failed", zap.Error(err))
	}
}

func (c *QueryVectorCache) key(question string) string {
	sum := sha256.Sum256([]byte(question))
	return fmt.Sprintf("qa:queryvec:%s:%d:%s", c.model, c.dims, hex.EncodeToString(sum[:]))
}
