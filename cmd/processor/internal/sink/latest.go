package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "stock:"
	channelPrefix = "prices."

	// TTL prevents unbounded memory growth for delisted symbols
	latestTTL = 1 * time.Hour
)

// RedisClient abstracts the Redis connection for the latest sink
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Pipeline() redis.Pipeliner
	Close() error
}

// LatestStore is the latest-value sink: one row per symbol with upsert
// semantics. Each upsert also publishes the payload on the symbol's
// price channel, which is what feeds the gateway fanout and the ledger
// valuation refresh downstream.
type LatestStore struct {
	rdb RedisClient
}

func NewLatestStore(rdb RedisClient) *LatestStore {
	return &LatestStore{rdb: rdb}
}

// Upsert atomically SETs the latest payload for the symbol and PUBLISHes
// it on prices.<symbol> in a single pipeline.
func (s *LatestStore) Upsert(ctx context.Context, symbol string, payload []byte) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, keyPrefix+symbol, payload, latestTTL)
	pipe.Publish(ctx, channelPrefix+symbol, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("latest sink upsert for %s: %w", symbol, err)
	}
	return nil
}

func (s *LatestStore) Close() error { return s.rdb.Close() }
