package resolver

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InvalidationChannel carries hostnames whose cache entries must drop.
const InvalidationChannel = "domain_cache_invalidations"

// publisher is the slice of the redis client the fan-out writes through.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Fanout spreads cache invalidations across processes. Every process
// holds its own in-memory Cache; a mutation committed anywhere (api or
// worker) invalidates locally, then broadcasts the hostname so each
// subscribed process drops its copy too. Without the broadcast a
// worker-side transition would leave api routing stale for a full TTL.
type Fanout struct {
	cache  *Cache
	pub    publisher
	logger *zap.Logger
}

func NewFanout(cache *Cache, client *redis.Client, logger *zap.Logger) *Fanout {
	return &Fanout{cache: cache, pub: client, logger: logger}
}

// Invalidate drops the hostname locally, then broadcasts. Local removal
// comes first so the calling process never routes stale even with redis
// down; a failed broadcast is logged and the remote caches fall back to
// TTL expiry.
func (f *Fanout) Invalidate(hostname string) {
	f.cache.Invalidate(hostname)
	if err := f.pub.Publish(context.Background(), InvalidationChannel, hostname).Err(); err != nil {
		f.logger.Warn("cache invalidation broadcast failed",
			zap.String("hostname", hostname), zap.Error(err))
	}
}

// Listen applies broadcast invalidations to the local cache until the
// context is cancelled. Every process that resolves from a cache runs
// one listener.
func Listen(ctx context.Context, client *redis.Client, cache *Cache, logger *zap.Logger) {
	sub := client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()
	logger.Info("cache invalidation listener started",
		zap.String("channel", InvalidationChannel))
	applyInvalidations(ctx, sub.Channel(), cache)
}

func applyInvalidations(ctx context.Context, msgs <-chan *redis.Message, cache *Cache) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			cache.Invalidate(msg.Payload)
		}
	}
}
