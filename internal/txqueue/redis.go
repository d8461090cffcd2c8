package txqueue

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "flowplane:queue"

// listWriter is the subset of redis.Pipeliner used to stage queue operations.
type listWriter interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
}

// RedisNotifier mirrors the pending store into one Redis list per tag.
// Pushed jobs are LPUSHed, deleted jobs are removed with LREM.
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNotifier creates a notifier writing lists under prefix.
func NewRedisNotifier(client redis.UniversalClient, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Key returns the list key for tag.
func (n *RedisNotifier) Key(tag string) string {
	return fmt.Sprintf("%s:%s", n.prefix, tag)
}

// Flush applies ops in one MULTI/EXEC round trip.
func (n *RedisNotifier) Flush(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := n.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return n.stage(ctx, pipe, ops)
	})
	if err != nil {
		return errors.Wrapf(err, "redis: flush %d queue operations", len(ops))
	}
	return nil
}

func (n *RedisNotifier) stage(ctx context.Context, w listWriter, ops []Op) error {
	for _, op := range ops {
		key := n.Key(op.Tag)
		switch op.Kind {
		case OpPush:
			w.LPush(ctx, key, op.JobID.String())
		case OpDelete:
			w.LRem(ctx, key, 0, op.JobID.String())
		default:
			return errors.Newf("redis: unknown queue operation %d", op.Kind)
		}
	}
	return nil
}

// Ping checks connectivity to Redis.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	if err := n.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis: ping failed")
	}
	return nil
}

// Close closes the underlying client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
