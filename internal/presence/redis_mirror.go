package presence

import (
	"context"
	"fmt"
	"time"

	"call-relay/internal/signal"

	"github.com/redis/go-redis/v9"
)

// RedisMirror publishes the online set to Redis for readers outside this
// process. The in-memory Directory stays authoritative for routing.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMirror(rdb *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "callrelay:presence:"
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisMirror{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (m *RedisMirror) onlineKey() string { return m.prefix + "online" }

func (m *RedisMirror) handleKey(identity string) string { return m.prefix + "handle:" + identity }

func (m *RedisMirror) SetOnline(ctx context.Context, identity string, handle signal.Handle) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, m.onlineKey(), identity)
		p.Set(ctx, m.handleKey(identity), handle.String(), m.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence mirror: set online %q: %w", identity, err)
	}
	return nil
}

func (m *RedisMirror) SetOffline(ctx context.Context, identity string) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, m.onlineKey(), identity)
		p.Del(ctx, m.handleKey(identity))
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence mirror: set offline %q: %w", identity, err)
	}
	return nil
}

// Reset clears the mirrored set. Run at startup: a previous process may have
// exited without unregistering its connections.
func (m *RedisMirror) Reset(ctx context.Context) error {
	members, err := m.rdb.SMembers(ctx, m.onlineKey()).Result()
	if err != nil {
		return fmt.Errorf("presence mirror: reset: %w", err)
	}
	keys := make([]string, 0, len(members)+1)
	keys = append(keys, m.onlineKey())
	for _, id := range members {
		keys = append(keys, m.handleKey(id))
	}
	return m.rdb.Del(ctx, keys...).Err()
}
