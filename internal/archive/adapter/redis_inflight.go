package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/archivebot/internal/dispatch"
	redisclient "github.com/aelexs/archivebot/internal/redis"
)

// inFlightPrefix is the Redis key prefix for claimed message identities.
// Key pattern: inflight:{message identity}.
const inFlightPrefix = "inflight:"

var _ dispatch.InFlight = (*RedisInFlight)(nil)

// RedisInFlight shares the in-flight set across processes so a message
// redelivered to another replica is still dropped.
type RedisInFlight struct {
	cmd redisclient.Cmdable
}

// NewRedisInFlight creates a RedisInFlight that uses cmd for Redis operations.
func NewRedisInFlight(cmd redisclient.Cmdable) *RedisInFlight {
	return &RedisInFlight{cmd: cmd}
}

// Claim sets the identity key with SET NX EX. The key expires on its own,
// so a crashed handler never pins an identity.
func (r *RedisInFlight) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.inflight.claim")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	ok, err := r.cmd.SetNX(ctx, inFlightPrefix+id, "1", ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("claim %q: %w", id, err)
	}
	return ok, nil
}
