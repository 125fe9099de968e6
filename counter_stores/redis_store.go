package counter_stores

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ rate_limiter_gate.CounterStore = &RedisStore{}
	_ Pinger                         = &RedisStore{}
)

const (
	defaultRedisPrefix = "ratelimit"
	resetScanCount     = 100
	tracerName         = "github.com/aryangodara/rate_limiter_gate/counter_stores"
)

// RedisStore keeps fixed window counters in Redis so that every instance
// behind a load balancer shares them.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention int64
	tracer    trace.Tracer
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the namespace prepended to every Redis key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithRedisRetentionWindows sets how many windows a counter outlives its own.
func WithRedisRetentionWindows(n int64) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.retention = n
		}
	}
}

// NewRedisStore creates a store on top of client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    defaultRedisPrefix,
		retention: DefaultRetentionWindows,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementAndGet increments the bucket counter and sets its expiry in one
// MULTI/EXEC transaction.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key rate_limiter_gate.LimitKey, w rate_limiter_gate.Window) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.redis.increment", trace.WithAttributes(
		attribute.Int64("ratelimit.window_index", w.Index),
		attribute.Int64("ratelimit.window_ms", w.Length.Milliseconds()),
	))
	defer span.End()

	bucket := s.bucketKey(key, w.Index)
	expiresAt := w.End().Add(time.Duration(s.retention-1) * w.Length)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.PExpireAt(ctx, bucket, expiresAt)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("error incrementing key %v: %w", bucket, err)
	}

	return incr.Val(), nil
}

// Reset deletes every window of key.
func (s *RedisStore) Reset(ctx context.Context, key rate_limiter_gate.LimitKey) error {
	ctx, span := s.tracer.Start(ctx, "ratelimit.redis.reset")
	defer span.End()

	head := s.bucketHead(key)
	iter := s.client.Scan(ctx, 0, escapeGlob(head)+"*", resetScanCount).Iterator()

	var buckets []string
	for iter.Next(ctx) {
		// the glob also matches keys that merely start with this one
		if _, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), head), 10, 64); err == nil {
			buckets = append(buckets, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("error scanning buckets for key %v: %w", key, err)
	}
	if len(buckets) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, buckets...).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("error deleting buckets for key %v: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// bucketHead wraps the key in braces so all windows of a key hash to the
// same cluster slot.
func (s *RedisStore) bucketHead(key rate_limiter_gate.LimitKey) string {
	return s.prefix + ":{" + string(key) + "}:"
}

func (s *RedisStore) bucketKey(key rate_limiter_gate.LimitKey, index int64) string {
	return s.bucketHead(key) + strconv.FormatInt(index, 10)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
