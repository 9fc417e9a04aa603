package throttle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable wraps Redis failures.
var ErrBackendUnavailable = errors.New("throttle: backend unavailable")

const defaultKeyPrefix = "throttle:login:"

// Each key is a hash holding the attempt count and the window start in unix
// milliseconds. The key TTL ends the window.

// recordScript increments the counter unless the budget is already spent and
// opens a new window on the first hit. Returns {allowed, count, pttl, start}.
var recordScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local start = redis.call('HGET', KEYS[1], 'start')
if not start then
  start = ARGV[3]
  redis.call('HSET', KEYS[1], 'start', start, 'count', 0)
end
local current = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local allowed = 0
if current < limit then
  current = redis.call('HINCRBY', KEYS[1], 'count', 1)
  allowed = 1
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {allowed, current, ttl, tonumber(start)}
`)

// refundScript decrements the counter only while ARGV[1] still names the
// current window.
var refundScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'start')
if not start or start ~= ARGV[1] then
  return 0
end
local current = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if current > 0 then
  return redis.call('HINCRBY', KEYS[1], 'count', -1)
end
return 0
`)

// Redis shares attempt windows between API replicas.
type Redis struct {
	client redis.UniversalClient
	policy Policy
	prefix string
	now    func() time.Time
}

var _ Throttle = (*Redis)(nil)

// RedisOption configures a Redis throttle.
type RedisOption func(*Redis)

// WithRedisClock overrides the clock used to stamp new windows.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRedis(client redis.UniversalClient, p Policy, opts ...RedisOption) *Redis {
	r := &Redis{client: client, policy: p.normalized(), prefix: defaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Check(ctx context.Context, key string) (Decision, error) {
	pipe := r.client.Pipeline()
	fields := pipe.HMGet(ctx, r.key(key), "count", "start")
	ttl := pipe.PTTL(ctx, r.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	vals := fields.Val()
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Decision{Allowed: true, Remaining: r.policy.Limit}, nil
	}
	count, err := parseField(vals[0])
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	startMs, err := parseField(vals[1])
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	start := time.UnixMilli(startMs)
	if int(count) < r.policy.Limit {
		return Decision{Allowed: true, Remaining: r.policy.Limit - int(count), Window: start}, nil
	}
	return Decision{RetryAfter: ttl.Val(), Window: start}, nil
}

func (r *Redis) RecordAttempt(ctx context.Context, key string) (Decision, error) {
	res, err := recordScript.Run(ctx, r.client, []string{r.key(key)},
		r.policy.Limit, r.policy.Window.Milliseconds(), r.now().UnixMilli()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 4 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrBackendUnavailable, res)
	}
	start := time.UnixMilli(res[3])
	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: r.policy.Limit - int(res[1]), Window: start}, nil
	}
	return Decision{RetryAfter: time.Duration(res[2]) * time.Millisecond, Window: start}, nil
}

func (r *Redis) Refund(ctx context.Context, key string, window time.Time) error {
	if window.IsZero() {
		return nil
	}
	if err := refundScript.Run(ctx, r.client, []string{r.key(key)}, window.UnixMilli()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func parseField(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected field type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}
