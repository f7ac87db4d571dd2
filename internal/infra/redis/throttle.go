package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec int64 = 10
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 100 * time.Millisecond
	windowSeconds            = 2
)

// One counter per scope and wall-clock second, shared by every worker process.
var throttleScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*SendThrottle)(nil)

// SendThrottle caps provider calls per second across all worker processes.
type SendThrottle struct {
	client    *goredis.Client
	keyPrefix string
	perSecond int64
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewSendThrottle(client *goredis.Client, keyPrefix string, perSecond int) (*SendThrottle, error) {
	return newSendThrottle(client, keyPrefix, int64(perSecond), time.Now, sleepWithContext)
}

func newSendThrottle(
	client *goredis.Client,
	keyPrefix string,
	perSecond int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SendThrottle, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if perSecond <= 0 {
		perSecond = defaultSendsPerSec
	}
	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = "reminders"
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SendThrottle{
		client:    client,
		keyPrefix: keyPrefix,
		perSecond: perSecond,
		now:       nowFn,
		sleep:     sleepFn,
	}, nil
}

func (t *SendThrottle) Allow(ctx context.Context, scope string) (bool, error) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return false, fmt.Errorf("throttle scope is required")
	}

	key := fmt.Sprintf("%s:throttle:%s:%d", t.keyPrefix, scope, t.now().UTC().Unix())
	result, err := throttleScript.Run(ctx, t.client, []string{key}, t.perSecond, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate send throttle: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until a send slot is free in the current second or ctx ends.
func (t *SendThrottle) Wait(ctx context.Context, scope string) error {
	backoff := backoffStep
	for {
		allowed, err := t.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := t.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff+backoffStep, backoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
