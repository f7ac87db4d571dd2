package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestSendThrottleAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	throttle, err := newSendThrottle(rdb, "reminders", 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := throttle.Allow(context.Background(), "email")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := throttle.Allow(context.Background(), "email")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call in the same second should be throttled")
	}

	now = now.Add(time.Second)
	allowed, err = throttle.Allow(context.Background(), "email")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next second should allow a send")
	}
}

func TestSendThrottleScopesAndPrefixesAreIndependent(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	clock := func() time.Time { return now }
	first, err := newSendThrottle(rdb, "queue-a", 1, clock, sleepWithContext)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}
	second, err := newSendThrottle(rdb, "queue-b", 1, clock, sleepWithContext)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	checks := []struct {
		throttle *SendThrottle
		scope    string
		want     bool
	}{
		{throttle: first, scope: "email", want: true},
		{throttle: first, scope: "sms", want: true},
		{throttle: second, scope: "email", want: true},
		{throttle: first, scope: "EMAIL", want: false},
	}

	for i, check := range checks {
		allowed, err := check.throttle.Allow(context.Background(), check.scope)
		if err != nil {
			t.Fatalf("check %d: Allow() error = %v", i, err)
		}
		if allowed != check.want {
			t.Fatalf("check %d: Allow(%q) = %v, want %v", i, check.scope, allowed, check.want)
		}
	}
}

func TestSendThrottleRequiresScope(t *testing.T) {
	t.Parallel()

	throttle, err := NewSendThrottle(newTestRedisClient(t), "", 0)
	if err != nil {
		t.Fatalf("NewSendThrottle() error = %v", err)
	}
	if throttle.perSecond != defaultSendsPerSec {
		t.Fatalf("perSecond = %d, want default %d", throttle.perSecond, defaultSendsPerSec)
	}

	if _, err := throttle.Allow(context.Background(), "  "); err == nil {
		t.Fatal("Allow() expected error for empty scope")
	}
}

func TestSendThrottleWait(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	var slept []time.Duration
	throttle, err := newSendThrottle(
		rdb,
		"reminders",
		1,
		func() time.Time { return now },
		func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			if len(slept) == 2 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	if err := throttle.Wait(context.Background(), "email"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := throttle.Wait(context.Background(), "email"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}

	if len(slept) != 2 {
		t.Fatalf("sleep calls = %d, want 2", len(slept))
	}
	if slept[0] != backoffStep || slept[1] != 2*backoffStep {
		t.Fatalf("backoff = %v, want growing steps", slept)
	}
}

func TestSendThrottleWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	throttle, err := newSendThrottle(rdb, "reminders", 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	if _, err := throttle.Allow(context.Background(), "email"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = throttle.Wait(ctx, "email")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewSendThrottleRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewSendThrottle(nil, "reminders", 1); err == nil {
		t.Fatal("NewSendThrottle(nil) expected error")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
