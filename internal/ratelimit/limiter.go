package ratelimit

import "context"

// RateLimiter caps outbound sends per scope (for example "email").
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
