// Package ratelimit throttles the browser-facing authentication endpoints per
// client IP. Counters live in Redis so every replica shares one budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result reports one limiter decision.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter per (route, ip). A Redis failure lets the
// request through: throttling protects capacity, it must not cost
// availability.
type Limiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used to report degraded checks.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func NewLimiter(client redis.UniversalClient, limit int64, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) key(route, ip string) string {
	return fmt.Sprintf("ratelimit:%s:%s", route, ip)
}

// Check counts the request against its window and reports whether it may
// proceed.
func (l *Limiter) Check(ctx context.Context, route, ip string) Result {
	key := l.key(route, ip)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	// NX keeps the window anchored on its first request.
	pipe.ExpireNX(ctx, key, l.window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("contrôle de débit dégradé", "route", route, "error", err)
		degradedChecksTotal.Inc()
		return Result{Allowed: true, Remaining: l.limit}
	}

	n := count.Val()
	if n > l.limit {
		throttledTotal.WithLabelValues(route).Inc()
		return Result{Allowed: false, RetryAfter: ttl.Val()}
	}
	return Result{Allowed: true, Remaining: l.limit - n}
}
