// Package ratelimit throttles outbound Grok API calls using the rate limit
// headers the API returns, so a busy guild backs off instead of hammering
// the upstream into 429s.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is wrapped by the error HandleRateLimitResponse returns.
var ErrRateLimited = errors.New("rate limited by upstream")

// Bucket tracks the upstream's view of one endpoint's request budget.
type Bucket struct {
	Remaining int           // Requests remaining in current window
	Limit     int           // Total requests allowed per window
	ResetAt   time.Time     // When the window resets
	limiter   *rate.Limiter // Local token bucket between header updates
	mu        sync.Mutex
}

// RateLimiter manages one bucket per API endpoint.
type RateLimiter struct {
	buckets map[string]*Bucket // endpoint -> bucket
	mu      sync.RWMutex
	logger  *zap.Logger

	every time.Duration
	burst int
}

// NewRateLimiter creates a limiter allowing burst calls, then one per every,
// until headers say otherwise.
func NewRateLimiter(logger *zap.Logger, every time.Duration, burst int) *RateLimiter {
	if every <= 0 {
		every = 200 * time.Millisecond
	}
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		buckets: make(map[string]*Bucket),
		logger:  logger,
		every:   every,
		burst:   burst,
	}
}

// getBucket retrieves or creates a bucket for an endpoint
func (rl *RateLimiter) getBucket(endpoint string) *Bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, exists := rl.buckets[endpoint]; exists {
		return bucket
	}

	bucket := &Bucket{
		Remaining: rl.burst,
		Limit:     rl.burst,
		ResetAt:   time.Now().Add(rl.every * time.Duration(rl.burst)),
		limiter:   rate.NewLimiter(rate.Every(rl.every), rl.burst),
	}

	rl.buckets[endpoint] = bucket
	return bucket
}

// Wait blocks until a call to endpoint is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	var pause time.Duration
	if bucket.Remaining <= 0 && time.Now().Before(bucket.ResetAt) {
		pause = time.Until(bucket.ResetAt)
	}
	limiter := bucket.limiter
	bucket.mu.Unlock()

	if pause > 0 {
		rl.logger.Warn("rate limit exhausted, waiting",
			zap.String("endpoint", endpoint),
			zap.Duration("wait_duration", pause),
		)
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter wait cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	return nil
}

// UpdateFromHeaders refreshes the endpoint's bucket from response headers.
// Both X-RateLimit-{Limit,Remaining,Reset} and the
// x-ratelimit-{limit,remaining,reset}-requests variants are understood.
func (rl *RateLimiter) UpdateFromHeaders(endpoint string, headers http.Header) {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if val, ok := headerInt(headers, "X-RateLimit-Remaining", "X-Ratelimit-Remaining-Requests"); ok {
		bucket.Remaining = val
	}
	if val, ok := headerInt(headers, "X-RateLimit-Limit", "X-Ratelimit-Limit-Requests"); ok {
		bucket.Limit = val
	}
	if resetAt, ok := parseReset(headers); ok {
		bucket.ResetAt = resetAt
	}

	if bucket.Limit > 0 {
		resetDuration := time.Until(bucket.ResetAt)
		if resetDuration > 0 {
			tokensPerSecond := float64(bucket.Limit) / resetDuration.Seconds()
			bucket.limiter = rate.NewLimiter(rate.Limit(tokensPerSecond), bucket.Limit)
		}
	}

	rl.logger.Debug("updated rate limit from headers",
		zap.String("endpoint", endpoint),
		zap.Int("remaining", bucket.Remaining),
		zap.Int("limit", bucket.Limit),
		zap.Time("reset_at", bucket.ResetAt),
	)
}

func headerInt(headers http.Header, names ...string) (int, bool) {
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// parseReset accepts an RFC3339 time, a Unix timestamp, or a duration such
// as "1s" or "6m0s".
func parseReset(headers http.Header) (time.Time, bool) {
	for _, name := range []string{"X-RateLimit-Reset", "X-Ratelimit-Reset-Requests"} {
		v := headers.Get(name)
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0), true
		}
		if d, err := time.ParseDuration(v); err == nil {
			return time.Now().Add(d), true
		}
	}
	return time.Time{}, false
}

// HandleRateLimitResponse records a 429 and returns an error wrapping
// ErrRateLimited.
func (rl *RateLimiter) HandleRateLimitResponse(endpoint string, headers http.Header) error {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	var retryAfter time.Duration
	if seconds, ok := headerInt(headers, "Retry-After"); ok {
		retryAfter = time.Duration(seconds) * time.Second
	}
	if retryAfter == 0 {
		if resetAt, ok := parseReset(headers); ok {
			retryAfter = time.Until(resetAt)
		}
	}
	if retryAfter <= 0 {
		retryAfter = 1 * time.Second
	}

	bucket.Remaining = 0
	bucket.ResetAt = time.Now().Add(retryAfter)

	rl.logger.Warn("rate limited by upstream",
		zap.String("endpoint", endpoint),
		zap.Duration("retry_after", retryAfter),
	)

	return fmt.Errorf("%w, retry after %v", ErrRateLimited, retryAfter)
}

// GetStatus returns the current rate limit status for an endpoint
func (rl *RateLimiter) GetStatus(endpoint string) (remaining int, limit int, resetAt time.Time) {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	return bucket.Remaining, bucket.Limit, bucket.ResetAt
}

// Reset clears all buckets.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.buckets = make(map[string]*Bucket)
	rl.logger.Info("rate limiter reset")
}
