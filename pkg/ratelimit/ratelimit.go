// Package ratelimit throttles envelope submissions before they reach the
// dispatcher. A global limiter caps total throughput and per-sender
// limiters keep one noisy producer from starving the rest.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter provides global and per-sender rate limiting.
type Limiter struct {
	globalLimiter  *rate.Limiter
	senderLimiters map[string]*rate.Limiter
	mu             sync.RWMutex

	// Configuration
	senderRPS   float64
	senderBurst int
}

// NewLimiter creates a limiter with a global cap and an optional per-sender
// cap. A globalRPS of zero disables the global cap; a senderRPS of zero
// disables per-sender limiting.
func NewLimiter(globalRPS float64, globalBurst int, senderRPS float64, senderBurst int) *Limiter {
	globalLimit := rate.Limit(globalRPS)
	if globalRPS <= 0 {
		globalLimit = rate.Inf
	}
	return &Limiter{
		globalLimiter:  rate.NewLimiter(globalLimit, globalBurst),
		senderLimiters: make(map[string]*rate.Limiter),
		senderRPS:      senderRPS,
		senderBurst:    senderBurst,
	}
}

// Allow checks if a submission should be admitted. Envelopes without a
// sender are only subject to the global cap.
func (l *Limiter) Allow(sender string) bool {
	if !l.globalLimiter.Allow() {
		return false
	}

	if sender == "" || l.senderRPS <= 0 {
		return true
	}

	limiter := l.getSenderLimiter(sender)
	return limiter.Allow()
}

// Wait blocks until a submission can be admitted
func (l *Limiter) Wait(ctx context.Context, sender string) error {
	if err := l.globalLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}

	if sender == "" || l.senderRPS <= 0 {
		return nil
	}

	limiter := l.getSenderLimiter(sender)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sender rate limit: %w", err)
	}

	return nil
}

// getSenderLimiter gets or creates a rate limiter for a specific sender
func (l *Limiter) getSenderLimiter(sender string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.senderLimiters[sender]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.senderLimiters[sender]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.senderRPS), l.senderBurst)
	l.senderLimiters[sender] = limiter
	return limiter
}

// TypeLimiter provides per-message-type rate limiting
type TypeLimiter struct {
	typeLimiters map[string]*rate.Limiter
	mu           sync.RWMutex
}

// NewTypeLimiter creates a new type-specific rate limiter
func NewTypeLimiter() *TypeLimiter {
	return &TypeLimiter{
		typeLimiters: make(map[string]*rate.Limiter),
	}
}

// SetTypeLimit configures the rate limit for a specific message type
func (tl *TypeLimiter) SetTypeLimit(msgType string, rps float64, burst int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.typeLimiters[msgType] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Allow checks if a submission of the given type should be admitted
func (tl *TypeLimiter) Allow(msgType string) bool {
	tl.mu.RLock()
	limiter, exists := tl.typeLimiters[msgType]
	tl.mu.RUnlock()

	if !exists {
		return true // No limit set for this type
	}

	return limiter.Allow()
}

// Wait blocks until a submission of the given type can proceed
func (tl *TypeLimiter) Wait(ctx context.Context, msgType string) error {
	tl.mu.RLock()
	limiter, exists := tl.typeLimiters[msgType]
	tl.mu.RUnlock()

	if !exists {
		return nil // No limit set for this type
	}

	return limiter.Wait(ctx)
}
