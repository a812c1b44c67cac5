package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding outbound API calls. Each upstream
// provider owns one sized to its documented quota.
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	avail    int
	perToken time.Duration
	stamp    time.Time

	now func() time.Time
}

// NewRateLimiter allows capacity calls per perToken window, filled to
// capacity at start.
func NewRateLimiter(capacity int, perToken time.Duration) *RateLimiter {
	return &RateLimiter{
		capacity: capacity,
		avail:    capacity,
		perToken: perToken,
		stamp:    time.Now(),
		now:      time.Now,
	}
}

// Wait takes one token, blocking until one accrues or ctx ends.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		if l.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.perToken):
		}
	}
}

func (l *RateLimiter) take() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if accrued := int(l.now().Sub(l.stamp) / l.perToken); accrued > 0 {
		l.avail += accrued
		if l.avail > l.capacity {
			l.avail = l.capacity
		}
		l.stamp = l.stamp.Add(time.Duration(accrued) * l.perToken)
	}

	if l.avail == 0 {
		return false
	}
	l.avail--
	return true
}
