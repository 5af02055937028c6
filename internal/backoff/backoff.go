// Package backoff provides the bounded exponential delay policy used for
// URL resolution retries and webhook redelivery.
package backoff

import (
	"context"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Multiplier scales the delay after each attempt. Values below 1 are
	// treated as 2.
	Multiplier float64
}

// Default is the schedule used when a caller supplies a zero Policy:
// 1 s doubling up to 30 s.
var Default = Policy{
	Initial:    time.Second,
	Max:        30 * time.Second,
	Multiplier: 2,
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.Initial <= 0 {
		p = Default
	}

	if p.Multiplier < 1 {
		p.Multiplier = Default.Multiplier
	}

	d := p.Initial
	for range attempt {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}

	if p.Max > 0 && d > p.Max {
		return p.Max
	}

	return d
}

// Retry runs fn up to attempts times, sleeping per the policy between
// failures. It stops early when ctx is done or fn reports success.
// The last error is returned when every attempt fails.
func Retry(ctx context.Context, attempts int, p Policy, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := range attempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
