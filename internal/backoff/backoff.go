// Package backoff computes capped exponential retry delays.
package backoff

import (
	"context"
	"time"
)

// Policy describes an exponential backoff: Initial * Factor^attempt, capped
// at Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Default is 1s doubling up to 60s.
func Default() Policy {
	return Policy{Initial: time.Second, Max: 60 * time.Second, Factor: 2}
}

// Delay returns the wait before retry number attempt (0-based). Negative
// attempts return Initial.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= factor
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
