// Package backoff computes retry delays for failed queue entries.
package backoff

import (
	"math"
	"time"
)

// Exponential schedules retry n (1-indexed by failed attempt) after
// Initial * Multiplier^(n-1), capped at Max when Max is positive.
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Default is the policy used when a queue entry names none: 1s doubling.
func Default() Exponential {
	return Exponential{Initial: time.Second, Multiplier: 2}
}

// Delay returns how long to wait after failed attempt n before attempt n+1.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(e.Initial) * math.Pow(mult, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
