package domain

import (
	"math"
	"time"
)

// BackoffPolicy computes exponential retry delays.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
}

// Delay returns base * multiplier^(attempts-1) capped at Cap. The result never
// decreases as attempts grow and is constant once capped.
func (b BackoffPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(b.Base) * math.Pow(multiplier, float64(attempts-1))
	if b.Cap > 0 && (delay > float64(b.Cap) || math.IsInf(delay, 1)) {
		return b.Cap
	}
	return time.Duration(delay)
}
