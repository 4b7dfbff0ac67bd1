package domain

import "time"

// Overflow policies applied when a queue reaches MaxSize active jobs.
const (
	OverflowRejectLowPriority     = "reject_low_priority"
	OverflowDropOldestLowPriority = "drop_oldest_low_priority"
)

// Policy holds the worker, retry and capacity settings of one queue.
type Policy struct {
	Concurrency              int
	RateLimitPerMinute       int
	MaxSize                  int
	Overflow                 string
	HighPriority             int
	Backoff                  BackoffPolicy
	MaxAttempts              int
	PollInterval             time.Duration
	BatchSize                int
	JobTimeout               time.Duration
	StaleLockTimeout         time.Duration
	DeadLetterAlertThreshold int
}

// IsHighPriority reports whether priority is always accepted at capacity.
func (p Policy) IsHighPriority(priority int) bool {
	return priority >= p.HighPriority
}
