package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overflow policy names accepted in QueuePolicy.Overflow.
const (
	OverflowRejectLowPriority     = "reject_low_priority"
	OverflowDropOldestLowPriority = "drop_oldest_low_priority"
)

// ServicePolicy holds circuit breaker thresholds and call settings for one external service.
type ServicePolicy struct {
	Name              string        `yaml:"name"`
	Queue             string        `yaml:"queue"`
	Endpoint          string        `yaml:"endpoint"`
	FallbackEndpoint  string        `yaml:"fallback_endpoint"`
	FallbackTopicURL  string        `yaml:"fallback_topic_url"`
	DegradedThreshold int           `yaml:"degraded_threshold"`
	PanicThreshold    int           `yaml:"panic_threshold"`
	RecoveryThreshold int           `yaml:"recovery_threshold"`
	MinPanicDuration  time.Duration `yaml:"min_panic_duration"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	DegradedTimeout   time.Duration `yaml:"degraded_timeout"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
}

// QueuePolicy holds worker, backoff and overflow settings for one named queue.
type QueuePolicy struct {
	Name                     string        `yaml:"name"`
	Concurrency              int           `yaml:"concurrency"`
	RateLimitPerMinute       int           `yaml:"rate_limit_per_minute"`
	MaxSize                  int           `yaml:"max_size"`
	Overflow                 string        `yaml:"overflow"`
	HighPriority             int           `yaml:"high_priority"`
	BackoffBase              time.Duration `yaml:"backoff_base"`
	BackoffCap               time.Duration `yaml:"backoff_cap"`
	BackoffMultiplier        float64       `yaml:"backoff_multiplier"`
	MaxAttempts              int           `yaml:"max_attempts"`
	PollInterval             time.Duration `yaml:"poll_interval"`
	BatchSize                int           `yaml:"batch_size"`
	JobTimeout               time.Duration `yaml:"job_timeout"`
	StaleLockTimeout         time.Duration `yaml:"stale_lock_timeout"`
	DeadLetterAlertThreshold int           `yaml:"dead_letter_alert_threshold"`
}

// Policies is the document stored in SERVICES_CONFIG_FILE.
type Policies struct {
	Services []ServicePolicy `yaml:"services"`
	Queues   []QueuePolicy   `yaml:"queues"`
}

// DefaultServicePolicy returns the thresholds used when a service omits a value.
func DefaultServicePolicy(name string) ServicePolicy {
	return ServicePolicy{
		Name:              name,
		Queue:             name,
		DegradedThreshold: 3,
		PanicThreshold:    5,
		RecoveryThreshold: 3,
		MinPanicDuration:  5 * time.Minute,
		CallTimeout:       10 * time.Second,
		DegradedTimeout:   3 * time.Second,
		IdempotencyTTL:    24 * time.Hour,
	}
}

// DefaultQueuePolicy returns the settings used when a queue omits a value.
func DefaultQueuePolicy(name string) QueuePolicy {
	return QueuePolicy{
		Name:                     name,
		Concurrency:              4,
		MaxSize:                  10000,
		Overflow:                 OverflowRejectLowPriority,
		HighPriority:             5,
		BackoffBase:              30 * time.Second,
		BackoffCap:               time.Hour,
		BackoffMultiplier:        2,
		MaxAttempts:              10,
		PollInterval:             time.Second,
		BatchSize:                10,
		JobTimeout:               30 * time.Second,
		StaleLockTimeout:         5 * time.Minute,
		DeadLetterAlertThreshold: 10,
	}
}

// DefaultPolicies covers the three mandatory providers of the product.
func DefaultPolicies() *Policies {
	tax := DefaultServicePolicy("tax_authority")
	tax.Queue = "tax"
	tax.IdempotencyTTL = 7 * 24 * time.Hour

	payments := DefaultServicePolicy("payments")
	payments.IdempotencyTTL = 48 * time.Hour

	messaging := DefaultServicePolicy("messaging")
	messaging.IdempotencyTTL = time.Hour

	taxQueue := DefaultQueuePolicy("tax")
	// tax authorities rate limit aggressively
	taxQueue.RateLimitPerMinute = 60

	messagingQueue := DefaultQueuePolicy("messaging")
	messagingQueue.Overflow = OverflowDropOldestLowPriority
	messagingQueue.MaxAttempts = 5

	return &Policies{
		Services: []ServicePolicy{tax, payments, messaging},
		Queues:   []QueuePolicy{taxQueue, DefaultQueuePolicy("payments"), messagingQueue},
	}
}

// LoadPolicies reads the YAML policy file at path and layers it over DefaultPolicies.
// An empty path returns the defaults.
func LoadPolicies(path string) (*Policies, error) {
	defaults := DefaultPolicies()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read policies file: %w", err)
	}

	var fromFile Policies
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse policies file: %w", err)
	}

	return mergePolicies(defaults, &fromFile)
}

// Service returns the policy for name, falling back to defaults for unknown services.
func (p *Policies) Service(name string) ServicePolicy {
	for _, s := range p.Services {
		if s.Name == name {
			return s
		}
	}
	return DefaultServicePolicy(name)
}

// Queue returns the policy for name, falling back to defaults for unknown queues.
func (p *Policies) Queue(name string) QueuePolicy {
	for _, q := range p.Queues {
		if q.Name == name {
			return q
		}
	}
	return DefaultQueuePolicy(name)
}

func mergePolicies(base, override *Policies) (*Policies, error) {
	out := &Policies{}

	services := map[string]ServicePolicy{}
	order := []string{}
	for _, s := range base.Services {
		services[s.Name] = s
		order = append(order, s.Name)
	}
	for _, s := range override.Services {
		if s.Name == "" {
			return nil, fmt.Errorf("service policy without name")
		}
		current, ok := services[s.Name]
		if !ok {
			current = DefaultServicePolicy(s.Name)
			order = append(order, s.Name)
		}
		services[s.Name] = overlayService(current, s)
	}
	for _, name := range order {
		out.Services = append(out.Services, services[name])
	}

	queues := map[string]QueuePolicy{}
	order = order[:0]
	for _, q := range base.Queues {
		queues[q.Name] = q
		order = append(order, q.Name)
	}
	for _, q := range override.Queues {
		if q.Name == "" {
			return nil, fmt.Errorf("queue policy without name")
		}
		if q.Overflow != "" && q.Overflow != OverflowRejectLowPriority && q.Overflow != OverflowDropOldestLowPriority {
			return nil, fmt.Errorf("queue %s: unknown overflow policy %q", q.Name, q.Overflow)
		}
		current, ok := queues[q.Name]
		if !ok {
			current = DefaultQueuePolicy(q.Name)
			order = append(order, q.Name)
		}
		queues[q.Name] = overlayQueue(current, q)
	}
	for _, name := range order {
		out.Queues = append(out.Queues, queues[name])
	}

	// every service must route to a known queue
	for _, s := range out.Services {
		if _, ok := queues[s.Queue]; !ok {
			out.Queues = append(out.Queues, DefaultQueuePolicy(s.Queue))
			queues[s.Queue] = DefaultQueuePolicy(s.Queue)
		}
	}

	return out, nil
}

func overlayService(dst, src ServicePolicy) ServicePolicy {
	if src.Queue != "" {
		dst.Queue = src.Queue
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.FallbackEndpoint != "" {
		dst.FallbackEndpoint = src.FallbackEndpoint
	}
	if src.FallbackTopicURL != "" {
		dst.FallbackTopicURL = src.FallbackTopicURL
	}
	if src.DegradedThreshold > 0 {
		dst.DegradedThreshold = src.DegradedThreshold
	}
	if src.PanicThreshold > 0 {
		dst.PanicThreshold = src.PanicThreshold
	}
	if src.RecoveryThreshold > 0 {
		dst.RecoveryThreshold = src.RecoveryThreshold
	}
	if src.MinPanicDuration > 0 {
		dst.MinPanicDuration = src.MinPanicDuration
	}
	if src.CallTimeout > 0 {
		dst.CallTimeout = src.CallTimeout
	}
	if src.DegradedTimeout > 0 {
		dst.DegradedTimeout = src.DegradedTimeout
	}
	if src.IdempotencyTTL > 0 {
		dst.IdempotencyTTL = src.IdempotencyTTL
	}
	return dst
}

func overlayQueue(dst, src QueuePolicy) QueuePolicy {
	if src.Concurrency > 0 {
		dst.Concurrency = src.Concurrency
	}
	if src.RateLimitPerMinute > 0 {
		dst.RateLimitPerMinute = src.RateLimitPerMinute
	}
	if src.MaxSize > 0 {
		dst.MaxSize = src.MaxSize
	}
	if src.Overflow != "" {
		dst.Overflow = src.Overflow
	}
	if src.HighPriority > 0 {
		dst.HighPriority = src.HighPriority
	}
	if src.BackoffBase > 0 {
		dst.BackoffBase = src.BackoffBase
	}
	if src.BackoffCap > 0 {
		dst.BackoffCap = src.BackoffCap
	}
	if src.BackoffMultiplier > 0 {
		dst.BackoffMultiplier = src.BackoffMultiplier
	}
	if src.MaxAttempts > 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
	if src.PollInterval > 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.BatchSize > 0 {
		dst.BatchSize = src.BatchSize
	}
	if src.JobTimeout > 0 {
		dst.JobTimeout = src.JobTimeout
	}
	if src.StaleLockTimeout > 0 {
		dst.StaleLockTimeout = src.StaleLockTimeout
	}
	if src.DeadLetterAlertThreshold > 0 {
		dst.DeadLetterAlertThreshold = src.DeadLetterAlertThreshold
	}
	return dst
}
