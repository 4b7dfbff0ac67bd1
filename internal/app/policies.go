package app

import (
	"github.com/fieldops/resilience/internal/config"
	fallbackUseCase "github.com/fieldops/resilience/internal/fallback/usecase"
	healthDomain "github.com/fieldops/resilience/internal/health/domain"
	healthUseCase "github.com/fieldops/resilience/internal/health/usecase"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

func toHealthPolicy(s config.ServicePolicy) healthDomain.Policy {
	return healthDomain.Policy{
		DegradedThreshold: s.DegradedThreshold,
		PanicThreshold:    s.PanicThreshold,
		RecoveryThreshold: s.RecoveryThreshold,
		MinPanicDuration:  s.MinPanicDuration,
		CallTimeout:       s.CallTimeout,
		DegradedTimeout:   s.DegradedTimeout,
	}
}

func toQueuePolicy(q config.QueuePolicy) queueDomain.Policy {
	return queueDomain.Policy{
		Concurrency:        q.Concurrency,
		RateLimitPerMinute: q.RateLimitPerMinute,
		MaxSize:            q.MaxSize,
		Overflow:           q.Overflow,
		HighPriority:       q.HighPriority,
		Backoff: queueDomain.BackoffPolicy{
			Base:       q.BackoffBase,
			Cap:        q.BackoffCap,
			Multiplier: q.BackoffMultiplier,
		},
		MaxAttempts:              q.MaxAttempts,
		PollInterval:             q.PollInterval,
		BatchSize:                q.BatchSize,
		JobTimeout:               q.JobTimeout,
		StaleLockTimeout:         q.StaleLockTimeout,
		DeadLetterAlertThreshold: q.DeadLetterAlertThreshold,
	}
}

// healthConfig monitors every configured service. Services first seen at runtime
// get the default thresholds.
func healthConfig(p *config.Policies) healthUseCase.Config {
	cfg := healthUseCase.Config{
		Services:      make(map[string]healthDomain.Policy, len(p.Services)),
		DefaultPolicy: toHealthPolicy(config.DefaultServicePolicy("")),
	}
	for _, s := range p.Services {
		cfg.Services[s.Name] = toHealthPolicy(s)
	}
	return cfg
}

// queueConfig declares every queue named by a queue policy or referenced by a service.
func queueConfig(p *config.Policies) queueUseCase.Config {
	cfg := queueUseCase.Config{Queues: make(map[string]queueDomain.Policy, len(p.Queues))}
	for _, q := range p.Queues {
		cfg.Queues[q.Name] = toQueuePolicy(q)
	}
	for _, s := range p.Services {
		if _, ok := cfg.Queues[s.Queue]; !ok {
			cfg.Queues[s.Queue] = toQueuePolicy(p.Queue(s.Queue))
		}
	}
	return cfg
}

func routerConfig(p *config.Policies) fallbackUseCase.Config {
	cfg := fallbackUseCase.Config{Routes: make(map[string]fallbackUseCase.Route, len(p.Services))}
	for _, s := range p.Services {
		cfg.Routes[s.Name] = fallbackUseCase.Route{
			Queue:          s.Queue,
			IdempotencyTTL: s.IdempotencyTTL,
		}
	}
	return cfg
}
