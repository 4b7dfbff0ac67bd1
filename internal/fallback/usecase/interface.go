// Package usecase implements the fallback router: the single entry point business
// code uses for external side effects. Transient failures are absorbed into the job
// queue; only permanent errors reach the caller.
package usecase

import (
	"context"

	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

// Router dispatches actions according to the health of their target service.
type Router interface {
	// Perform runs action. fallback overrides the registered default fallback when
	// non-nil. The returned error is non-nil only for permanent failures, invalid
	// input, or when the work could not be queued.
	Perform(
		ctx context.Context,
		action fallbackDomain.Action,
		fallback fallbackDomain.Fallback,
	) (fallbackDomain.Outcome, error)

	// JobHandler returns the queue handler that retries deferred actions of kind.
	JobHandler(kind string) queueUseCase.Handler

	// Handlers returns a queue handler for every registered kind, keyed by kind.
	Handlers() map[string]queueUseCase.Handler
}
