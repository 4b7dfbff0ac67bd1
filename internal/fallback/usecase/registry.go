package usecase

import (
	"sort"
	"sync"

	validation "github.com/jellydator/validation"

	apperrors "github.com/fieldops/resilience/internal/errors"
	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	customValidation "github.com/fieldops/resilience/internal/validation"
)

// Registration binds an action kind to the service it calls, the real operation and
// the fallback used when the caller does not supply one.
type Registration struct {
	Service   string
	Operation fallbackDomain.Operation
	Fallback  fallbackDomain.Fallback
}

// Registry maps action kinds to their registration. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds kind. Registering the same kind twice is an error.
func (r *Registry) Register(kind string, reg Registration) error {
	err := validation.Validate(kind, validation.Required, customValidation.NoWhitespace, validation.Length(1, 100))
	if err == nil {
		err = validation.Validate(reg.Service, validation.Required, customValidation.Slug)
	}
	if err != nil {
		return customValidation.WrapValidationError(err)
	}
	if reg.Operation == nil {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "kind %q has no operation", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[kind]; exists {
		return apperrors.Wrapf(fallbackDomain.ErrDuplicateKind, "kind %q", kind)
	}
	r.entries[kind] = reg
	return nil
}

// Lookup returns the registration of kind.
func (r *Registry) Lookup(kind string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[kind]
	return reg, ok
}

// Kinds returns the registered kinds sorted by name.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.entries))
	for kind := range r.entries {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
