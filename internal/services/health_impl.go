package services

import (
	"context"
	"fmt"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthImplementation implements the liveness and readiness probes
type HealthImplementation struct {
	deps map[string]Pinger
}

// NewHealthService creates a health service that checks deps on readiness.
func NewHealthService(deps map[string]Pinger) *HealthImplementation {
	return &HealthImplementation{deps: deps}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz fails with ErrNotReady when any dependency is unreachable.
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNotReady, name, err)
		}
	}
	return nil
}
