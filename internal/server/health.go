package server

import (
	"context"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// Pinger reports whether the remote API answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIHealthService verifies the Fintech Index API is reachable.
type APIHealthService struct {
	API Pinger
}

// Probe implements the HealthService interface.
func (s APIHealthService) Probe(ctx context.Context) error {
	if s.API == nil {
		return nil
	}
	return s.API.Ping(ctx)
}
