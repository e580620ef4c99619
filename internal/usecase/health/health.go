// Package health aggregates readiness checks over the store and the
// embedding provider.
package health

import "context"

// StorePinger checks document store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// Status is the aggregated readiness level.
type Status string

const (
	// Healthy means every component answered.
	Healthy Status = "ok"
	// Degraded means the store is reachable but a provider is not;
	// retrieval of already-ingested evidence still works.
	Degraded Status = "degraded"
	// Unhealthy means the store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult is an individual component outcome.
type CheckResult string

// Component outcomes.
const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// Report aggregates component checks.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates readiness checks.
type Service struct {
	store    StorePinger
	embedder EmbeddingChecker
}

// New creates a Service. embedder can be nil.
func New(store StorePinger, embedder EmbeddingChecker) *Service {
	return &Service{store: store, embedder: embedder}
}

// Check runs all component checks and aggregates the result. Store failure
// dominates: without it neither ingestion nor retrieval can serve.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	storeOK := s.store.Ping(ctx) == nil
	if storeOK {
		checks["store"] = CheckOK
	} else {
		checks["store"] = CheckError
	}

	embedderOK := true
	if s.embedder != nil {
		embedderOK = s.embedder.HealthCheck(ctx) == nil
		if embedderOK {
			checks["embedding"] = CheckOK
		} else {
			checks["embedding"] = CheckError
		}
	}

	status := Healthy
	switch {
	case !storeOK:
		status = Unhealthy
	case !embedderOK:
		status = Degraded
	}

	return Report{Status: status, Checks: checks}
}
