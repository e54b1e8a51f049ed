package reajuste

import (
	"context"
	"time"

	"github.com/terravista/lot-sales/generic"
)

// =============================================================================
// PARAMETER SERVICE - The single active configuration
// =============================================================================

// ParameterService reads and updates the readjustment configuration.
// Callers load the parameters once per operation and pass the value down;
// nothing in the engine reads configuration from ambient state.
type ParameterService struct {
	repo  ParameterRepository
	clock func() time.Time
}

func NewParameterService(repo ParameterRepository, clock func() time.Time) *ParameterService {
	if clock == nil {
		clock = time.Now
	}
	return &ParameterService{repo: repo, clock: clock}
}

// Get returns the current parameters, seeding the defaults when none exist.
func (s *ParameterService) Get(ctx context.Context) (Parameters, error) {
	p, found, err := s.repo.LoadParameters(ctx)
	if err != nil {
		return Parameters{}, generic.StoreError("load parameters", err)
	}
	if found {
		return p, nil
	}

	p = DefaultParameters()
	p.UpdatedAt = s.clock().UTC()
	if err := s.repo.SaveParameters(ctx, p); err != nil {
		return Parameters{}, generic.StoreError("seed parameters", err)
	}
	return p, nil
}

// Set validates p and stores it as the active configuration.
// Nothing is written when validation fails.
func (s *ParameterService) Set(ctx context.Context, p Parameters) (Parameters, error) {
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	p.UpdatedAt = s.clock().UTC()
	if err := s.repo.SaveParameters(ctx, p); err != nil {
		return Parameters{}, generic.StoreError("save parameters", err)
	}
	return p, nil
}
