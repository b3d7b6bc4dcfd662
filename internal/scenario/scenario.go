// Package scenario provides read-only lookup of authored scenarios by
// (category, type, id).
package scenario

import (
	"context"
	"fmt"
	"sync"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
)

// Repository looks up a scenario definition. Implementations return a NotFound
// error when the scenario does not exist and an Internal error when it exists but
// cannot be read.
type Repository interface {
	GetScenario(ctx context.Context, ref domain.ScenarioRef) (*domain.Scenario, error)
}

func notFound(ref domain.ScenarioRef) error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonScenarioNotFound),
		errors.WithMessagef("scenario not found: %s/%s/%s", ref.Category, ref.Type, ref.ID),
	)
}

func unavailable(ref domain.ScenarioRef, err error) error {
	return errors.New(errors.CodeInternal,
		errors.WithReason(errors.ReasonScenarioUnavailable),
		errors.WithMessagef("scenario unavailable: %s/%s/%s", ref.Category, ref.Type, ref.ID),
		errors.WithCause(err),
	)
}

// Validate checks the invariants grading relies on: question ids are unique within
// a round and every question has a known type (empty means multiple-choice).
func Validate(s *domain.Scenario) error {
	for ri, r := range s.Rounds {
		seen := make(map[string]struct{}, len(r.Questions))
		for _, q := range r.Questions {
			if q.ID == "" {
				return fmt.Errorf("round %d: question without id", ri)
			}
			if _, ok := seen[q.ID]; ok {
				return fmt.Errorf("round %d: duplicate question id %q", ri, q.ID)
			}
			seen[q.ID] = struct{}{}

			if q.Type != "" && q.Type.Normalize() != q.Type {
				return fmt.Errorf("round %d: question %q has unknown type %q", ri, q.ID, q.Type)
			}
		}
	}
	return nil
}

// MemoryRepository serves scenarios from a map. Useful for tests and demos.
type MemoryRepository struct {
	mu        sync.RWMutex
	scenarios map[domain.ScenarioRef]domain.Scenario
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{scenarios: make(map[domain.ScenarioRef]domain.Scenario)}
}

// Put stores s under ref, replacing any previous entry.
func (r *MemoryRepository) Put(ref domain.ScenarioRef, s domain.Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scenarios[ref] = s
}

func (r *MemoryRepository) GetScenario(_ context.Context, ref domain.ScenarioRef) (*domain.Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scenarios[ref]
	if !ok {
		return nil, notFound(ref)
	}
	return &s, nil
}

// Load fetches the scenario an existing training points at. The training was
// created against that scenario, so a missing entry is reported as unavailable
// rather than not found.
func Load(ctx context.Context, repo Repository, ref domain.ScenarioRef) (*domain.Scenario, error) {
	s, err := repo.GetScenario(ctx, ref)
	if err != nil {
		if errors.HasReason(err, errors.ReasonScenarioUnavailable) {
			return nil, err
		}
		return nil, unavailable(ref, err)
	}
	return s, nil
}
