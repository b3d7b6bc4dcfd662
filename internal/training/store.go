package training

import (
	"context"
	"sync"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
)

// Store persists trainings. Update must run fn and write its result atomically with
// respect to other Updates of the same training, so that read-modify-write status,
// round and participant changes never interleave.
type Store interface {
	Insert(ctx context.Context, t *domain.Training) error
	Get(ctx context.Context, trainingID string) (*domain.Training, error)
	Update(ctx context.Context, trainingID string, fn func(t *domain.Training) error) (*domain.Training, error)
}

func notFound(trainingID string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonTrainingNotFound),
		errors.WithMessagef("training not found: %s", trainingID),
	)
}

// MemoryStore keeps trainings in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	trainings map[string]*domain.Training
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trainings: make(map[string]*domain.Training)}
}

func (s *MemoryStore) Insert(_ context.Context, t *domain.Training) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trainings[t.TrainingID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("training already exists: %s", t.TrainingID))
	}
	s.trainings[t.TrainingID] = t.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, trainingID string) (*domain.Training, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trainings[trainingID]
	if !ok {
		return nil, notFound(trainingID)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, trainingID string, fn func(t *domain.Training) error) (*domain.Training, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trainings[trainingID]
	if !ok {
		return nil, notFound(trainingID)
	}

	c := t.Clone()
	if err := fn(c); err != nil {
		return nil, err
	}

	s.trainings[trainingID] = c
	return c.Clone(), nil
}
