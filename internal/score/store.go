package score

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
)

// Store is the append-only submission ledger. Insert must reject a second entry for
// the same (training, user, round, question) atomically, so that the loser of a
// concurrent race gets a duplicate error instead of a second row.
type Store interface {
	Insert(ctx context.Context, r *domain.Response) error
	Exists(ctx context.Context, trainingID, userID string, roundID int, questionID string) (bool, error)
	ListForUser(ctx context.Context, trainingID, userID string) ([]domain.Response, error)
	ListForTraining(ctx context.Context, trainingID string) ([]domain.Response, error)
}

func duplicate(r *domain.Response, cause error) error {
	return errors.New(errors.CodeAlreadyExists,
		errors.WithReason(errors.ReasonDuplicate),
		errors.WithMessagef("question %s of round %d has already been answered", r.QuestionID, r.RoundID),
		errors.WithCause(cause),
	)
}

type responseKey struct {
	trainingID string
	userID     string
	roundID    int
	questionID string
}

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	keys      map[responseKey]struct{}
	responses map[string][]domain.Response
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:      make(map[responseKey]struct{}),
		responses: make(map[string][]domain.Response),
	}
}

func (s *MemoryStore) Insert(_ context.Context, r *domain.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := responseKey{r.TrainingID, r.UserID, r.RoundID, r.QuestionID}
	if _, ok := s.keys[k]; ok {
		return duplicate(r, nil)
	}

	s.keys[k] = struct{}{}
	s.responses[r.TrainingID] = append(s.responses[r.TrainingID], *r)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, trainingID, userID string, roundID int, questionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.keys[responseKey{trainingID, userID, roundID, questionID}]
	return ok, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, trainingID, userID string) ([]domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Response
	for _, r := range s.responses[trainingID] {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sortResponses(out)
	return out, nil
}

func (s *MemoryStore) ListForTraining(_ context.Context, trainingID string) ([]domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Clone(s.responses[trainingID])
	sortResponses(out)
	return out, nil
}

func sortResponses(rs []domain.Response) {
	slices.SortStableFunc(rs, func(a, b domain.Response) int {
		if c := cmp.Compare(a.RoundID, b.RoundID); c != 0 {
			return c
		}
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
}
