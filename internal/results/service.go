package results

import (
	"context"
	"time"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
	"github.com/victornm/tabletop/internal/scenario"
	"github.com/victornm/tabletop/internal/score"
	"github.com/victornm/tabletop/internal/training"
)

type Config struct {
	Training  *training.Service
	Score     *score.Service
	Scenarios scenario.Repository
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	training  *training.Service
	score     *score.Service
	scenarios scenario.Repository
	now       func() time.Time
}

func NewService(c Config) *Service {
	now := c.Clock
	if now == nil {
		now = time.Now
	}

	return &Service{
		training:  c.Training,
		score:     c.Score,
		scenarios: c.Scenarios,
		now:       now,
	}
}

type GetRankingRequest struct {
	TrainingID string
}

// GetRanking returns the public ranking. It only needs the ledger, so it stays
// available when the scenario cannot be read.
func (s *Service) GetRanking(ctx context.Context, req GetRankingRequest) (*domain.Ranking, error) {
	t, err := s.training.Load(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}

	rs, err := s.score.Responses(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}

	r := Rank(t, rs)
	return &r, nil
}

type GetResultsRequest struct {
	TrainingID string
	UserID     string
}

// GetResults returns the requester's private results. It fails when the scenario
// cannot be read instead of reporting zeroes.
func (s *Service) GetResults(ctx context.Context, req GetResultsRequest) (*Results, error) {
	t, err := s.training.Load(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}

	p, ok := t.Participant(req.UserID)
	if !ok || p.Status != domain.ParticipantAccepted {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonNoAccess),
			errors.WithMessagef("you are not an accepted member of this training"),
		)
	}
	if p.Role != domain.RoleParticipant {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonRoleNotAllowed),
			errors.WithMessagef("only participants have personal results"),
		)
	}

	sc, err := scenario.Load(ctx, s.scenarios, t.Scenario)
	if err != nil {
		return nil, err
	}

	rs, err := s.score.Responses(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}

	res := Compute(t, sc, rs, req.UserID, s.now())
	return &res, nil
}

type GetStatisticsRequest struct {
	TrainingID string
	UserID     string
}

// GetStatistics returns per-question and per-participant statistics to a facilitator.
func (s *Service) GetStatistics(ctx context.Context, req GetStatisticsRequest) (*Statistics, error) {
	t, err := s.training.Load(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}
	if !t.IsFacilitator(req.UserID) {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonNotFacilitator),
			errors.WithMessagef("only a facilitator can view statistics"),
		)
	}

	sc, err := scenario.Load(ctx, s.scenarios, t.Scenario)
	if err != nil {
		return nil, err
	}

	rs, err := s.score.Responses(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}

	st := ComputeStatistics(t, sc, rs, s.now())
	return &st, nil
}
