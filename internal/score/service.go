package score

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
	"github.com/victornm/tabletop/internal/event"
	"github.com/victornm/tabletop/internal/grading"
	"github.com/victornm/tabletop/internal/scenario"
	"github.com/victornm/tabletop/internal/telemetry"
	"github.com/victornm/tabletop/internal/training"
)

type Config struct {
	Store     Store
	Training  *training.Service
	Scenarios scenario.Repository
	EventBus  *event.Bus
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	store     Store
	training  *training.Service
	scenarios scenario.Repository
	eb        *event.Bus
	now       func() time.Time
}

func NewService(c Config) *Service {
	now := c.Clock
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:     c.Store,
		training:  c.Training,
		scenarios: c.Scenarios,
		eb:        c.EventBus,
		now:       now,
	}
}

type SubmitAnswerRequest struct {
	TrainingID string
	UserID     string
	RoundID    int
	QuestionID string
	// Answer is the raw JSON value; its expected shape depends on the question type.
	Answer json.RawMessage
}

type SubmitAnswerResponse struct {
	Response      domain.Response
	Justification string
}

// SubmitAnswer grades the answer and records it in the ledger. A user answers each
// question of a round once; later attempts, concurrent ones included, are rejected
// as duplicates.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	t, err := s.training.ValidateSubmission(ctx, training.ValidateSubmissionRequest{
		TrainingID: req.TrainingID,
		UserID:     req.UserID,
		RoundID:    req.RoundID,
	})
	if err != nil {
		return nil, err
	}

	sc, err := scenario.Load(ctx, s.scenarios, t.Scenario)
	if err != nil {
		return nil, err
	}

	round, ok := sc.Round(req.RoundID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonRoundNotFound),
			errors.WithMessagef("round %d does not exist in this scenario", req.RoundID),
		)
	}
	q, ok := round.Question(req.QuestionID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonQuestionNotFound),
			errors.WithMessagef("question %s does not exist in round %d", req.QuestionID, req.RoundID),
		)
	}

	qt := q.Type.Normalize()

	// A repeated answer is a duplicate whatever its shape. The insert below still
	// settles concurrent attempts.
	answered, err := s.store.Exists(ctx, req.TrainingID, req.UserID, req.RoundID, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if answered {
		telemetry.Submissions.WithLabelValues(string(qt), telemetry.OutcomeDuplicate).Inc()
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonDuplicate),
			errors.WithMessagef("question %s of round %d has already been answered", req.QuestionID, req.RoundID),
		)
	}

	res := grading.Grade(*q, req.Answer)
	if !res.Valid {
		telemetry.Submissions.WithLabelValues(string(qt), telemetry.OutcomeInvalid).Inc()
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidAnswer),
			errors.WithMessagef("%s", res.Message),
		)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate response ID: %w", err)
	}

	r := domain.Response{
		ResponseID:     id.String(),
		TrainingID:     req.TrainingID,
		UserID:         req.UserID,
		RoundID:        req.RoundID,
		QuestionID:     req.QuestionID,
		Answer:         req.Answer,
		QuestionType:   qt,
		IsCorrect:      res.IsCorrect,
		PointsEarned:   res.PointsEarned,
		PointsPossible: res.PointsPossible,
		SubmittedAt:    s.now(),
	}

	if err := s.store.Insert(ctx, &r); err != nil {
		if errors.HasReason(err, errors.ReasonDuplicate) {
			telemetry.Submissions.WithLabelValues(string(qt), telemetry.OutcomeDuplicate).Inc()
		}
		return nil, err
	}

	telemetry.Submissions.WithLabelValues(string(qt), outcome(r)).Inc()
	slog.InfoContext(ctx, "answer recorded",
		"training", r.TrainingID,
		"user", r.UserID,
		"round", r.RoundID,
		"question", r.QuestionID,
		"correct", r.IsCorrect,
		"points", r.PointsEarned,
	)

	s.eb.Publish(ctx, domain.EventAnswerSubmitted{
		Response: r,
	})

	return &SubmitAnswerResponse{
		Response:      r,
		Justification: q.Justification,
	}, nil
}

type ListForUserRequest struct {
	TrainingID string
	UserID     string
}

// ListForUser returns the user's own responses ordered by round, then submission time.
func (s *Service) ListForUser(ctx context.Context, req ListForUserRequest) ([]domain.Response, error) {
	if _, _, err := s.training.GetTraining(ctx, training.GetTrainingRequest{
		TrainingID: req.TrainingID,
		UserID:     req.UserID,
	}); err != nil {
		return nil, err
	}

	return s.store.ListForUser(ctx, req.TrainingID, req.UserID)
}

type ListForTrainingRequest struct {
	TrainingID string
	// UserID must be a facilitator of the training.
	UserID string
}

// ListForTraining returns every participant's responses ordered by round, then
// submission time.
func (s *Service) ListForTraining(ctx context.Context, req ListForTrainingRequest) ([]domain.Response, error) {
	t, err := s.training.Load(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}
	if !t.IsFacilitator(req.UserID) {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonNotFacilitator),
			errors.WithMessagef("only a facilitator can list all responses"),
		)
	}

	return s.store.ListForTraining(ctx, req.TrainingID)
}

// Responses returns the ledger of a training without any access check. Callers
// enforce visibility themselves.
func (s *Service) Responses(ctx context.Context, trainingID string) ([]domain.Response, error) {
	return s.store.ListForTraining(ctx, trainingID)
}

func outcome(r domain.Response) string {
	switch {
	case r.IsCorrect:
		return telemetry.OutcomeCorrect
	case r.PointsEarned.IsPositive():
		return telemetry.OutcomePartial
	default:
		return telemetry.OutcomeIncorrect
	}
}
