package training

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
	"github.com/victornm/tabletop/internal/event"
	"github.com/victornm/tabletop/internal/scenario"
	"github.com/victornm/tabletop/internal/telemetry"
	"github.com/victornm/tabletop/internal/timer"
)

const defaultMaxParticipants = 20

type Config struct {
	Store     Store
	Scenarios scenario.Repository
	EventBus  *event.Bus
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	store     Store
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
		scenarios: c.Scenarios,
		eb:        c.EventBus,
		now:       now,
	}
}

// CreateTrainingRequest represents a request to create a new training.
type CreateTrainingRequest struct {
	// Facilitator is the user creating the training. It becomes the first accepted member.
	Facilitator string
	Nickname    string
	Name        string
	Description string
	Scenario    domain.ScenarioRef
	// MaxParticipants caps accepted members, the facilitator included. Zero selects the default.
	MaxParticipants int
}

// CreateTraining creates a new training in the not_started state.
func (s *Service) CreateTraining(ctx context.Context, req CreateTrainingRequest) (*domain.Training, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalidRequest("name is required")
	}
	if req.MaxParticipants < 0 {
		return nil, invalidRequest("max participants must be positive")
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = defaultMaxParticipants
	}

	sc, err := s.scenarios.GetScenario(ctx, req.Scenario)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate training ID: %w", err)
	}
	code, err := newAccessCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &domain.Training{
		TrainingID:          id.String(),
		Name:                req.Name,
		Description:         req.Description,
		Status:              domain.StatusNotStarted,
		TrainingTimer:       timer.New(),
		RoundTimer:          timer.New(),
		Scenario:            req.Scenario,
		ScenarioTitle:       sc.Title,
		ScenarioDescription: sc.Description,
		MaxParticipants:     req.MaxParticipants,
		AccessCode:          code,
		CreatedBy:           req.Facilitator,
		CreatedAt:           now,
		Participants: []domain.Participant{{
			UserID:   req.Facilitator,
			Nickname: req.Nickname,
			Role:     domain.RoleFacilitator,
			Status:   domain.ParticipantAccepted,
			JoinedAt: now,
		}},
	}

	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "training created", "training", t.TrainingID, "facilitator", req.Facilitator)
	return t, nil
}

// Load returns the training without any access check.
func (s *Service) Load(ctx context.Context, trainingID string) (*domain.Training, error) {
	return s.store.Get(ctx, trainingID)
}

type GetTrainingRequest struct {
	TrainingID string
	UserID     string
}

// GetTraining returns the training together with the viewer's membership. Only
// members, pending invitees included, may read it.
func (s *Service) GetTraining(ctx context.Context, req GetTrainingRequest) (*domain.Training, *domain.Participant, error) {
	t, err := s.store.Get(ctx, req.TrainingID)
	if err != nil {
		return nil, nil, err
	}

	p, ok := t.Participant(req.UserID)
	if !ok || p.Status == domain.ParticipantDeclined {
		return nil, nil, noAccess()
	}

	return t, p, nil
}

type JoinRequest struct {
	TrainingID string
	UserID     string
	Nickname   string
	AccessCode string
	// Role is participant or observer. Empty means participant.
	Role domain.Role
}

// Join adds the user as an accepted member when the access code matches. Joining
// again is a no-op, a pending invitation is accepted.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*domain.Training, error) {
	if req.Role == "" {
		req.Role = domain.RoleParticipant
	}
	if req.Role != domain.RoleParticipant && req.Role != domain.RoleObserver {
		return nil, invalidRequest("cannot join as %q", req.Role)
	}

	now := s.now()
	return s.store.Update(ctx, req.TrainingID, func(t *domain.Training) error {
		if subtle.ConstantTimeCompare([]byte(t.AccessCode), []byte(strings.ToUpper(req.AccessCode))) != 1 {
			return errors.New(errors.CodePermissionDenied,
				errors.WithReason(errors.ReasonInvalidAccessCode),
				errors.WithMessagef("invalid access code"),
			)
		}

		if p, ok := t.Participant(req.UserID); ok {
			if p.Status == domain.ParticipantAccepted {
				return nil
			}
			if err := requireCapacity(t); err != nil {
				return err
			}
			p.Role = req.Role
			p.Status = domain.ParticipantAccepted
			if req.Nickname != "" {
				p.Nickname = req.Nickname
			}
			return nil
		}

		if err := requireCapacity(t); err != nil {
			return err
		}
		t.Participants = append(t.Participants, domain.Participant{
			UserID:   req.UserID,
			Nickname: req.Nickname,
			Role:     req.Role,
			Status:   domain.ParticipantAccepted,
			JoinedAt: now,
		})
		return nil
	})
}

type InviteRequest struct {
	TrainingID  string
	Facilitator string
	UserID      string
	Nickname    string
	Role        domain.Role
}

// Invite adds a pending membership that the invitee accepts or declines later.
func (s *Service) Invite(ctx context.Context, req InviteRequest) (*domain.Training, error) {
	if req.UserID == "" {
		return nil, invalidRequest("user is required")
	}
	if req.Role == "" {
		req.Role = domain.RoleParticipant
	}
	if !req.Role.Valid() {
		return nil, invalidRequest("invalid role %q", req.Role)
	}

	now := s.now()
	return s.store.Update(ctx, req.TrainingID, func(t *domain.Training) error {
		if err := requireFacilitator(t, req.Facilitator); err != nil {
			return err
		}
		if _, ok := t.Participant(req.UserID); ok {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithReason(errors.ReasonInvalidRequest),
				errors.WithMessagef("user %s is already part of this training", req.UserID),
			)
		}

		t.Participants = append(t.Participants, domain.Participant{
			UserID:   req.UserID,
			Nickname: req.Nickname,
			Role:     req.Role,
			Status:   domain.ParticipantPending,
			JoinedAt: now,
		})
		return nil
	})
}

type RespondInvitationRequest struct {
	TrainingID string
	UserID     string
	Accept     bool
}

// RespondInvitation accepts or declines the user's pending invitation. The
// membership keeps its invitation time as join time.
func (s *Service) RespondInvitation(ctx context.Context, req RespondInvitationRequest) (*domain.Training, error) {
	return s.store.Update(ctx, req.TrainingID, func(t *domain.Training) error {
		p, ok := t.Participant(req.UserID)
		if !ok || p.Status != domain.ParticipantPending {
			return errors.New(errors.CodeNotFound,
				errors.WithReason(errors.ReasonNoAccess),
				errors.WithMessagef("no pending invitation"),
			)
		}

		if !req.Accept {
			p.Status = domain.ParticipantDeclined
			return nil
		}

		if err := requireCapacity(t); err != nil {
			return err
		}
		p.Status = domain.ParticipantAccepted
		return nil
	})
}

type ChangeStatusRequest struct {
	TrainingID string
	UserID     string
	Status     domain.Status
}

// ChangeStatus moves the training through its lifecycle. Asking for the current
// status again changes nothing, so repeated pauses never double-count time.
func (s *Service) ChangeStatus(ctx context.Context, req ChangeStatusRequest) (*domain.Training, error) {
	if !req.Status.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidStatus),
			errors.WithMessagef("invalid status %q", req.Status),
		)
	}

	var (
		from    domain.Status
		changed bool
	)
	now := s.now()
	t, err := s.store.Update(ctx, req.TrainingID, func(t *domain.Training) error {
		if err := requireFacilitator(t, req.UserID); err != nil {
			return err
		}

		from = t.Status
		var err error
		changed, err = transition(t, req.Status, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		telemetry.StatusTransitions.WithLabelValues(string(from), string(t.Status)).Inc()
		slog.InfoContext(ctx, "training status changed", "training", t.TrainingID, "from", from, "to", t.Status)
		s.eb.Publish(ctx, domain.EventTrainingStatusChanged{
			Training: *t.Clone(),
			From:     from,
		})
	}

	return t, nil
}

type ChangeRoundRequest struct {
	TrainingID string
	UserID     string
	Action     RoundAction
	// Round is only read for RoundSet.
	Round *int
}

// ChangeRound moves the current round pointer within the scenario's rounds.
func (s *Service) ChangeRound(ctx context.Context, req ChangeRoundRequest) (*domain.Training, error) {
	cur, err := s.store.Get(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}
	if err := requireFacilitator(cur, req.UserID); err != nil {
		return nil, err
	}

	sc, err := scenario.Load(ctx, s.scenarios, cur.Scenario)
	if err != nil {
		return nil, err
	}

	return s.store.Update(ctx, req.TrainingID, func(t *domain.Training) error {
		if err := requireFacilitator(t, req.UserID); err != nil {
			return err
		}

		round, err := moveRound(t.CurrentRound, len(sc.Rounds), req.Action, req.Round)
		if err != nil {
			return err
		}
		t.CurrentRound = round
		return nil
	})
}

type ControlRoundTimerRequest struct {
	TrainingID string
	UserID     string
	Action     TimerAction
}

// ControlRoundTimer starts, pauses or resets the round timer.
func (s *Service) ControlRoundTimer(ctx context.Context, req ControlRoundTimerRequest) (*domain.Training, error) {
	now := s.now()
	return s.store.Update(ctx, req.TrainingID, func(t *domain.Training) error {
		if err := requireFacilitator(t, req.UserID); err != nil {
			return err
		}
		return controlTimer(t, req.Action, now)
	})
}

type ValidateSubmissionRequest struct {
	TrainingID string
	UserID     string
	RoundID    int
}

// ValidateSubmission checks that the user may answer questions of the round now
// and returns the training it checked against.
func (s *Service) ValidateSubmission(ctx context.Context, req ValidateSubmissionRequest) (*domain.Training, error) {
	t, err := s.store.Get(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}

	if err := checkSubmission(t, req.UserID, req.RoundID); err != nil {
		return nil, err
	}

	return t, nil
}

// Now is the service clock, used to compute live timer values on read.
func (s *Service) Now() time.Time {
	return s.now()
}

func newAccessCode() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate access code: %w", err)
	}
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]), nil
}

func invalidRequest(format string, args ...any) error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithReason(errors.ReasonInvalidRequest),
		errors.WithMessagef(format, args...),
	)
}

func noAccess() error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithReason(errors.ReasonNoAccess),
		errors.WithMessagef("you are not a member of this training"),
	)
}
