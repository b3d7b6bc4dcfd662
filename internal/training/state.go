package training

import (
	"time"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
)

// RoundAction moves the round pointer.
type RoundAction string

const (
	RoundNext     RoundAction = "next"
	RoundPrevious RoundAction = "previous"
	RoundSet      RoundAction = "set"
)

// TimerAction controls the round timer.
type TimerAction string

const (
	TimerStart TimerAction = "start"
	TimerPause TimerAction = "pause"
	TimerReset TimerAction = "reset"
)

func invalidTransition(from, to domain.Status) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonInvalidTransition),
		errors.WithMessagef("cannot change training status from %s to %s", from, to),
	)
}

// transition applies the lifecycle change to t together with its timer side effects.
// Requesting the current status is a no-op and reports false.
func transition(t *domain.Training, to domain.Status, now time.Time) (bool, error) {
	if !to.Valid() {
		return false, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidStatus),
			errors.WithMessagef("invalid status %q", to),
		)
	}

	from := t.Status
	if from == to {
		return false, nil
	}

	switch to {
	case domain.StatusActive:
		if from != domain.StatusNotStarted && from != domain.StatusPaused {
			return false, invalidTransition(from, to)
		}
		t.TrainingTimer.Start(now)
		if t.StartedAt == nil {
			t.StartedAt = &now
		}

	case domain.StatusPaused:
		if from != domain.StatusActive {
			return false, invalidTransition(from, to)
		}
		t.TrainingTimer.Pause(now)

	case domain.StatusCompleted:
		t.TrainingTimer.Pause(now)
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}

	case domain.StatusNotStarted:
		if from != domain.StatusCompleted {
			return false, errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(errors.ReasonInvalidTransition),
				errors.WithMessagef("a training can only be reset once it is completed"),
			)
		}
		t.StartedAt = nil
		t.CompletedAt = nil
		t.CurrentRound = 0
		t.TrainingTimer.Reset()
		t.RoundTimer.Reset()
	}

	t.Status = to
	return true, nil
}

// moveRound returns the new round pointer for action, bounded by roundCount.
func moveRound(current, roundCount int, action RoundAction, target *int) (int, error) {
	last := roundCount - 1
	if last < 0 {
		last = 0
	}

	switch action {
	case RoundNext:
		if current >= last {
			return last, nil
		}
		return current + 1, nil

	case RoundPrevious:
		if current <= 0 {
			return 0, nil
		}
		return current - 1, nil

	case RoundSet:
		if target == nil {
			return 0, errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonInvalidRound),
				errors.WithMessagef("round is required for action %q", action),
			)
		}
		if *target < 0 || *target > last {
			return 0, errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonInvalidRound),
				errors.WithMessagef("round must be between 0 and %d", last),
			)
		}
		return *target, nil
	}

	return 0, errors.New(errors.CodeInvalidArgument,
		errors.WithReason(errors.ReasonInvalidAction),
		errors.WithMessagef("invalid round action %q", action),
	)
}

// controlTimer applies a facilitator action to the round timer.
func controlTimer(t *domain.Training, action TimerAction, now time.Time) error {
	switch action {
	case TimerStart:
		t.RoundTimer.Start(now)
	case TimerPause:
		t.RoundTimer.Pause(now)
	case TimerReset:
		t.RoundTimer.Reset()
	default:
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidAction),
			errors.WithMessagef("invalid timer action %q", action),
		)
	}
	return nil
}

// checkSubmission enforces who may answer which round, and when. The duplicate
// check is left to the ledger's unique constraint.
func checkSubmission(t *domain.Training, userID string, roundID int) error {
	if t.Status != domain.StatusActive {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonTrainingNotActive),
			errors.WithMessagef("training is %s, answers are only accepted while it is active", t.Status),
		)
	}

	p, ok := t.Participant(userID)
	if !ok || p.Status != domain.ParticipantAccepted {
		return errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonNoAccess),
			errors.WithMessagef("you are not an accepted member of this training"),
		)
	}

	if p.Role != domain.RoleParticipant {
		return errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonRoleNotAllowed),
			errors.WithMessagef("%ss cannot submit answers", p.Role),
		)
	}

	if roundID < 0 || roundID > t.CurrentRound {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonRoundNotAccessible),
			errors.WithMessagef("round %d is not open yet", roundID),
		)
	}

	return nil
}

func requireFacilitator(t *domain.Training, userID string) error {
	if !t.IsFacilitator(userID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonNotFacilitator),
			errors.WithMessagef("only a facilitator can do this"),
		)
	}
	return nil
}

func requireCapacity(t *domain.Training) error {
	if t.AcceptedCount() >= t.MaxParticipants {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonCapacityReached),
			errors.WithMessagef("training is full (%d participants)", t.MaxParticipants),
		)
	}
	return nil
}
