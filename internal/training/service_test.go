package training_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
	"github.com/victornm/tabletop/internal/event"
	"github.com/victornm/tabletop/internal/scenario"
	"github.com/victornm/tabletop/internal/training"
)

var drillRef = domain.ScenarioRef{Category: "malware", Type: "tabletop", ID: "ransomware"}

const (
	facilitator = "fac"
	alice       = "alice"
	bob         = "bob"
	observer    = "obs"
)

type fixture struct {
	svc   *training.Service
	bus   *event.Bus
	clock *clock
	t     *domain.Training
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := scenario.NewMemoryRepository()
	repo.Put(drillRef, domain.Scenario{
		ID:          "ransomware",
		Title:       "Ransomware",
		Description: "Encrypted shares",
		Rounds: []domain.Round{
			{ID: "r1", Questions: []domain.Question{{ID: "q1", Type: domain.QuestionTrueFalse, Points: 1, CorrectAnswer: true}}},
			{ID: "r2", Questions: []domain.Question{{ID: "q1", Type: domain.QuestionTrueFalse, Points: 1, CorrectAnswer: false}}},
			{ID: "r3"},
		},
	})

	bus := event.NewBus()
	c := &clock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	svc := training.NewService(training.Config{
		Store:     training.NewMemoryStore(),
		Scenarios: repo,
		EventBus:  bus,
		Clock:     c.Now,
	})

	tr, err := svc.CreateTraining(context.Background(), training.CreateTrainingRequest{
		Facilitator:     facilitator,
		Nickname:        "Facilitator",
		Name:            "Monday drill",
		Scenario:        drillRef,
		MaxParticipants: 4,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, bus: bus, clock: c, t: tr}
}

func (f *fixture) join(t *testing.T, user string, role domain.Role) {
	t.Helper()
	_, err := f.svc.Join(context.Background(), training.JoinRequest{
		TrainingID: f.t.TrainingID,
		UserID:     user,
		Nickname:   user,
		AccessCode: f.t.AccessCode,
		Role:       role,
	})
	require.NoError(t, err)
}

func (f *fixture) status(t *testing.T, s domain.Status) *domain.Training {
	t.Helper()
	tr, err := f.svc.ChangeStatus(context.Background(), training.ChangeStatusRequest{
		TrainingID: f.t.TrainingID,
		UserID:     facilitator,
		Status:     s,
	})
	require.NoError(t, err)
	return tr
}

func TestService_CreateTraining(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, domain.StatusNotStarted, f.t.Status)
	assert.Equal(t, "Ransomware", f.t.ScenarioTitle)
	assert.Equal(t, "Encrypted shares", f.t.ScenarioDescription)
	assert.Len(t, f.t.AccessCode, 8)
	require.Len(t, f.t.Participants, 1)
	assert.True(t, f.t.IsFacilitator(facilitator))
	assert.True(t, f.t.TrainingTimer.Paused)
	assert.True(t, f.t.RoundTimer.Paused)

	ctx := context.Background()

	_, err := f.svc.CreateTraining(ctx, training.CreateTrainingRequest{
		Facilitator: facilitator,
		Name:        "Unknown scenario",
		Scenario:    domain.ScenarioRef{Category: "x", Type: "y", ID: "z"},
	})
	assert.True(t, errors.HasReason(err, errors.ReasonScenarioNotFound))

	_, err = f.svc.CreateTraining(ctx, training.CreateTrainingRequest{Facilitator: facilitator, Scenario: drillRef})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidRequest))

	_, err = f.svc.CreateTraining(ctx, training.CreateTrainingRequest{Facilitator: facilitator, Name: "x", Scenario: drillRef, MaxParticipants: -1})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidRequest))
}

func TestService_ChangeStatus(t *testing.T) {
	type (
		inputs struct {
			path []domain.Status
			to   domain.Status
		}

		outputs struct {
			t   *domain.Training
			err error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"start from not_started": {
			arrange: func() inputs {
				return inputs{to: domain.StatusActive}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, domain.StatusActive, out.t.Status)
				assert.True(t, out.t.TrainingTimer.Running())
				assert.NotNil(t, out.t.StartedAt)
			},
		},

		"pause from active": {
			arrange: func() inputs {
				return inputs{path: []domain.Status{domain.StatusActive}, to: domain.StatusPaused}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, domain.StatusPaused, out.t.Status)
				assert.Equal(t, time.Minute, out.t.TrainingTimer.Elapsed)
				assert.Nil(t, out.t.TrainingTimer.StartedAt)
			},
		},

		"pause from not_started is rejected": {
			arrange: func() inputs {
				return inputs{to: domain.StatusPaused}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonInvalidTransition))
			},
		},

		"complete from not_started": {
			arrange: func() inputs {
				return inputs{to: domain.StatusCompleted}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.NotNil(t, out.t.CompletedAt)
				assert.Equal(t, time.Duration(0), out.t.TrainingTimer.Elapsed)
			},
		},

		"complete flushes the running timer": {
			arrange: func() inputs {
				return inputs{path: []domain.Status{domain.StatusActive}, to: domain.StatusCompleted}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, time.Minute, out.t.TrainingTimer.Elapsed)
				assert.True(t, out.t.TrainingTimer.Paused)
			},
		},

		"resume from completed is rejected": {
			arrange: func() inputs {
				return inputs{path: []domain.Status{domain.StatusActive, domain.StatusCompleted}, to: domain.StatusActive}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeFailedPrecondition))
				assert.True(t, errors.HasReason(out.err, errors.ReasonInvalidTransition))
			},
		},

		"reset from active is rejected": {
			arrange: func() inputs {
				return inputs{path: []domain.Status{domain.StatusActive}, to: domain.StatusNotStarted}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonInvalidTransition))
			},
		},

		"reset from paused is rejected": {
			arrange: func() inputs {
				return inputs{path: []domain.Status{domain.StatusActive, domain.StatusPaused}, to: domain.StatusNotStarted}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonInvalidTransition))
			},
		},

		"unknown status is a validation error": {
			arrange: func() inputs {
				return inputs{to: domain.Status("archived")}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
				assert.True(t, errors.HasReason(out.err, errors.ReasonInvalidStatus))
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			in := tc.arrange()
			for _, s := range in.path {
				f.status(t, s)
				f.clock.Advance(time.Minute)
			}

			tr, err := f.svc.ChangeStatus(context.Background(), training.ChangeStatusRequest{
				TrainingID: f.t.TrainingID,
				UserID:     facilitator,
				Status:     in.to,
			})
			tc.assert(t, outputs{t: tr, err: err})
		})
	}
}

func TestService_ChangeStatus_DoublePause(t *testing.T) {
	f := newFixture(t)

	f.status(t, domain.StatusActive)
	f.clock.Advance(90 * time.Second)
	f.status(t, domain.StatusPaused)
	f.clock.Advance(time.Hour)
	tr := f.status(t, domain.StatusPaused)

	assert.Equal(t, 90*time.Second, tr.TrainingTimer.Elapsed)

	f.status(t, domain.StatusActive)
	f.clock.Advance(30 * time.Second)
	tr = f.status(t, domain.StatusPaused)
	assert.Equal(t, 2*time.Minute, tr.TrainingTimer.Elapsed)
}

func TestService_ChangeStatus_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.status(t, domain.StatusActive)
	_, err := f.svc.ChangeRound(ctx, training.ChangeRoundRequest{TrainingID: f.t.TrainingID, UserID: facilitator, Action: training.RoundNext})
	require.NoError(t, err)
	_, err = f.svc.ControlRoundTimer(ctx, training.ControlRoundTimerRequest{TrainingID: f.t.TrainingID, UserID: facilitator, Action: training.TimerStart})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.status(t, domain.StatusCompleted)

	tr := f.status(t, domain.StatusNotStarted)

	assert.Equal(t, domain.StatusNotStarted, tr.Status)
	assert.Equal(t, 0, tr.CurrentRound)
	assert.Nil(t, tr.StartedAt)
	assert.Nil(t, tr.CompletedAt)
	for name, tm := range map[string]struct {
		paused  bool
		elapsed time.Duration
		started *time.Time
	}{
		"training": {tr.TrainingTimer.Paused, tr.TrainingTimer.Elapsed, tr.TrainingTimer.StartedAt},
		"round":    {tr.RoundTimer.Paused, tr.RoundTimer.Elapsed, tr.RoundTimer.StartedAt},
	} {
		assert.True(t, tm.paused, name)
		assert.Zero(t, tm.elapsed, name)
		assert.Nil(t, tm.started, name)
	}
}

func TestService_ChangeStatus_RequiresFacilitator(t *testing.T) {
	f := newFixture(t)
	f.join(t, alice, domain.RoleParticipant)

	_, err := f.svc.ChangeStatus(context.Background(), training.ChangeStatusRequest{
		TrainingID: f.t.TrainingID,
		UserID:     alice,
		Status:     domain.StatusActive,
	})
	assert.True(t, errors.Is(err, errors.CodePermissionDenied))
	assert.True(t, errors.HasReason(err, errors.ReasonNotFacilitator))

	_, err = f.svc.ChangeStatus(context.Background(), training.ChangeStatusRequest{
		TrainingID: "missing",
		UserID:     facilitator,
		Status:     domain.StatusActive,
	})
	assert.True(t, errors.HasReason(err, errors.ReasonTrainingNotFound))
}

func TestService_ChangeStatus_PublishesEvent(t *testing.T) {
	f := newFixture(t)

	var (
		mu       sync.Mutex
		received []domain.EventTrainingStatusChanged
	)
	f.bus.Subscribe(domain.EventNameTrainingStatusChanged, func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.(domain.EventTrainingStatusChanged))
		return nil
	})

	f.status(t, domain.StatusActive)
	f.status(t, domain.StatusActive)
	f.bus.Stop()

	require.Len(t, received, 1, "a no-op change publishes nothing")
	assert.Equal(t, domain.StatusNotStarted, received[0].From)
	assert.Equal(t, domain.StatusActive, received[0].Training.Status)
}

func TestService_ChangeRound(t *testing.T) {
	ptr := func(i int) *int { return &i }

	f := newFixture(t)
	ctx := context.Background()
	move := func(a training.RoundAction, round *int) (*domain.Training, error) {
		return f.svc.ChangeRound(ctx, training.ChangeRoundRequest{
			TrainingID: f.t.TrainingID,
			UserID:     facilitator,
			Action:     a,
			Round:      round,
		})
	}

	tr, err := move(training.RoundPrevious, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.CurrentRound, "previous is bounded at 0")

	tr, err = move(training.RoundNext, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.CurrentRound)

	tr, err = move(training.RoundSet, ptr(2))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.CurrentRound)

	tr, err = move(training.RoundNext, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.CurrentRound, "next is bounded at the last round")

	_, err = move(training.RoundSet, ptr(3))
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidRound))

	_, err = move(training.RoundSet, ptr(-1))
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidRound))

	_, err = move(training.RoundSet, nil)
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidRound))

	_, err = move("jump", nil)
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidAction))

	f.join(t, alice, domain.RoleParticipant)
	_, err = f.svc.ChangeRound(ctx, training.ChangeRoundRequest{TrainingID: f.t.TrainingID, UserID: alice, Action: training.RoundNext})
	assert.True(t, errors.HasReason(err, errors.ReasonNotFacilitator))

	f.status(t, domain.StatusActive)
	f.status(t, domain.StatusPaused)
	tr, err = f.svc.Load(ctx, f.t.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.CurrentRound, "pausing keeps the round pointer")
}

func TestService_ControlRoundTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	control := func(a training.TimerAction) (*domain.Training, error) {
		return f.svc.ControlRoundTimer(ctx, training.ControlRoundTimerRequest{
			TrainingID: f.t.TrainingID,
			UserID:     facilitator,
			Action:     a,
		})
	}

	_, err := control(training.TimerStart)
	require.NoError(t, err)
	f.clock.Advance(45 * time.Second)

	tr, err := control(training.TimerPause)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, tr.RoundTimer.Elapsed)
	assert.Zero(t, tr.TrainingTimer.Elapsed, "round timer is independent")

	tr, err = control(training.TimerReset)
	require.NoError(t, err)
	assert.Zero(t, tr.RoundTimer.Elapsed)

	_, err = control("stop")
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidAction))
}

func TestService_Join(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	join := func(user, code string, role domain.Role) error {
		_, err := f.svc.Join(ctx, training.JoinRequest{
			TrainingID: f.t.TrainingID,
			UserID:     user,
			Nickname:   user,
			AccessCode: code,
			Role:       role,
		})
		return err
	}

	err := join(alice, "WRONG", "")
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidAccessCode))

	require.NoError(t, join(alice, f.t.AccessCode, ""))
	require.NoError(t, join(alice, f.t.AccessCode, ""), "joining twice is a no-op")
	require.NoError(t, join(observer, f.t.AccessCode, domain.RoleObserver))
	require.NoError(t, join(bob, f.t.AccessCode, domain.RoleParticipant))

	err = join("carol", f.t.AccessCode, "")
	assert.True(t, errors.HasReason(err, errors.ReasonCapacityReached))

	err = join("dave", f.t.AccessCode, domain.RoleFacilitator)
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidRequest))

	tr, err := f.svc.Load(ctx, f.t.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, 4, tr.AcceptedCount())
	ranked := tr.Ranked()
	require.Len(t, ranked, 2)
	assert.Equal(t, alice, ranked[0].UserID)
	assert.Equal(t, bob, ranked[1].UserID)
}

func TestService_Invitations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invite := func(by, user string) error {
		_, err := f.svc.Invite(ctx, training.InviteRequest{
			TrainingID:  f.t.TrainingID,
			Facilitator: by,
			UserID:      user,
			Nickname:    user,
		})
		return err
	}

	require.NoError(t, invite(facilitator, alice))
	require.NoError(t, invite(facilitator, bob))
	assert.True(t, errors.Is(invite(facilitator, alice), errors.CodeAlreadyExists))
	assert.True(t, errors.HasReason(invite(alice, "carol"), errors.ReasonNotFacilitator))

	_, _, err := f.svc.GetTraining(ctx, training.GetTrainingRequest{TrainingID: f.t.TrainingID, UserID: alice})
	require.NoError(t, err, "a pending invitee can see the training")

	tr, err := f.svc.RespondInvitation(ctx, training.RespondInvitationRequest{TrainingID: f.t.TrainingID, UserID: alice, Accept: true})
	require.NoError(t, err)
	p, ok := tr.Participant(alice)
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantAccepted, p.Status)

	tr, err = f.svc.RespondInvitation(ctx, training.RespondInvitationRequest{TrainingID: f.t.TrainingID, UserID: bob, Accept: false})
	require.NoError(t, err)
	p, ok = tr.Participant(bob)
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantDeclined, p.Status)

	_, err = f.svc.RespondInvitation(ctx, training.RespondInvitationRequest{TrainingID: f.t.TrainingID, UserID: bob, Accept: true})
	assert.True(t, errors.HasReason(err, errors.ReasonNoAccess))

	_, _, err = f.svc.GetTraining(ctx, training.GetTrainingRequest{TrainingID: f.t.TrainingID, UserID: bob})
	assert.True(t, errors.HasReason(err, errors.ReasonNoAccess))

	_, _, err = f.svc.GetTraining(ctx, training.GetTrainingRequest{TrainingID: f.t.TrainingID, UserID: "stranger"})
	assert.True(t, errors.HasReason(err, errors.ReasonNoAccess))
}

func TestService_ValidateSubmission(t *testing.T) {
	type outputs struct {
		err error
	}

	tests := map[string]struct {
		status domain.Status
		user   string
		round  int
		assert func(t *testing.T, out outputs)
	}{
		"participant answering the current round": {
			status: domain.StatusActive, user: alice, round: 1,
			assert: func(t *testing.T, out outputs) {
				assert.NoError(t, out.err)
			},
		},
		"participant answering an earlier round": {
			status: domain.StatusActive, user: alice, round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.NoError(t, out.err)
			},
		},
		"future round": {
			status: domain.StatusActive, user: alice, round: 2,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonRoundNotAccessible))
			},
		},
		"negative round": {
			status: domain.StatusActive, user: alice, round: -1,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonRoundNotAccessible))
			},
		},
		"not started": {
			status: domain.StatusNotStarted, user: alice, round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonTrainingNotActive))
			},
		},
		"paused": {
			status: domain.StatusPaused, user: alice, round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonTrainingNotActive))
			},
		},
		"completed": {
			status: domain.StatusCompleted, user: alice, round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonTrainingNotActive))
			},
		},
		"facilitator": {
			status: domain.StatusActive, user: facilitator, round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonRoleNotAllowed))
			},
		},
		"observer": {
			status: domain.StatusActive, user: observer, round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonRoleNotAllowed))
			},
		},
		"pending invitee": {
			status: domain.StatusActive, user: bob, round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonNoAccess))
			},
		},
		"stranger": {
			status: domain.StatusActive, user: "stranger", round: 0,
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonNoAccess))
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			f.join(t, alice, domain.RoleParticipant)
			f.join(t, observer, domain.RoleObserver)
			_, err := f.svc.Invite(ctx, training.InviteRequest{TrainingID: f.t.TrainingID, Facilitator: facilitator, UserID: bob})
			require.NoError(t, err)
			_, err = f.svc.ChangeRound(ctx, training.ChangeRoundRequest{TrainingID: f.t.TrainingID, UserID: facilitator, Action: training.RoundNext})
			require.NoError(t, err)

			switch tc.status {
			case domain.StatusActive:
				f.status(t, domain.StatusActive)
			case domain.StatusPaused:
				f.status(t, domain.StatusActive)
				f.status(t, domain.StatusPaused)
			case domain.StatusCompleted:
				f.status(t, domain.StatusCompleted)
			}

			_, err = f.svc.ValidateSubmission(ctx, training.ValidateSubmissionRequest{
				TrainingID: f.t.TrainingID,
				UserID:     tc.user,
				RoundID:    tc.round,
			})
			tc.assert(t, outputs{err: err})
		})
	}
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Join(ctx, training.JoinRequest{
				TrainingID: f.t.TrainingID,
				UserID:     string(rune('a' + i)),
				AccessCode: f.t.AccessCode,
			})
			if err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	tr, err := f.svc.Load(ctx, f.t.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), accepted.Load())
	assert.Equal(t, 4, tr.AcceptedCount(), "capacity holds under concurrent joins")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
