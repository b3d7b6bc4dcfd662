package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/tabletop/internal/timer"
)

// Status is the lifecycle state of a training.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

type Role string

const (
	RoleFacilitator Role = "facilitator"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

func (r Role) Valid() bool {
	return r == RoleFacilitator || r == RoleParticipant || r == RoleObserver
}

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantDeclined ParticipantStatus = "declined"
)

// Participant is a user's membership in a training.
type Participant struct {
	UserID   string
	Nickname string
	Role     Role
	Status   ParticipantStatus
	JoinedAt time.Time
}

// Accepted reports whether p is an accepted member with the given role.
func (p Participant) Accepted(role Role) bool {
	return p.Status == ParticipantAccepted && p.Role == role
}

// ScenarioRef points at an entry of the scenario repository.
type ScenarioRef struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

// Training is one run of a scenario. It never stores question content, only the
// scenario pointer plus a cached title and description.
type Training struct {
	TrainingID          string
	Name                string
	Description         string
	Status              Status
	CurrentRound        int
	TrainingTimer       timer.Timer
	RoundTimer          timer.Timer
	Participants        []Participant
	Scenario            ScenarioRef
	ScenarioTitle       string
	ScenarioDescription string
	MaxParticipants     int
	AccessCode          string
	CreatedBy           string
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// Participant returns the membership of userID, if any.
func (t *Training) Participant(userID string) (*Participant, bool) {
	for i := range t.Participants {
		if t.Participants[i].UserID == userID {
			return &t.Participants[i], true
		}
	}
	return nil, false
}

// AcceptedCount is the number of accepted members, whatever their role.
func (t *Training) AcceptedCount() int {
	n := 0
	for _, p := range t.Participants {
		if p.Status == ParticipantAccepted {
			n++
		}
	}
	return n
}

// IsFacilitator reports whether userID is an accepted facilitator.
func (t *Training) IsFacilitator(userID string) bool {
	p, ok := t.Participant(userID)
	return ok && p.Accepted(RoleFacilitator)
}

// Ranked returns the accepted members with the participant role, in join order.
func (t *Training) Ranked() []Participant {
	ps := make([]Participant, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p.Accepted(RoleParticipant) {
			ps = append(ps, p)
		}
	}
	return ps
}

// Response is a graded answer in the submission ledger.
type Response struct {
	ResponseID     string
	TrainingID     string
	UserID         string
	RoundID        int
	QuestionID     string
	Answer         json.RawMessage
	QuestionType   QuestionType
	IsCorrect      bool
	PointsEarned   decimal.Decimal
	PointsPossible decimal.Decimal
	SubmittedAt    time.Time
}

// Ranking is the ordered standing of a training's participants.
type Ranking struct {
	TrainingID   string
	TrainingName string
	Status       Status
	Entries      []RankingEntry
}

type RankingEntry struct {
	Position        int
	UserID          string
	Nickname        string
	TotalPoints     decimal.Decimal
	TotalPossible   decimal.Decimal
	CorrectCount    int
	TotalResponses  int
	LastSubmittedAt *time.Time
}

// Clone returns a deep copy of t.
func (t *Training) Clone() *Training {
	c := *t
	c.Participants = append([]Participant(nil), t.Participants...)
	c.TrainingTimer.StartedAt = cloneTime(t.TrainingTimer.StartedAt)
	c.RoundTimer.StartedAt = cloneTime(t.RoundTimer.StartedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
