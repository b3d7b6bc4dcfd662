package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/score"
	"github.com/victornm/tabletop/internal/timer"
)

type (
	Training struct {
		TrainingID          string             `json:"training_id"`
		Name                string             `json:"name"`
		Description         string             `json:"description"`
		Status              domain.Status      `json:"status"`
		CurrentRound        int                `json:"current_round"`
		TrainingTimer       timer.Snapshot     `json:"training_timer"`
		RoundTimer          timer.Snapshot     `json:"round_timer"`
		Scenario            domain.ScenarioRef `json:"scenario"`
		ScenarioTitle       string             `json:"scenario_title"`
		ScenarioDescription string             `json:"scenario_description"`
		MaxParticipants     int                `json:"max_participants"`
		AccessCode          string             `json:"access_code,omitempty"`
		CreatedBy           string             `json:"created_by"`
		CreatedAt           time.Time          `json:"created_at"`
		StartedAt           *time.Time         `json:"started_at"`
		CompletedAt         *time.Time         `json:"completed_at"`
		Participants        []Participant      `json:"participants"`
		ViewerRole          domain.Role        `json:"viewer_role"`
	}

	Participant struct {
		UserID   string                   `json:"user_id"`
		Nickname string                   `json:"nickname"`
		Role     domain.Role              `json:"role"`
		Status   domain.ParticipantStatus `json:"status"`
		JoinedAt time.Time                `json:"joined_at"`
	}

	Response struct {
		ResponseID     string              `json:"id"`
		UserID         string              `json:"user_id"`
		RoundID        int                 `json:"round_id"`
		QuestionID     string              `json:"question_id"`
		QuestionType   domain.QuestionType `json:"question_type"`
		Answer         json.RawMessage     `json:"answer"`
		IsCorrect      bool                `json:"is_correct"`
		PointsEarned   decimal.Decimal     `json:"points_earned"`
		PointsPossible decimal.Decimal     `json:"points_possible"`
		SubmittedAt    time.Time           `json:"submitted_at"`
		Justification  string              `json:"justification,omitempty"`
	}

	// Ranking is the public standing. It carries no ids and no timestamps.
	Ranking struct {
		Training RankingTraining `json:"training"`
		Ranking  []RankingEntry  `json:"ranking"`
	}

	RankingTraining struct {
		Name   string        `json:"name"`
		Status domain.Status `json:"status"`
	}

	RankingEntry struct {
		Position       int             `json:"position"`
		Nickname       string          `json:"nickname"`
		TotalPoints    decimal.Decimal `json:"total_points"`
		TotalPossible  decimal.Decimal `json:"total_possible"`
		CorrectCount   int             `json:"correct_count"`
		TotalResponses int             `json:"total_responses"`
	}
)

// projectTraining renders t for the viewer. Only facilitators see the access code
// and members who have not accepted yet.
func projectTraining(t *domain.Training, viewer *domain.Participant, now time.Time) Training {
	facilitator := viewer.Accepted(domain.RoleFacilitator)

	v := Training{
		TrainingID:          t.TrainingID,
		Name:                t.Name,
		Description:         t.Description,
		Status:              t.Status,
		CurrentRound:        t.CurrentRound,
		TrainingTimer:       t.TrainingTimer.SnapshotAt(now),
		RoundTimer:          t.RoundTimer.SnapshotAt(now),
		Scenario:            t.Scenario,
		ScenarioTitle:       t.ScenarioTitle,
		ScenarioDescription: t.ScenarioDescription,
		MaxParticipants:     t.MaxParticipants,
		CreatedBy:           t.CreatedBy,
		CreatedAt:           t.CreatedAt,
		StartedAt:           t.StartedAt,
		CompletedAt:         t.CompletedAt,
		Participants:        make([]Participant, 0, len(t.Participants)),
		ViewerRole:          viewer.Role,
	}

	if facilitator {
		v.AccessCode = t.AccessCode
	}

	for _, p := range t.Participants {
		if !facilitator && p.Status != domain.ParticipantAccepted {
			continue
		}
		v.Participants = append(v.Participants, Participant{
			UserID:   p.UserID,
			Nickname: p.Nickname,
			Role:     p.Role,
			Status:   p.Status,
			JoinedAt: p.JoinedAt,
		})
	}

	return v
}

func viewResponse(r domain.Response) Response {
	return Response{
		ResponseID:     r.ResponseID,
		UserID:         r.UserID,
		RoundID:        r.RoundID,
		QuestionID:     r.QuestionID,
		QuestionType:   r.QuestionType,
		Answer:         r.Answer,
		IsCorrect:      r.IsCorrect,
		PointsEarned:   r.PointsEarned,
		PointsPossible: r.PointsPossible,
		SubmittedAt:    r.SubmittedAt,
	}
}

func viewSubmission(s *score.SubmitAnswerResponse) Response {
	v := viewResponse(s.Response)
	v.Justification = s.Justification
	return v
}

func viewResponses(rs []domain.Response) []Response {
	vs := make([]Response, 0, len(rs))
	for _, r := range rs {
		vs = append(vs, viewResponse(r))
	}
	return vs
}

func viewRanking(r *domain.Ranking) Ranking {
	v := Ranking{
		Training: RankingTraining{
			Name:   r.TrainingName,
			Status: r.Status,
		},
		Ranking: make([]RankingEntry, 0, len(r.Entries)),
	}

	for _, e := range r.Entries {
		v.Ranking = append(v.Ranking, RankingEntry{
			Position:       e.Position,
			Nickname:       e.Nickname,
			TotalPoints:    e.TotalPoints,
			TotalPossible:  e.TotalPossible,
			CorrectCount:   e.CorrectCount,
			TotalResponses: e.TotalResponses,
		})
	}

	return v
}
