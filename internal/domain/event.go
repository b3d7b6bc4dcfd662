package domain

const (
	EventNameAnswerSubmitted       = "answer.submitted"
	EventNameTrainingStatusChanged = "training.status_changed"
	EventNameRankingUpdated        = "ranking.updated"
)

type EventAnswerSubmitted struct {
	Response Response
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

type EventTrainingStatusChanged struct {
	Training Training
	From     Status
}

func (EventTrainingStatusChanged) Name() string { return EventNameTrainingStatusChanged }

type EventRankingUpdated struct {
	Ranking Ranking
}

func (EventRankingUpdated) Name() string { return EventNameRankingUpdated }
