package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victornm/tabletop/internal/domain"
)

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishRankingUpdated fans the public ranking out on the training's channel.
func (a *API) PublishRankingUpdated(ctx context.Context, e domain.EventRankingUpdated) error {
	return a.publishNotification(ctx, e.Ranking.TrainingID, e.Name(), viewRanking(&e.Ranking))
}

func (a *API) publishNotification(ctx context.Context, trainingID, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, a.rankingChannel(trainingID), b).Err()
}

func (a *API) rankingChannel(trainingID string) string {
	return fmt.Sprintf("%s:training:%s:ranking", a.prefix, trainingID)
}
