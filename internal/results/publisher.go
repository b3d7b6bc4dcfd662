package results

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/event"
)

const defaultPublishInterval = 200 * time.Millisecond

type PublisherConfig struct {
	EventBus *event.Bus
	Results  *Service
	Redis    redis.UniversalClient
	Prefix   string
	// Interval is the minimum gap between two ranking updates of one training.
	Interval time.Duration
}

// Publisher turns accepted answers into ranking.updated events.
type Publisher struct {
	eb       *event.Bus
	results  *Service
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration
}

func NewPublisher(c PublisherConfig) *Publisher {
	interval := c.Interval
	if interval <= 0 {
		interval = defaultPublishInterval
	}

	p := &Publisher{
		eb:       c.EventBus,
		results:  c.Results,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: interval,
	}

	p.eb.Subscribe(domain.EventNameAnswerSubmitted, func(ctx context.Context, e event.Event) error {
		return p.AnswerSubmitted(ctx, e.(domain.EventAnswerSubmitted))
	})

	return p
}

// AnswerSubmitted publishes the ranking of the answer's training, at most once per
// interval. The throttle lock lives in Redis and is shared by every instance.
func (p *Publisher) AnswerSubmitted(ctx context.Context, e domain.EventAnswerSubmitted) error {
	r := e.Response

	ok, err := p.redis.SetNX(ctx, p.lockKey(r.TrainingID), r.SubmittedAt.UnixMilli(), p.interval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil
	}

	ranking, err := p.results.GetRanking(ctx, GetRankingRequest{
		TrainingID: r.TrainingID,
	})
	if err != nil {
		return fmt.Errorf("get ranking failed: training=%s: %w", r.TrainingID, err)
	}

	p.eb.Publish(ctx, domain.EventRankingUpdated{
		Ranking: *ranking,
	})

	return nil
}

func (p *Publisher) lockKey(trainingID string) string {
	return fmt.Sprintf("%s:training:%s:ranking:lock", p.prefix, trainingID)
}
