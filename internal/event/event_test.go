package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]string
		}
	)

	submitted := domain.EventAnswerSubmitted{}
	statusChanged := domain.EventTrainingStatusChanged{}
	rankingUpdated := domain.EventRankingUpdated{}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{submitted, statusChanged},
					subscribers: []subscriber{
						{name: "ranking", subscribeTo: []string{domain.EventNameAnswerSubmitted}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []string{domain.EventNameAnswerSubmitted}, out.received["ranking"])
			},
		},

		"every published event is delivered": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{submitted, submitted, submitted},
					subscribers: []subscriber{
						{name: "ranking", subscribeTo: []string{domain.EventNameAnswerSubmitted}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["ranking"], 3)
			},
		},

		"an event fans out to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{rankingUpdated},
					subscribers: []subscriber{
						{name: "pubsub", subscribeTo: []string{domain.EventNameRankingUpdated}},
						{name: "audit", subscribeTo: []string{domain.EventNameRankingUpdated, domain.EventNameTrainingStatusChanged}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []string{domain.EventNameRankingUpdated}, out.received["pubsub"])
				assert.ElementsMatch(t, []string{domain.EventNameRankingUpdated}, out.received["audit"])
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]string)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				for _, name := range s.subscribeTo {
					b.Subscribe(name, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e.Name())
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerFailuresAreContained(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(1), event.WithTimeout(time.Second))

	var calls atomic.Int32
	b.Subscribe("boom", func(ctx context.Context, e event.Event) error {
		calls.Add(1)
		panic("handler bug")
	})
	b.Subscribe("boom", func(ctx context.Context, e event.Event) error {
		calls.Add(1)
		return errors.New("handler failed")
	})

	b.Publish(context.Background(), eventWithName("boom"))
	b.Stop()

	assert.Equal(t, int32(2), calls.Load())
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
