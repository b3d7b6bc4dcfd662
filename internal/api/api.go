package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/event"
	"github.com/victornm/tabletop/internal/results"
	"github.com/victornm/tabletop/internal/score"
	"github.com/victornm/tabletop/internal/training"
)

type Config struct {
	Router   gin.IRouter
	EventBus *event.Bus
	Training *training.Service
	Score    *score.Service
	Results  *results.Service
	// Redis carries ranking notifications to every instance and their WebSocket clients.
	Redis        redis.UniversalClient
	PubsubPrefix string
	// Secret verifies the HS256 bearer tokens.
	Secret []byte

	Clock func() time.Time
}

type API struct {
	ts *training.Service
	ss *score.Service
	rs *results.Service

	redis    redis.UniversalClient
	prefix   string
	secret   []byte
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(c Config) *API {
	a := &API{
		ts:     c.Training,
		ss:     c.Score,
		rs:     c.Results,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		secret: c.Secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: c.Clock,
	}

	if a.now == nil {
		a.now = time.Now
	}

	v1 := c.Router.Group("/api/v1", a.authenticate)
	v1.POST("/trainings", a.CreateTraining)
	v1.GET("/trainings/:id", a.GetTraining)
	v1.POST("/trainings/:id/join", a.Join)
	v1.POST("/trainings/:id/invitations", a.Invite)
	v1.POST("/trainings/:id/invitations/respond", a.RespondInvitation)
	v1.PUT("/trainings/:id/status", a.ChangeStatus)
	v1.PUT("/trainings/:id/round", a.ChangeRound)
	v1.PUT("/trainings/:id/round-timer", a.ControlRoundTimer)
	v1.POST("/trainings/:id/responses", a.SubmitAnswer)
	v1.GET("/trainings/:id/responses", a.ListResponses)
	v1.GET("/trainings/:id/responses/all", a.ListAllResponses)
	v1.GET("/trainings/:id/ranking", a.GetRanking)
	v1.GET("/trainings/:id/ranking/ws", a.WatchRanking)
	v1.GET("/trainings/:id/results", a.GetResults)
	v1.GET("/trainings/:id/statistics", a.GetStatistics)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameRankingUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishRankingUpdated(ctx, e.(domain.EventRankingUpdated))
	})

	return a
}
