package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/tabletop/internal/results"
)

const wsWriteTimeout = 10 * time.Second

// WatchRanking upgrades to a WebSocket that first sends the current ranking, then
// relays every ranking.updated notification of the training.
func (a *API) WatchRanking(c *gin.Context) {
	trainingID := c.Param("id")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before reading the snapshot so no update in between is lost.
	sub := a.redis.Subscribe(ctx, a.rankingChannel(trainingID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		abort(c, fmt.Errorf("subscribe %s: %w", a.rankingChannel(trainingID), err))
		return
	}

	r, err := a.rs.GetRanking(ctx, results.GetRankingRequest{TrainingID: trainingID})
	if err != nil {
		abort(c, err)
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "ws: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(Notification{Event: "ranking.snapshot", Data: viewRanking(r)}); err != nil {
		return
	}

	// Clients never send anything; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m.Payload)); err != nil {
				slog.DebugContext(ctx, "ws: write failed", "training", trainingID, "error", err)
				return
			}
		}
	}
}
