package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams order and staking events to the connected client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	type envelope struct {
		Type    string         `json:"type"`
		Payload events.Payload `json:"payload"`
	}
	stream := make(chan envelope, 100)

	forward := func(eventType string) events.Handler {
		return func(ctx context.Context, payload events.Payload) error {
			select {
			case stream <- envelope{Type: eventType, Payload: payload}:
			default:
				// Slow client; drop rather than stall delivery.
			}
			return nil
		}
	}

	subs := []*events.Subscription{
		s.Bus.Subscribe(events.MarketTick, forward(events.MarketTick)),
		s.Bus.Subscribe(events.OrderSubmitted, forward(events.OrderSubmitted)),
		s.Bus.Subscribe(events.OrderCancelled, forward(events.OrderCancelled)),
		s.Bus.Subscribe(events.StakingPositionUpdated, forward(events.StakingPositionUpdated)),
	}
	defer func() {
		for _, sub := range subs {
			s.Bus.Unsubscribe(sub)
		}
	}()

	// Detect client disconnect; we never expect inbound messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-stream:
			if err := conn.WriteJSON(msg); err != nil {
				s.Logger.Debug("ws write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
