package server

import (
	"context"
	"log/slog"
	"strings"

	"engagement/internal/changefeed"
	"engagement/internal/models"
	"engagement/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	topicsLocal  = "feedTopics"
	maxFeedTopic = 50
	feedBuffer   = 64
)

// FeedUpgrade validates the requested topics and lets only WebSocket upgrades
// through to FeedHandler. Topics come as ?topic=posts:<id>, repeated or
// comma-separated.
func (s *Server) FeedUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	var topics []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("topic") {
		for _, t := range strings.Split(string(raw), ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	if len(topics) == 0 || len(topics) > maxFeedTopic {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Between 1 and 50 topics are required"))
	}
	for _, t := range topics {
		if !changefeed.ValidTopic(t) {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Unknown topic "+t))
		}
	}
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewValidationError("Change feed unavailable"))
	}

	c.Locals(topicsLocal, topics)
	return c.Next()
}

// FeedHandler relays committed changes on the requested topics to the client
// as JSON events until either side closes.
func (s *Server) FeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		topics, _ := conn.Locals(topicsLocal).([]string)

		ctx, cancel := context.WithCancel(s.shutdownCtx)
		defer cancel()

		events := make(chan changefeed.Event, feedBuffer)
		err := s.feed.Subscribe(ctx, topics, func(ev changefeed.Event) {
			select {
			case events <- ev:
			default:
				// A slow client drops events; it can re-read documents on reconnect.
				observability.FeedRelay.WithLabelValues("dropped").Inc()
			}
		})
		if err != nil {
			observability.Logger.Error("feed subscribe failed", slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"subscribe failed"}`))
			_ = conn.Close()
			return
		}

		// Client messages are ignored; reading detects the close.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case ev := <-events:
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
				observability.FeedRelay.WithLabelValues("relayed").Inc()
			}
		}
	})
}
