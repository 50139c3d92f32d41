package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/fanout"
)

// SSEHub is the HTTP adapter's Egress: it fans StatusEvents out to every
// connected GET /events client. It never originates commands, so it always
// reports domain.SourceAPI and is registered as a second, publish-only
// adapter alongside Handler.
type SSEHub struct {
	broadcaster *fanout.Broadcaster[coordinator.StatusEvent]
	log         *slog.Logger
}

// NewSSEHub builds an SSE hub with a modest per-subscriber buffer; a
// subscriber slow enough to fill it misses events rather than stalling
// the coordinator's publish loop.
func NewSSEHub(log *slog.Logger) *SSEHub {
	if log == nil {
		log = slog.Default()
	}
	hub := &SSEHub{log: log}
	hub.broadcaster = fanout.New[coordinator.StatusEvent](64, func(ev coordinator.StatusEvent) {
		log.Warn("sse subscriber too slow, dropping event", "entityKind", ev.EntityKind, "entityId", ev.EntityID, "field", ev.Field)
	})
	return hub
}

// Protocol implements coordinator.Egress.
func (h *SSEHub) Protocol() domain.SourceProtocol { return domain.SourceAPI }

// Publish implements coordinator.Egress.
func (h *SSEHub) Publish(ev coordinator.StatusEvent) {
	h.broadcaster.Publish(ev)
}

// ServeEvents handles GET /events: a long-lived server-sent-events stream
// of every StatusEvent published by the coordinator, until the client
// disconnects or the request context is cancelled.
func (h *SSEHub) ServeEvents(c *gin.Context) {
	ch, cancel := h.broadcaster.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w gin.ResponseWriter) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.EntityKind), sseEventPayload(ev))
			return true
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type ssePayload struct {
	EntityID int    `json:"entityId"`
	Field    string `json:"field"`
	Value    any    `json:"value"`
	Source   string `json:"source"`
	At       string `json:"at"`
}

func sseEventPayload(ev coordinator.StatusEvent) ssePayload {
	return ssePayload{
		EntityID: ev.EntityID,
		Field:    ev.Field,
		Value:    ev.Value,
		Source:   string(ev.Source),
		At:       ev.At.Format(time.RFC3339Nano),
	}
}
