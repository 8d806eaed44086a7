package app

import (
	"log/slog"

	"quizroom/internal/domain"
)

// Transport delivers a message to a single connection. Deliver must not block
// and must preserve call order per connection.
type Transport interface {
	Deliver(connID string, msg domain.Envelope)
}

// Broadcaster emits session events to room members.
type Broadcaster interface {
	Broadcast(sessionID int64, event string, payload any)
	Send(connID, event string, payload any)
}

// Gateway fans events out to every connection the registry holds for a session.
type Gateway struct {
	registry  *Registry
	transport Transport
	logger    *slog.Logger
}

func NewGateway(registry *Registry, transport Transport, logger *slog.Logger) *Gateway {
	return &Gateway{registry: registry, transport: transport, logger: logger}
}

func (g *Gateway) Broadcast(sessionID int64, event string, payload any) {
	conns := g.registry.Connections(sessionID)
	msg := domain.Envelope{Type: event, Payload: payload}
	for _, connID := range conns {
		g.transport.Deliver(connID, msg)
	}
	g.logger.Debug("broadcast", "session", sessionID, "event", event, "recipients", len(conns))
}

func (g *Gateway) Send(connID, event string, payload any) {
	g.transport.Deliver(connID, domain.Envelope{Type: event, Payload: payload})
}
