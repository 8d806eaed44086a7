package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"quizroom/internal/app"
	"quizroom/internal/domain"
)

type WSHandler struct {
	service  *app.QuizService
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, hub *Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// joinPayload accepts both the current field names and the older
// pseudonym/gameUrl/quizId ones still sent by deployed clients.
type joinPayload struct {
	DisplayName string `json:"displayName"`
	Pseudonym   string `json:"pseudonym"`
	SessionURL  string `json:"sessionUrl"`
	GameURL     string `json:"gameUrl"`
	SessionID   flexID `json:"sessionId"`
	QuizID      flexID `json:"quizId"`
}

type sessionPayload struct {
	SessionID flexID `json:"sessionId"`
	QuizID    flexID `json:"quizId"`
}

type answerPayload struct {
	QuestionID    flexID `json:"questionId"`
	OptionID      flexID `json:"optionId"`
	ParticipantID string `json:"participantId"`
	PlayerID      string `json:"playerId"`
}

// flexID decodes an id sent either as a JSON number or a numeric string.
type flexID int64

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", data, err)
	}
	*id = flexID(v)
	return nil
}

// ServeWS upgrades HTTP requests to websockets and wires them into the quiz use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}

	c := h.hub.register(conn)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(h.logger)
	}()

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(ctx, c.id, inbound)
	}

	h.service.Leave(context.WithoutCancel(ctx), c.id)
	h.hub.unregister(c)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, connID string, inbound inboundMessage) {
	var err error
	switch inbound.Type {
	case domain.EventJoinGame:
		err = h.handleJoin(ctx, connID, inbound.Payload)
	case domain.EventStartQuiz:
		var sessionID int64
		if sessionID, err = parseSessionRef(inbound.Payload); err == nil {
			err = h.service.Start(ctx, sessionID)
		}
	case domain.EventNextQuestion:
		var sessionID int64
		if sessionID, err = parseSessionRef(inbound.Payload); err == nil {
			err = h.service.Next(ctx, sessionID)
		}
	case domain.EventTimeUp:
		var sessionID int64
		if sessionID, err = parseSessionRef(inbound.Payload); err == nil {
			err = h.service.TimeUp(ctx, sessionID)
		}
	case domain.EventSubmitAnswer:
		var payload answerPayload
		if err = json.Unmarshal(inbound.Payload, &payload); err == nil {
			participantID := payload.ParticipantID
			if participantID == "" {
				participantID = payload.PlayerID
			}
			_, err = h.service.SubmitAnswer(ctx, connID, domain.AnswerSubmission{
				QuestionID:    int64(payload.QuestionID),
				OptionID:      int64(payload.OptionID),
				ParticipantID: participantID,
			})
		}
	default:
		err = fmt.Errorf("unsupported message type %q", inbound.Type)
	}
	h.logOutcome(connID, inbound.Type, err)
}

func (h *WSHandler) handleJoin(ctx context.Context, connID string, raw json.RawMessage) error {
	var payload joinPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	name := payload.DisplayName
	if name == "" {
		name = payload.Pseudonym
	}
	url := payload.SessionURL
	if url == "" {
		url = payload.GameURL
	}

	if name == "" {
		// Coordinator screens join with just the quiz id.
		sessionID := int64(payload.SessionID)
		if sessionID == 0 {
			sessionID = int64(payload.QuizID)
		}
		if sessionID == 0 {
			sessionID, _ = domain.ParseSessionURL(url)
		}
		if sessionID == 0 {
			return domain.ErrSessionNotFound
		}
		return h.service.Watch(ctx, connID, sessionID)
	}
	_, err := h.service.Join(ctx, connID, url, name)
	return err
}

// parseSessionRef reads a session id sent bare (42 or "42") or as {"sessionId": 42}.
func parseSessionRef(raw json.RawMessage) (int64, error) {
	var id flexID
	if err := json.Unmarshal(raw, &id); err == nil && id != 0 {
		return int64(id), nil
	}
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, err
	}
	if payload.SessionID != 0 {
		return int64(payload.SessionID), nil
	}
	if payload.QuizID != 0 {
		return int64(payload.QuizID), nil
	}
	return 0, domain.ErrSessionNotFound
}

// logOutcome records failures; clients have no error channel.
func (h *WSHandler) logOutcome(connID, event string, err error) {
	switch {
	case err == nil:
		h.logger.Debug("ws event handled", "conn", connID, "event", event)
	case errors.Is(err, domain.ErrStaleEvent), errors.Is(err, domain.ErrDuplicateAnswer):
		h.logger.Debug("ws event dropped", "conn", connID, "event", event, "reason", err)
	case domain.IsNotFound(err):
		h.logger.Warn("ws event skipped", "conn", connID, "event", event, "err", err)
	case errors.Is(err, domain.ErrStorageFailure):
		h.logger.Error("ws event failed", "conn", connID, "event", event, "err", err)
	default:
		h.logger.Warn("ws event rejected", "conn", connID, "event", event, "err", err)
	}
}
