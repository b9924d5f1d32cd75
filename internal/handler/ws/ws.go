// Package ws exposes the websocket coordination protocol: join_session,
// staff_join and send_message intents in, session_joined and
// receive_message events out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hotel7days/concierge/backend/internal/hub"
	"github.com/hotel7days/concierge/backend/internal/model/chat"
	chatservice "github.com/hotel7days/concierge/backend/internal/service/chat"
	"github.com/hotel7days/concierge/backend/internal/store"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler upgrades connections and drives the protocol service.
type Handler struct {
	svc          *chatservice.Service
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// New creates the websocket handler.
func New(svc *chatservice.Service, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = hub.DefaultWriteTimeout
	}
	return &Handler{
		svc:          svc,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	SessionCode      string `json:"sessionCode"`
	ClientIdentifier string `json:"clientIdentifier"`
	ClientLang       string `json:"clientLang"`
}

type staffJoinPayload struct {
	StaffID string `json:"staffId"`
}

type sendPayload struct {
	SessionCode string `json:"sessionCode"`
	Content     string `json:"content"`
}

// connState tracks one connection's role and joined session. A connection
// is CLIENT until it announces staff_join; the authentication collaborator
// vouches for the role upstream of this handler.
type connState struct {
	id      string
	role    chat.Sender
	staffID string
	code    string
}

// wsSink adapts a websocket connection to the hub's fan-out interface.
// The mutex serializes writes from the pump and direct error replies.
type wsSink struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (s *wsSink) ID() string { return s.id }

func (s *wsSink) Deliver(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	state := &connState{
		id:   uuid.NewString(),
		role: chat.SenderClient,
	}
	sink := &wsSink{id: state.id, conn: conn, timeout: h.writeTimeout}

	log.Printf("[ws] connection %s established", state.id)
	defer func() {
		h.svc.Detach(state.id)
		log.Printf("[ws] connection %s closed", state.id)
	}()

	ctx := r.Context()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, sink)

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error on %s: %v", state.id, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleFrame(r, sink, state, frame)
	}
}

func (h *Handler) handleFrame(r *http.Request, sink *wsSink, state *connState, frame inboundFrame) {
	switch frame.Event {
	case "staff_join":
		var payload staffJoinPayload
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				h.sendError(sink, "invalid staff_join payload")
				return
			}
		}
		state.role = chat.SenderStaff
		state.staffID = payload.StaffID
		if state.staffID == "" {
			state.staffID = state.id
		}

	case "join_session":
		var payload joinPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			h.sendError(sink, "invalid join_session payload")
			return
		}
		clientIdentifier := payload.ClientIdentifier
		if state.role == chat.SenderStaff {
			// The dashboard passes a placeholder identifier; it is not the
			// guest's identity and must not be stored as such.
			clientIdentifier = ""
		}
		_, err := h.svc.Join(r.Context(), sink, payload.SessionCode, state.role, clientIdentifier, payload.ClientLang, state.staffID)
		if err != nil {
			h.sendError(sink, joinErrorText(err))
			return
		}
		state.code = payload.SessionCode

	case "send_message":
		var payload sendPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			h.sendError(sink, "invalid send_message payload")
			return
		}
		code := payload.SessionCode
		if code == "" {
			code = state.code
		}
		if _, err := h.svc.Send(r.Context(), code, state.role, payload.Content); err != nil {
			h.sendError(sink, sendErrorText(err))
			return
		}

	default:
		h.sendError(sink, "unsupported event: "+frame.Event)
	}
}

func joinErrorText(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidCode):
		return "invalid session code"
	case errors.Is(err, store.ErrSessionNotFound):
		return "session not found"
	default:
		return "join failed"
	}
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, store.ErrSessionClosed):
		return "session ended"
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrInvalidCode):
		return "session not found"
	default:
		return "send failed"
	}
}

func (h *Handler) sendError(sink *wsSink, message string) {
	payload, err := hub.Marshal("error", map[string]string{"message": message})
	if err != nil {
		return
	}
	if err := sink.Deliver(payload); err != nil {
		log.Printf("[ws] write error frame failed: %v", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, sink *wsSink) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink.mu.Lock()
			sink.conn.SetWriteDeadline(time.Now().Add(sink.timeout))
			err := sink.conn.WriteMessage(websocket.PingMessage, nil)
			sink.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
