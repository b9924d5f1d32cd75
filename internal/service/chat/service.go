// Package chat coordinates support sessions: joins, message fan-out, the
// auto-responder, and session closure.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hotel7days/concierge/backend/internal/hub"
	"github.com/hotel7days/concierge/backend/internal/model/chat"
	"github.com/hotel7days/concierge/backend/internal/service/responder"
	"github.com/hotel7days/concierge/backend/internal/store"
)

// Outbound event names shared with the front-end clients.
const (
	EventSessionJoined  = "session_joined"
	EventReceiveMessage = "receive_message"
	EventSessionClosed  = "session_closed"
)

// ClosureNotice is the administrative text appended when staff end a
// session. It is always the final transcript entry.
var ClosureNotice = chat.SystemText("Phiên hỗ trợ đã kết thúc.")

// ErrInvalidRole rejects an intent whose role is neither CLIENT nor STAFF.
var ErrInvalidRole = errors.New("invalid role")

// Translator asynchronously supplies translated text for appended messages.
// The coordination core never blocks on it.
type Translator interface {
	Translate(ctx context.Context, text, clientLang string) (string, error)
}

// ProfileProvider supplies opaque guest metadata at session creation.
type ProfileProvider interface {
	Lookup(ctx context.Context, clientIdentifier string) (chat.Profile, error)
}

// Snapshot is the join reply: the session plus its full history, delivered
// to the joining connection only.
type Snapshot struct {
	SessionID int64          `json:"sessionId"`
	Session   chat.Session   `json:"session"`
	Messages  []chat.Message `json:"messages"`
}

const sessionShards = 64

// Service is the protocol handler driving the registry, the transcript,
// the hub, and the responder.
type Service struct {
	store      store.Store
	hub        *hub.Hub
	responder  *responder.Engine
	translator Translator
	profiles   ProfileProvider

	// Per-session intent serialization: append + sequence assignment +
	// broadcast is one critical section, so a join's history snapshot plus
	// the live stream is gap-free and duplicate-free. Unrelated sessions
	// proceed in parallel.
	locks [sessionShards]sync.Mutex
}

// NewService wires the protocol handler. translator and profiles may be
// nil when the respective collaborator is not deployed.
func NewService(st store.Store, h *hub.Hub, eng *responder.Engine, translator Translator, profiles ProfileProvider) *Service {
	return &Service{
		store:      st,
		hub:        h,
		responder:  eng,
		translator: translator,
		profiles:   profiles,
	}
}

func (s *Service) lock(sessionID int64) *sync.Mutex {
	return &s.locks[sessionID%sessionShards]
}

// Join attaches a connection to the session identified by code and returns
// its snapshot. A CLIENT join with an unseen code creates the session; a
// STAFF join of an unknown code is NotFound. Joining a CLOSED session is
// accepted in read-only mode so the history remains available.
func (s *Service) Join(ctx context.Context, sink hub.Sink, code string, role chat.Sender, clientIdentifier, clientLang, staffID string) (Snapshot, error) {
	var (
		sess chat.Session
		err  error
	)

	switch role {
	case chat.SenderClient:
		var profile chat.Profile
		if s.profiles != nil && clientIdentifier != "" {
			profile, err = s.profiles.Lookup(ctx, clientIdentifier)
			if err != nil {
				log.Printf("[chat] profile lookup for %s failed: %v", clientIdentifier, err)
				profile = chat.Profile{}
			}
		}
		var created bool
		sess, created, err = s.store.ResolveOrCreate(ctx, code, clientLang, clientIdentifier, profile)
		if err != nil {
			return Snapshot{}, err
		}
		if created {
			log.Printf("[chat] session %d created for code %s", sess.ID, sess.Code)
		}
	case chat.SenderStaff:
		sess, err = s.store.GetByCode(ctx, code)
		if err != nil {
			return Snapshot{}, err
		}
		if staffID != "" {
			if err := s.store.AssignStaff(ctx, sess.ID, staffID); err != nil {
				return Snapshot{}, err
			}
			sess.AssignedStaffID = staffID
		}
	default:
		return Snapshot{}, ErrInvalidRole
	}

	mu := s.lock(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	history, err := s.store.History(ctx, sess.ID, 0)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := Snapshot{SessionID: sess.ID, Session: sess, Messages: history}

	if sink != nil {
		welcome, err := hub.Marshal(EventSessionJoined, snapshot)
		if err != nil {
			return Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
		}
		s.hub.Attach(sess.ID, sink, welcome)
	}

	return snapshot, nil
}

// Send appends a message, fans it out, and runs the responder for CLIENT
// messages. Sending to a CLOSED session fails with SessionClosed for every
// role; the closure notice is emitted only by Close itself.
func (s *Service) Send(ctx context.Context, code string, role chat.Sender, text string) (chat.Message, error) {
	if role != chat.SenderClient && role != chat.SenderStaff {
		return chat.Message{}, ErrInvalidRole
	}

	sess, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return chat.Message{}, err
	}

	mu := s.lock(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := s.store.Append(ctx, sess.ID, role, text)
	if err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	s.hub.Broadcast(sess.ID, EventReceiveMessage, msg)
	s.translateAsync(sess, msg)

	if role == chat.SenderClient {
		if draft, ok := s.responder.Evaluate(sess, msg); ok {
			reply, err := s.store.Append(ctx, sess.ID, chat.SenderBot, draft.OriginalText)
			if err != nil {
				log.Printf("[chat] append auto-reply on session %d: %v", sess.ID, err)
				return msg, nil
			}
			s.hub.Broadcast(sess.ID, EventReceiveMessage, reply)
		}
	}

	return msg, nil
}

// Close transitions the session to CLOSED, appends the closure notice as
// the final transcript entry, fans it out, and detaches the session. A
// concurrent second close gets AlreadyClosed and must not re-emit the
// notice.
func (s *Service) Close(ctx context.Context, sessionID int64, staffID string) (chat.Message, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.store.CloseSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	log.Printf("[chat] session %d (%s) closed by staff %s", sess.ID, sess.Code, staffID)

	notice, err := s.store.AppendNotice(ctx, sessionID, ClosureNotice)
	if err != nil {
		return chat.Message{}, fmt.Errorf("append closure notice: %w", err)
	}

	s.hub.Broadcast(sessionID, EventReceiveMessage, notice)
	s.hub.Broadcast(sessionID, EventSessionClosed, map[string]any{
		"sessionId": sessionID,
		"status":    chat.StatusClosed,
	})
	s.hub.CloseSession(sessionID)

	return notice, nil
}

// OpenSessions lists every OPEN session for the dispatch dashboard.
func (s *Service) OpenSessions(ctx context.Context) ([]chat.Session, error) {
	return s.store.ListOpen(ctx)
}

// History returns a session's transcript, optionally capped to the most
// recent limit entries.
func (s *Service) History(ctx context.Context, sessionID int64, limit int) ([]chat.Message, error) {
	return s.store.History(ctx, sessionID, limit)
}

// Detach forwards a disconnect notification to the hub. Idempotent.
func (s *Service) Detach(sinkID string) {
	s.hub.Detach(sinkID)
}

// translateAsync hands a freshly appended message to the translation
// collaborator. Marker payloads are skipped; failures are logged and
// dropped, the transcript keeps the original text either way.
func (s *Service) translateAsync(sess chat.Session, msg chat.Message) {
	if s.translator == nil || msg.IsImage() || msg.IsSystem() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		translated, err := s.translator.Translate(ctx, msg.OriginalText, sess.ClientLang)
		if err != nil || translated == "" {
			if err != nil {
				log.Printf("[chat] translate message %d/%d: %v", msg.SessionID, msg.ID, err)
			}
			return
		}
		if err := s.store.SetTranslated(ctx, msg.SessionID, msg.ID, translated); err != nil {
			log.Printf("[chat] store translation %d/%d: %v", msg.SessionID, msg.ID, err)
		}
	}()
}
