package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hotel7days/concierge/backend/internal/model/chat"
)

// MemoryStore keeps sessions and transcripts in process memory. It is the
// default driver and the reference for the Store contract.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[int64]*chat.Session
	byCode   map[string]int64
	messages map[int64][]chat.Message
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]*chat.Session),
		byCode:   make(map[string]int64),
		messages: make(map[int64][]chat.Message),
	}
}

func (s *MemoryStore) ResolveOrCreate(_ context.Context, code, clientLang, clientIdentifier string, profile chat.Profile) (chat.Session, bool, error) {
	code, err := ValidateCode(code)
	if err != nil {
		return chat.Session{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byCode[code]; ok {
		return *s.sessions[id], false, nil
	}

	s.nextID++
	sess := &chat.Session{
		ID:               s.nextID,
		Code:             code,
		ClientLang:       clientLang,
		ClientIdentifier: clientIdentifier,
		Status:           chat.StatusOpen,
		BotEnabled:       true,
		Profile:          profile,
		CreatedAt:        time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess
	s.byCode[code] = sess.ID
	s.messages[sess.ID] = make([]chat.Message, 0, 16)
	return *sess, true, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (chat.Session, error) {
	code, err := ValidateCode(code)
	if err != nil {
		return chat.Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return *s.sessions[id], nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := make([]chat.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Status == chat.StatusOpen {
			open = append(open, *sess)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

func (s *MemoryStore) CloseSession(_ context.Context, id int64) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if sess.Status == chat.StatusClosed {
		return *sess, ErrAlreadyClosed
	}
	sess.Status = chat.StatusClosed
	return *sess, nil
}

func (s *MemoryStore) AssignStaff(_ context.Context, id int64, staffID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.AssignedStaffID = staffID
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, sessionID int64, sender chat.Sender, text string) (chat.Message, error) {
	return s.append(ctx, sessionID, sender, text, false)
}

func (s *MemoryStore) AppendNotice(ctx context.Context, sessionID int64, text string) (chat.Message, error) {
	return s.append(ctx, sessionID, chat.SenderStaff, text, true)
}

func (s *MemoryStore) append(_ context.Context, sessionID int64, sender chat.Sender, text string, notice bool) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	if sess.Status == chat.StatusClosed && !notice {
		return chat.Message{}, ErrSessionClosed
	}

	log := s.messages[sessionID]
	now := time.Now().UTC()
	if n := len(log); n > 0 && now.Before(log[n-1].CreatedAt) {
		// Keep timestamps non-decreasing within a session even if the
		// wall clock steps backwards.
		now = log[n-1].CreatedAt
	}

	msg := chat.Message{
		ID:           int64(len(log)) + 1,
		SessionID:    sessionID,
		Sender:       sender,
		OriginalText: text,
		CreatedAt:    now,
	}
	s.messages[sessionID] = append(log, msg)
	sess.LastMessageAt = &msg.CreatedAt
	return msg, nil
}

func (s *MemoryStore) History(_ context.Context, sessionID int64, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if limit > 0 && limit < len(log) {
		log = log[len(log)-limit:]
	}
	out := make([]chat.Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) SetTranslated(_ context.Context, sessionID, messageID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.messages[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	idx := int(messageID) - 1
	if idx < 0 || idx >= len(log) {
		return ErrMessageNotFound
	}
	log[idx].TranslatedText = text
	return nil
}

func (s *MemoryStore) Close() error { return nil }
