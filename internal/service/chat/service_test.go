package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hotel7days/concierge/backend/internal/hub"
	"github.com/hotel7days/concierge/backend/internal/model/chat"
	chatservice "github.com/hotel7days/concierge/backend/internal/service/chat"
	"github.com/hotel7days/concierge/backend/internal/service/responder"
	"github.com/hotel7days/concierge/backend/internal/store"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type stubSink struct {
	id string

	mu     sync.Mutex
	frames []frame
}

func (s *stubSink) ID() string { return s.id }

func (s *stubSink) Deliver(payload []byte) error {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *stubSink) received() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame(nil), s.frames...)
}

func (s *stubSink) messages(t *testing.T) []chat.Message {
	t.Helper()
	out := make([]chat.Message, 0)
	for _, f := range s.received() {
		if f.Event != chatservice.EventReceiveMessage {
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			t.Fatalf("bad receive_message frame: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newService() *chatservice.Service {
	return chatservice.NewService(
		store.NewMemory(),
		hub.New(time.Second),
		responder.New(responder.DefaultRules()),
		nil, nil,
	)
}

func TestClientJoinCreatesSession(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	snap, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "guest-1", "vi", "")
	if err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if snap.Session.Status != chat.StatusOpen {
		t.Fatalf("expected OPEN session, got %s", snap.Session.Status)
	}
	if snap.SessionID != snap.Session.ID {
		t.Fatalf("snapshot ids disagree: %d vs %d", snap.SessionID, snap.Session.ID)
	}
	if len(snap.Messages) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(snap.Messages))
	}
}

func TestStaffJoinUnknownCode(t *testing.T) {
	svc := newService()

	_, err := svc.Join(context.Background(), nil, "GHOST", chat.SenderStaff, "", "", "staff-1")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStaffJoinAssignsStaff(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "", "vi", ""); err != nil {
		t.Fatalf("client Join err: %v", err)
	}

	snap, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderStaff, "", "", "staff-7")
	if err != nil {
		t.Fatalf("staff Join err: %v", err)
	}
	if snap.Session.AssignedStaffID != "staff-7" {
		t.Fatalf("expected assigned staff, got %q", snap.Session.AssignedStaffID)
	}
}

func TestJoinInvalidRole(t *testing.T) {
	svc := newService()
	if _, err := svc.Join(context.Background(), nil, "ROOM_501", chat.SenderBot, "", "", ""); !errors.Is(err, chatservice.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

// Scenario: a guest service request produces the client message plus a BOT
// image reply, both fanned out to the already-attached staff connection.
func TestServiceRequestTriggersAutoReply(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "", "vi", ""); err != nil {
		t.Fatalf("client Join err: %v", err)
	}
	staff := &stubSink{id: "staff-conn"}
	snap, err := svc.Join(ctx, staff, "ROOM_501", chat.SenderStaff, "", "", "staff-1")
	if err != nil {
		t.Fatalf("staff Join err: %v", err)
	}

	if _, err := svc.Send(ctx, "ROOM_501", chat.SenderClient, "[Yêu cầu hỗ trợ: 🍽️ Order Food]"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	history, err := svc.History(ctx, snap.SessionID, 0)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(history))
	}
	if history[0].Sender != chat.SenderClient {
		t.Fatalf("first entry sender %s, want CLIENT", history[0].Sender)
	}
	if history[1].Sender != chat.SenderBot || !history[1].IsImage() {
		t.Fatalf("second entry should be a BOT image marker, got %+v", history[1])
	}

	waitFor(t, func() bool { return len(staff.messages(t)) == 2 })
	got := staff.messages(t)
	if got[0].ID != history[0].ID || got[1].ID != history[1].ID {
		t.Fatalf("broadcast order differs from transcript: %+v", got)
	}
}

func TestPlainMessageNoAutoReply(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	snap, err := svc.Join(ctx, nil, "ROOM_502", chat.SenderClient, "", "vi", "")
	if err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if _, err := svc.Send(ctx, "ROOM_502", chat.SenderClient, "hello there"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	history, err := svc.History(ctx, snap.SessionID, 0)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(history))
	}
}

// Scenario: close marks the session CLOSED, appends the [SYSTEM]: notice as
// the final entry, and subsequent client sends fail with SessionClosed.
func TestCloseLifecycle(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	snap, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "", "vi", "")
	if err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if _, err := svc.Send(ctx, "ROOM_501", chat.SenderClient, "hi"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	client := &stubSink{id: "client-conn"}
	if _, err := svc.Join(ctx, client, "ROOM_501", chat.SenderClient, "", "vi", ""); err != nil {
		t.Fatalf("rejoin err: %v", err)
	}

	notice, err := svc.Close(ctx, snap.SessionID, "staff-1")
	if err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if !notice.IsSystem() {
		t.Fatalf("expected [SYSTEM]: notice, got %q", notice.OriginalText)
	}

	history, err := svc.History(ctx, snap.SessionID, 0)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	last := history[len(history)-1]
	if !strings.HasPrefix(last.OriginalText, chat.SystemPrefix) {
		t.Fatalf("final entry is not the closure notice: %q", last.OriginalText)
	}

	// The attached connection received the notice and the closed event
	// before detachment.
	waitFor(t, func() bool {
		for _, f := range client.received() {
			if f.Event == chatservice.EventSessionClosed {
				return true
			}
		}
		return false
	})

	if _, err := svc.Send(ctx, "ROOM_501", chat.SenderClient, "too late"); !errors.Is(err, store.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := svc.Send(ctx, "ROOM_501", chat.SenderStaff, "too late"); !errors.Is(err, store.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed for staff, got %v", err)
	}

	// Rejoin after close is read-only but still serves history.
	again, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "", "vi", "")
	if err != nil {
		t.Fatalf("rejoin after close err: %v", err)
	}
	if again.Session.Status != chat.StatusClosed {
		t.Fatalf("expected CLOSED snapshot, got %s", again.Session.Status)
	}
	if len(again.Messages) != len(history) {
		t.Fatalf("read-only rejoin lost history: %d vs %d", len(again.Messages), len(history))
	}
}

// Scenario: two concurrent closers — exactly one wins, the loser gets
// AlreadyClosed, and the notice is appended once.
func TestConcurrentClose(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	snap, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "", "vi", "")
	if err != nil {
		t.Fatalf("Join err: %v", err)
	}

	const closers = 2
	results := make(chan error, closers)
	for i := 0; i < closers; i++ {
		go func() {
			_, err := svc.Close(ctx, snap.SessionID, "staff")
			results <- err
		}()
	}

	var okCount, alreadyCount int
	for i := 0; i < closers; i++ {
		switch err := <-results; {
		case err == nil:
			okCount++
		case errors.Is(err, store.ErrAlreadyClosed):
			alreadyCount++
		default:
			t.Fatalf("unexpected close error: %v", err)
		}
	}
	if okCount != 1 || alreadyCount != 1 {
		t.Fatalf("expected exactly one winner, got ok=%d already=%d", okCount, alreadyCount)
	}

	history, err := svc.History(ctx, snap.SessionID, 0)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	notices := 0
	for _, msg := range history {
		if msg.IsSystem() {
			notices++
		}
	}
	if notices != 1 {
		t.Fatalf("expected exactly one closure notice, got %d", notices)
	}
}

// A joiner's snapshot plus its live stream must be gap-free and
// duplicate-free while another connection keeps sending.
func TestJoinSnapshotGapFree(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "", "vi", ""); err != nil {
		t.Fatalf("Join err: %v", err)
	}

	const total = 40
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			if _, err := svc.Send(ctx, "ROOM_501", chat.SenderClient, "msg"); err != nil {
				t.Errorf("Send err: %v", err)
				return
			}
		}
	}()

	// Join mid-stream.
	time.Sleep(2 * time.Millisecond)
	joiner := &stubSink{id: "late-joiner"}
	snap, err := svc.Join(ctx, joiner, "ROOM_501", chat.SenderClient, "", "vi", "")
	if err != nil {
		t.Fatalf("late Join err: %v", err)
	}
	<-done

	waitFor(t, func() bool {
		frames := joiner.received()
		if len(frames) == 0 || frames[0].Event != chatservice.EventSessionJoined {
			return false
		}
		return len(snap.Messages)+len(joiner.messages(t)) >= total
	})

	frames := joiner.received()
	if frames[0].Event != chatservice.EventSessionJoined {
		t.Fatalf("first frame should be the snapshot, got %s", frames[0].Event)
	}

	seen := make(map[int64]bool)
	next := int64(1)
	for _, msg := range snap.Messages {
		if msg.ID != next {
			t.Fatalf("snapshot gap: got id %d, want %d", msg.ID, next)
		}
		seen[msg.ID] = true
		next++
	}
	for _, msg := range joiner.messages(t) {
		if seen[msg.ID] {
			t.Fatalf("duplicate delivery of message %d", msg.ID)
		}
		if msg.ID != next {
			t.Fatalf("live stream gap: got id %d, want %d", msg.ID, next)
		}
		seen[msg.ID] = true
		next++
	}
	if int(next-1) != total {
		t.Fatalf("expected %d messages overall, got %d", total, next-1)
	}
}

type stubTranslator struct{}

func (stubTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	return "[en] " + text, nil
}

func TestTranslatorPopulatesAsync(t *testing.T) {
	svc := chatservice.NewService(
		store.NewMemory(),
		hub.New(time.Second),
		responder.New(nil),
		stubTranslator{}, nil,
	)
	ctx := context.Background()

	snap, err := svc.Join(ctx, nil, "ROOM_501", chat.SenderClient, "", "vi", "")
	if err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if _, err := svc.Send(ctx, "ROOM_501", chat.SenderClient, "xin chào"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	waitFor(t, func() bool {
		history, err := svc.History(ctx, snap.SessionID, 0)
		if err != nil {
			return false
		}
		return len(history) == 1 && history[0].TranslatedText == "[en] xin chào"
	})
}

type stubProfiles struct{}

func (stubProfiles) Lookup(_ context.Context, clientIdentifier string) (chat.Profile, error) {
	return chat.Profile{CustomerName: "Guest " + clientIdentifier, MembershipLevel: "GOLD"}, nil
}

func TestProfileAttachedAtCreation(t *testing.T) {
	svc := chatservice.NewService(
		store.NewMemory(),
		hub.New(time.Second),
		responder.New(nil),
		nil, stubProfiles{},
	)

	snap, err := svc.Join(context.Background(), nil, "ROOM_501", chat.SenderClient, "booking-9", "vi", "")
	if err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if snap.Session.Profile.MembershipLevel != "GOLD" {
		t.Fatalf("expected profile metadata attached, got %+v", snap.Session.Profile)
	}
}
