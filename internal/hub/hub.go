// Package hub tracks which connections are attached to which session and
// fans newly appended messages out to them.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds a single fan-out delivery.
const DefaultWriteTimeout = 5 * time.Second

// sendQueueSize is the per-connection fan-out buffer. A connection that
// falls this far behind is treated as stalled and detached.
const sendQueueSize = 64

// Sink receives fan-out payloads for one attached connection. A slow or
// failing sink is detached, never retried; the reconnecting client recovers
// missed messages by re-joining and replaying history.
//
// Deliver must eventually return. The hub stops waiting after the write
// timeout and detaches the sink, but the delivery goroutine is only
// reclaimed once Deliver returns, so implementations must bound their own
// writes (a socket write deadline, for example).
type Sink interface {
	ID() string
	Deliver(payload []byte) error
}

// Envelope is the outbound wire frame shared by fan-out and direct replies.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Marshal encodes an outbound frame once so every recipient gets the same
// bytes.
func Marshal(event string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}

// attachment pairs a sink with its outbound queue. A dedicated pump
// goroutine drains the queue so frames reach each connection in broadcast
// order without the broadcaster ever blocking on a slow socket.
type attachment struct {
	sessionID int64
	sink      Sink
	queue     chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
}

func (a *attachment) close() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Hub is the connection registry. A session may have many attached
// connections of either role; a connection is attached to at most one
// session at a time.
type Hub struct {
	writeTimeout time.Duration

	mu       sync.RWMutex
	sessions map[int64]map[string]*attachment
	attached map[string]*attachment
}

// New creates an empty hub. A non-positive writeTimeout falls back to the
// default.
func New(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		writeTimeout: writeTimeout,
		sessions:     make(map[int64]map[string]*attachment),
		attached:     make(map[string]*attachment),
	}
}

// Attach registers a sink as listening to a session. Re-attaching moves the
// sink to the new session. A non-nil welcome frame is queued ahead of any
// subsequent broadcast, so the join snapshot always reaches the connection
// before live messages appended after it.
func (h *Hub) Attach(sessionID int64, sink Sink, welcome []byte) {
	att := &attachment{
		sessionID: sessionID,
		sink:      sink,
		queue:     make(chan []byte, sendQueueSize),
		stop:      make(chan struct{}),
	}
	if welcome != nil {
		att.queue <- welcome
	}

	h.mu.Lock()
	if prev, ok := h.attached[sink.ID()]; ok {
		h.removeLocked(prev)
	}
	conns, ok := h.sessions[sessionID]
	if !ok {
		conns = make(map[string]*attachment)
		h.sessions[sessionID] = conns
	}
	conns[sink.ID()] = att
	h.attached[sink.ID()] = att
	h.mu.Unlock()

	go h.pump(att)
}

// Detach removes a sink. Detaching an unknown sink is a no-op so duplicate
// disconnect notifications are harmless.
func (h *Hub) Detach(sinkID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if att, ok := h.attached[sinkID]; ok {
		h.removeLocked(att)
	}
}

func (h *Hub) removeLocked(att *attachment) {
	att.close()
	delete(h.attached, att.sink.ID())
	if conns, ok := h.sessions[att.sessionID]; ok {
		delete(conns, att.sink.ID())
		if len(conns) == 0 {
			delete(h.sessions, att.sessionID)
		}
	}
}

// CloseSession drops every sink attached to the session.
func (h *Hub) CloseSession(sessionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, att := range h.sessions[sessionID] {
		att.close()
		delete(h.attached, att.sink.ID())
	}
	delete(h.sessions, sessionID)
}

// Attached reports how many sinks are listening to a session.
func (h *Hub) Attached(sessionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Broadcast delivers one frame to every sink attached to the session.
// Delivery is at-most-once per sink and never surfaces failures to the
// sender; a sink whose queue is full is treated as stalled and detached.
// Per-sink frame order follows the caller's broadcast order as long as the
// caller serializes broadcasts per session.
func (h *Hub) Broadcast(sessionID int64, event string, data any) {
	payload, err := Marshal(event, data)
	if err != nil {
		log.Printf("[hub] marshal %s frame: %v", event, err)
		return
	}

	h.mu.RLock()
	stalled := make([]*attachment, 0)
	for _, att := range h.sessions[sessionID] {
		select {
		case att.queue <- payload:
		default:
			stalled = append(stalled, att)
		}
	}
	h.mu.RUnlock()

	for _, att := range stalled {
		log.Printf("[hub] send queue full for %s, detaching", att.sink.ID())
		h.Detach(att.sink.ID())
	}
}

// pump drains one attachment's queue in order. A delivery that errors or
// exceeds the write timeout detaches the connection.
func (h *Hub) pump(att *attachment) {
	for {
		select {
		case <-att.stop:
			// Drain what was queued before the stop (e.g. the closure
			// notice) so detach does not eat frames already committed.
			for {
				select {
				case payload := <-att.queue:
					if err := h.deliver(att.sink, payload); err != nil {
						return
					}
				default:
					return
				}
			}
		case payload := <-att.queue:
			if err := h.deliver(att.sink, payload); err != nil {
				log.Printf("[hub] delivery to %s failed, detaching: %v", att.sink.ID(), err)
				h.Detach(att.sink.ID())
				return
			}
		}
	}
}

func (h *Hub) deliver(sink Sink, payload []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- sink.Deliver(payload)
	}()

	timer := time.NewTimer(h.writeTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errStalled
	}
}

var errStalled = errors.New("delivery timed out")
