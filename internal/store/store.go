// Package store persists support sessions and their transcripts.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/hotel7days/concierge/backend/internal/model/chat"
)

var (
	// ErrInvalidCode rejects an empty or malformed session code.
	ErrInvalidCode = errors.New("invalid session code")
	// ErrSessionNotFound marks a lookup of an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMessageNotFound marks a lookup of an unknown message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrSessionClosed rejects a write against a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadyClosed signals a redundant close so the second caller knows
	// not to re-emit the closure notice.
	ErrAlreadyClosed = errors.New("session already closed")
)

// Store is the session registry and message log. Implementations must be
// safe for concurrent use; append and sequence-id assignment are serialized
// per session so two concurrent appends on the same session are strictly
// ordered and never share an id.
type Store interface {
	// ResolveOrCreate looks a session up by code, creating an OPEN one with
	// botEnabled=true if the code is unseen. Creation is idempotent keyed on
	// code: concurrent calls with the same unseen code yield one session.
	// The created flag tells the caller whether this call made it.
	ResolveOrCreate(ctx context.Context, code, clientLang, clientIdentifier string, profile chat.Profile) (sess chat.Session, created bool, err error)

	// GetByID fetches a session by internal id.
	GetByID(ctx context.Context, id int64) (chat.Session, error)

	// GetByCode fetches a session by its shareable code.
	GetByCode(ctx context.Context, code string) (chat.Session, error)

	// ListOpen returns every OPEN session for the dispatch dashboard.
	ListOpen(ctx context.Context) ([]chat.Session, error)

	// CloseSession transitions OPEN -> CLOSED exactly once. A second close
	// returns ErrAlreadyClosed, not a silent no-op.
	CloseSession(ctx context.Context, id int64) (chat.Session, error)

	// AssignStaff records the observing staff member, last assignment wins.
	AssignStaff(ctx context.Context, id int64, staffID string) error

	// Append adds a message to the session transcript, assigning the next
	// sequence id and stamping createdAt. A CLIENT append to a closed
	// session fails with ErrSessionClosed.
	Append(ctx context.Context, sessionID int64, sender chat.Sender, text string) (chat.Message, error)

	// AppendNotice adds the closure notice after the CLOSED transition. It
	// is the only write path exempt from the closed-session check, so the
	// notice can be the final transcript entry.
	AppendNotice(ctx context.Context, sessionID int64, text string) (chat.Message, error)

	// History returns messages in append order, oldest first. A positive
	// limit caps the result to the most recent suffix, still oldest first.
	// A session with no messages yields an empty slice.
	History(ctx context.Context, sessionID int64, limit int) ([]chat.Message, error)

	// SetTranslated records the translation collaborator's text for a
	// message after append.
	SetTranslated(ctx context.Context, sessionID, messageID int64, text string) error

	// Close releases store resources.
	Close() error
}

const maxCodeLen = 64

// ValidateCode normalizes a session code and rejects malformed ones.
func ValidateCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > maxCodeLen {
		return "", ErrInvalidCode
	}
	for _, r := range code {
		if r < 0x21 || r == 0x7f {
			return "", ErrInvalidCode
		}
	}
	return code, nil
}
