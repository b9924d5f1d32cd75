package chat

import (
	"strings"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderClient Sender = "CLIENT"
	SenderStaff  Sender = "STAFF"
	SenderBot    Sender = "BOT"
)

// Reserved originalText prefixes. Consumers must treat the remainder of a
// prefixed payload as a resource locator or notice, not literal text.
const (
	ImagePrefix  = "IMAGE_URL:"
	SystemPrefix = "[SYSTEM]:"
)

// Message is one transcript entry. The ID is assigned at append time and is
// strictly increasing within a session; append order is authoritative for
// replay and fan-out.
type Message struct {
	ID             int64     `json:"id"`
	SessionID      int64     `json:"sessionId"`
	Sender         Sender    `json:"sender"`
	OriginalText   string    `json:"originalText"`
	TranslatedText string    `json:"translatedText,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsImage reports whether the payload is an image marker.
func (m Message) IsImage() bool {
	return strings.HasPrefix(m.OriginalText, ImagePrefix)
}

// ImageURL returns the locator of an image payload, or "" for plain text.
func (m Message) ImageURL() string {
	if !m.IsImage() {
		return ""
	}
	return strings.TrimPrefix(m.OriginalText, ImagePrefix)
}

// IsSystem reports whether the payload is an administrative notice.
func (m Message) IsSystem() bool {
	return strings.HasPrefix(m.OriginalText, SystemPrefix)
}

// ImageText encodes an image locator as a marker payload.
func ImageText(url string) string {
	return ImagePrefix + url
}

// SystemText encodes an administrative notice payload.
func SystemText(notice string) string {
	return SystemPrefix + " " + notice
}
