package chat

import "time"

// Status is the lifecycle state of a support session.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Session is one support conversation between a guest and the front desk,
// identified by a shareable code (room or booking derived).
type Session struct {
	ID               int64      `json:"id"`
	Code             string     `json:"sessionCode"`
	ClientLang       string     `json:"clientLang"`
	ClientIdentifier string     `json:"clientIdentifier,omitempty"`
	Status           Status     `json:"status"`
	AssignedStaffID  string     `json:"assignedStaffId,omitempty"`
	BotEnabled       bool       `json:"botEnabled"`
	Profile          Profile    `json:"profile,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastMessageAt    *time.Time `json:"lastMessageAt,omitempty"`
}

// Profile carries guest metadata supplied by the membership service.
// The coordination core forwards it untouched and never inspects the values.
type Profile struct {
	CustomerName    string `json:"customerName,omitempty"`
	CustomerEmail   string `json:"customerEmail,omitempty"`
	MembershipLevel string `json:"membershipLevel,omitempty"`
	BookingStatus   string `json:"bookingStatus,omitempty"`
	BookingCode     string `json:"bookingCode,omitempty"`
}

// IsZero reports whether no profile metadata was supplied.
func (p Profile) IsZero() bool {
	return p == Profile{}
}
