package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
	StatusNoShow    BookingStatus = "no_show"
)

// Source channels a booking can originate from.
const (
	SourceWhatsApp = "whatsapp"
	SourceTelegram = "telegram"
	SourceWeb      = "web"
)

// Metadata keys written by the engine and the background jobs.
const (
	MetaCancellationReason = "cancellation_reason"
	MetaReminded24h        = "reminded_24h"
	MetaReminded24hAt      = "reminded_24h_at"
	MetaReminded1h         = "reminded_1h"
	MetaReminded1hAt       = "reminded_1h_at"
	MetaCompletedAt        = "completed_at"
	MetaNoShowAt           = "no_show_at"
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

// ParseStatus validates s and returns it as a BookingStatus.
func ParseStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// CanTransition reports whether a booking may move from s to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Live reports whether the booking holds places on its time slot.
func (s BookingStatus) Live() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Metadata is a free-form string map persisted as JSON.  It carries
// idempotency markers (reminder flags) and cancellation reasons.
type Metadata map[string]string

// Flag reports whether key is set to "true".
func (m Metadata) Flag(key string) bool {
	return m[key] == "true"
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	*m = out
	return nil
}

// Booking is a user's reservation of places on exactly one time slot.
// Bookings are never deleted; Status is the terminal marker.
//
// Fields:
//  ID              – primary key identifier (UUID).
//  UserID          – requesting user (phone number, tg:<chat>, or API subject).
//  OfferingID      – offering being booked.
//  TimeSlotID      – capacity ledger entry the places are taken from.
//  Status          – pending, confirmed, cancelled, completed or no_show.
//  Participants    – number of places, at least 1.
//  TotalPriceCents – unit price × participants at creation time.
//  SpecialRequests – free text from the guest.
//  Source          – channel the booking came from (whatsapp, telegram, web).
//  Metadata        – reminder flags and cancellation reason.
//  ExpiresAt       – pending bookings not confirmed by then are released.
//  ConfirmedAt     – when the guest confirmed (nullable).
//  CancelledAt     – when the booking was cancelled or expired (nullable).
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Booking struct {
	ID              string        `json:"id"`                          // bookings.id
	UserID          string        `json:"user_id"`                     // bookings.user_id
	OfferingID      string        `json:"offering_id"`                 // bookings.offering_id
	TimeSlotID      string        `json:"time_slot_id"`                // bookings.time_slot_id
	Status          BookingStatus `json:"status"`                      // bookings.status
	Participants    int           `json:"participants"`                // bookings.participants
	TotalPriceCents int64         `json:"total_price_cents"`           // bookings.total_price_cents
	SpecialRequests string        `json:"special_requests,omitempty"`  // bookings.special_requests
	Source          string        `json:"source"`                      // bookings.source
	Metadata        Metadata      `json:"metadata"`                    // bookings.metadata (JSON)
	ExpiresAt       time.Time     `json:"expires_at"`                  // bookings.expires_at
	ConfirmedAt     *time.Time    `json:"confirmed_at,omitempty"`      // bookings.confirmed_at (nullable)
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`      // bookings.cancelled_at (nullable)
	CreatedAt       time.Time     `json:"created_at"`                  // bookings.created_at
	UpdatedAt       time.Time     `json:"updated_at"`                  // bookings.updated_at
}

// ShortID is the prefix shown to guests in chat messages.
func (b *Booking) ShortID() string {
	if len(b.ID) > 8 {
		return b.ID[:8]
	}
	return b.ID
}

// Clone returns a deep copy of b.
func (b *Booking) Clone() *Booking {
	c := *b
	c.Metadata = make(Metadata, len(b.Metadata))
	for k, v := range b.Metadata {
		c.Metadata[k] = v
	}
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		c.ConfirmedAt = &t
	}
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// BookingDetail is a booking joined with the offering and slot fields
// needed to describe it to a guest.
type BookingDetail struct {
	Booking
	OfferingName string    `json:"offering_name"`
	Location     string    `json:"location"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
}
