// Package notify defines the notification contract used by the
// reservation engine and background jobs, and the templated delivery of
// those notifications through messaging gateways.
package notify

import (
	"context"
	"time"

	"github.com/iliyamo/resort-booking/internal/model"
)

// Kind identifies which message a notification event renders to.
type Kind string

const (
	KindCreated    Kind = "booking.created"
	KindConfirmed  Kind = "booking.confirmed"
	KindCancelled  Kind = "booking.cancelled"
	KindReminder24 Kind = "reminder.24h"
	KindReminder1  Kind = "reminder.1h"
)

// Event carries the structured facts of a notification.  Wording is
// decided by Templates; producers only fill in facts.
type Event struct {
	Kind            Kind      `json:"kind"`
	BookingID       string    `json:"booking_id"`
	UserID          string    `json:"user_id"`
	Channel         string    `json:"channel"`
	OfferingName    string    `json:"offering_name"`
	Location        string    `json:"location,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	Participants    int       `json:"participants"`
	TotalPriceCents int64     `json:"total_price_cents"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	CancelDeadline  time.Time `json:"cancel_deadline,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Notifier delivers notification events.  Implementations return an
// error when delivery failed; whether that matters is up to the caller.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard is a Notifier that drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, Event) error { return nil })

// EventFor fills an event from a booking joined with its offering and slot.
func EventFor(kind Kind, d model.BookingDetail, now time.Time) Event {
	return Event{
		Kind:            kind,
		BookingID:       d.ID,
		UserID:          d.UserID,
		Channel:         d.Source,
		OfferingName:    d.OfferingName,
		Location:        d.Location,
		StartsAt:        d.StartsAt,
		Participants:    d.Participants,
		TotalPriceCents: d.TotalPriceCents,
		OccurredAt:      now,
	}
}
