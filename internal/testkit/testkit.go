// Package testkit holds fixtures shared by package tests: a settable
// clock, a recording notifier and catalog seeding helpers for memstore.
package testkit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/notify"
	"github.com/iliyamo/resort-booking/internal/repository"
)

// Epoch is the default "now" of a fresh Clock.
var Epoch = time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

// Clock is a manually driven time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at Epoch.
func NewClock() *Clock { return &Clock{now: Epoch} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Recorder is a notify.Notifier that keeps every event it is given.
// When Err is set, events are still recorded and Err is returned.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
	Err    error
}

// Notify records ev and returns Err.
func (r *Recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []notify.Kind {
	out := []notify.Kind{}
	for _, ev := range r.Events() {
		out = append(out, ev.Kind)
	}
	return out
}

// Offering seeds an active offering priced per participant.
func Offering(t testing.TB, w repository.CatalogWriter, name string, priceCents int64) *model.Offering {
	t.Helper()
	o := &model.Offering{
		ID:              uuid.NewString(),
		Slug:            strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		Name:            name,
		Category:        "adventure",
		Location:        "Main Beach",
		UnitPriceCents:  priceCents,
		DurationMinutes: 60,
		CapacityDefault: 10,
		IsActive:        true,
		CreatedAt:       Epoch,
	}
	require.NoError(t, w.InsertOffering(context.Background(), o))
	return o
}

// Slot seeds an available slot of the offering starting at start.
func Slot(t testing.TB, w repository.CatalogWriter, offeringID string, start time.Time, capacity int) *model.TimeSlot {
	t.Helper()
	s := &model.TimeSlot{
		ID:          uuid.NewString(),
		OfferingID:  offeringID,
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Capacity:    capacity,
		IsAvailable: true,
		CreatedAt:   Epoch,
		UpdatedAt:   Epoch,
	}
	require.NoError(t, w.InsertTimeSlot(context.Background(), s))
	return s
}
