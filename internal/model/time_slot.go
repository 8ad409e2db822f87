package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLedgerOverflow is returned when an increment would push the
	// booked count above the slot capacity.
	ErrLedgerOverflow = errors.New("booked count would exceed capacity")
	// ErrLedgerUnderflow is returned when a decrement would push the
	// booked count below zero.
	ErrLedgerUnderflow = errors.New("booked count would drop below zero")
	// ErrInvalidParticipants is returned for non-positive participant counts.
	ErrInvalidParticipants = errors.New("participants must be at least 1")
)

// TimeSlot is one scheduled instance of an offering with a finite
// number of places.  Capacity and BookedCount form the capacity
// ledger: 0 <= BookedCount <= Capacity must hold at all times.  Only
// the reservation engine changes BookedCount, and only through
// Increment and Decrement.  Slots are never deleted once bookings
// reference them; they are disabled with IsAvailable instead.
//
// Fields:
//  ID          – primary key identifier (UUID).
//  OfferingID  – owning offering.
//  StartsAt    – when the slot begins (UTC).
//  EndsAt      – when the slot ends (UTC).
//  Capacity    – total places, always > 0.
//  BookedCount – places held by pending and confirmed bookings.
//  IsAvailable – soft-disable flag.
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type TimeSlot struct {
	ID          string    `json:"id"`           // time_slots.id
	OfferingID  string    `json:"offering_id"`  // time_slots.offering_id
	StartsAt    time.Time `json:"starts_at"`    // time_slots.starts_at
	EndsAt      time.Time `json:"ends_at"`      // time_slots.ends_at
	Capacity    int       `json:"capacity"`     // time_slots.capacity
	BookedCount int       `json:"booked_count"` // time_slots.booked_count
	IsAvailable bool      `json:"is_available"` // time_slots.is_available
	CreatedAt   time.Time `json:"created_at"`   // time_slots.created_at
	UpdatedAt   time.Time `json:"updated_at"`   // time_slots.updated_at
}

// AvailableCapacity returns the number of places still free.
func (s *TimeSlot) AvailableCapacity() int {
	return s.Capacity - s.BookedCount
}

// Full reports whether no places are left.
func (s *TimeSlot) Full() bool {
	return s.AvailableCapacity() <= 0
}

// Increment reserves n places.  It fails without changing the slot when
// n is not positive or when the result would exceed Capacity.
func (s *TimeSlot) Increment(n int) error {
	if n < 1 {
		return ErrInvalidParticipants
	}
	if s.BookedCount+n > s.Capacity {
		return fmt.Errorf("slot %s: +%d on %d/%d: %w", s.ID, n, s.BookedCount, s.Capacity, ErrLedgerOverflow)
	}
	s.BookedCount += n
	return nil
}

// Decrement releases n places.  It fails without changing the slot when
// n is not positive or when the result would be negative.
func (s *TimeSlot) Decrement(n int) error {
	if n < 1 {
		return ErrInvalidParticipants
	}
	if s.BookedCount-n < 0 {
		return fmt.Errorf("slot %s: -%d on %d/%d: %w", s.ID, n, s.BookedCount, s.Capacity, ErrLedgerUnderflow)
	}
	s.BookedCount -= n
	return nil
}

// Bookable reports whether n participants can be booked on the slot at
// time now.  The slot must start strictly after now, be flagged
// available, belong to an active offering and have at least n free
// places.
func (s *TimeSlot) Bookable(n int, now time.Time, offeringActive bool) bool {
	if n < 1 || !offeringActive || !s.IsAvailable {
		return false
	}
	if !s.StartsAt.After(now) {
		return false
	}
	return s.AvailableCapacity() >= n
}
