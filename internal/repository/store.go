package repository

import (
	"context"
	"time"

	"github.com/iliyamo/resort-booking/internal/model"
)

// Catalog is the read-only view of offerings and time slots used by
// browse endpoints and the conversational flow.
type Catalog interface {
	// Offering returns a single offering by id or ErrNotFound.
	Offering(ctx context.Context, id string) (*model.Offering, error)
	// TimeSlot returns a single slot by id or ErrNotFound.
	TimeSlot(ctx context.Context, id string) (*model.TimeSlot, error)
	// ActiveOfferings lists active offerings ordered by name.  An empty
	// category matches every category; limit <= 0 means no limit.
	ActiveOfferings(ctx context.Context, category string, limit int) ([]model.Offering, error)
	// UpcomingSlots lists slots of an offering that start in [from, to),
	// are flagged available and still have free places, ordered by start.
	UpcomingSlots(ctx context.Context, offeringID string, from, to time.Time, limit int) ([]model.TimeSlot, error)
	// PopularOfferings lists active offerings by number of live or
	// completed bookings created since the given time, most booked first.
	PopularOfferings(ctx context.Context, since time.Time, limit int) ([]model.Offering, error)
}

// Store is the full persistence contract of the reservation engine.
// Mutations happen only inside WithTx; every other method is a plain
// read that takes no locks.
type Store interface {
	Catalog

	// WithTx runs fn inside one atomic unit.  When fn returns an error
	// every write made through tx is discarded.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	BookingDetail(ctx context.Context, id string) (*model.BookingDetail, error)
	// BookingsByUser lists a user's bookings newest first.  An empty
	// status returns every status.
	BookingsByUser(ctx context.Context, userID string, status model.BookingStatus) ([]model.BookingDetail, error)
	// ExpiredPending returns ids of pending bookings whose ExpiresAt is
	// at or before now, oldest deadline first.
	ExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)
	// DueReminders returns confirmed bookings whose slot starts in
	// [from, to) and whose metadata flag is not yet set.
	DueReminders(ctx context.Context, from, to time.Time, flag string, limit int) ([]model.BookingDetail, error)
}

// Tx is the set of operations available inside WithTx.  Lock methods
// hold an exclusive row lock until the unit commits or rolls back.
type Tx interface {
	Offering(ctx context.Context, id string) (*model.Offering, error)
	TimeSlot(ctx context.Context, id string) (*model.TimeSlot, error)
	LockTimeSlot(ctx context.Context, id string) (*model.TimeSlot, error)
	LockBooking(ctx context.Context, id string) (*model.Booking, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	UpdateBooking(ctx context.Context, b *model.Booking) error
	SaveBookedCount(ctx context.Context, slot *model.TimeSlot) error
}

// CatalogWriter seeds offerings and time slots.  Catalog management is
// owned by another system; this is used by the seed command and tests.
type CatalogWriter interface {
	InsertOffering(ctx context.Context, o *model.Offering) error
	InsertTimeSlot(ctx context.Context, s *model.TimeSlot) error
}
