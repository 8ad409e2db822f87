// Package booking implements the reservation engine: the only component
// allowed to change a time slot's booked count or a booking's status.
// Every mutating operation runs as one unit of work against the store,
// taking row locks before it validates anything.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/notify"
	"github.com/iliyamo/resort-booking/internal/repository"
)

const (
	// DefaultPendingTimeout is how long a pending booking holds its places.
	DefaultPendingTimeout = 30 * time.Minute
	// DefaultCancellationDeadline is how long before start a confirmed
	// booking can still be cancelled.
	DefaultCancellationDeadline = 24 * time.Hour

	// ReasonExpired is recorded when the sweeper releases a pending booking.
	ReasonExpired = "expired"
	// ReasonUserRequest is the default cancellation reason.
	ReasonUserRequest = "cancelled by user"
)

// Options tune an Engine.  Zero values fall back to the defaults above
// and time.Now.
type Options struct {
	PendingTimeout       time.Duration
	CancellationDeadline time.Duration
	Now                  func() time.Time
}

// Engine exposes create, confirm and cancel plus the mutations the
// background jobs need.  It is safe for concurrent use; serialisation of
// writers is delegated to the store's row locks.
type Engine struct {
	store    repository.Store
	notifier notify.Notifier
	log      zerolog.Logger
	tracer   trace.Tracer

	pendingTimeout time.Duration
	cancelDeadline time.Duration
	now            func() time.Time
}

// NewEngine wires an engine.  A nil notifier drops notifications.
func NewEngine(store repository.Store, notifier notify.Notifier, log zerolog.Logger, opts Options) *Engine {
	if store == nil {
		panic("nil store passed to NewEngine")
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	e := &Engine{
		store:          store,
		notifier:       notifier,
		log:            log.With().Str("component", "booking").Logger(),
		tracer:         otel.Tracer("github.com/iliyamo/resort-booking/internal/booking"),
		pendingTimeout: opts.PendingTimeout,
		cancelDeadline: opts.CancellationDeadline,
		now:            opts.Now,
	}
	if e.pendingTimeout <= 0 {
		e.pendingTimeout = DefaultPendingTimeout
	}
	if e.cancelDeadline <= 0 {
		e.cancelDeadline = DefaultCancellationDeadline
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// PendingTimeout returns the configured confirmation window.
func (e *Engine) PendingTimeout() time.Duration { return e.pendingTimeout }

// CancellationDeadline returns the configured cancellation cut-off.
func (e *Engine) CancellationDeadline() time.Duration { return e.cancelDeadline }

// Now returns the engine clock in UTC.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// CreateRequest is the input of Create.
type CreateRequest struct {
	UserID          string `json:"-"`
	OfferingID      string `json:"offering_id" validate:"required"`
	TimeSlotID      string `json:"time_slot_id" validate:"required"`
	Participants    int    `json:"participants" validate:"required,min=1"`
	SpecialRequests string `json:"special_requests" validate:"max=1000"`
	Source          string `json:"-"`
}

// CheckAvailability reports whether participants places could be booked
// on the slot right now and how many places are free.  It takes no
// locks; Create repeats the check under lock.
func (e *Engine) CheckAvailability(ctx context.Context, slotID string, participants int) (bool, int, error) {
	ctx, span := e.tracer.Start(ctx, "booking.check_availability", trace.WithAttributes(attribute.String("slot.id", slotID)))
	defer span.End()

	slot, err := e.store.TimeSlot(ctx, slotID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, e.fail(span, err)
	}
	offering, err := e.store.Offering(ctx, slot.OfferingID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, 0, e.fail(span, err)
	}
	active := offering != nil && offering.IsActive
	available := slot.AvailableCapacity()
	if available < 0 {
		available = 0
	}
	return slot.Bookable(participants, e.Now(), active), available, nil
}

// Create reserves places on a slot and stores a pending booking that
// expires after the pending timeout.  Nothing is written when any check
// fails.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*model.Booking, error) {
	ctx, span := e.tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("slot.id", req.TimeSlotID),
		attribute.Int("participants", req.Participants),
	))
	defer span.End()

	if req.Participants < 1 {
		return nil, validationf("participants must be at least 1")
	}
	if req.UserID == "" {
		return nil, validationf("user is required")
	}
	if req.Source == "" {
		req.Source = model.SourceWeb
	}

	var created *model.Booking
	var detail model.BookingDetail
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		offering, err := tx.Offering(ctx, req.OfferingID)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundf("offering not found")
		}
		if err != nil {
			return err
		}
		if !offering.IsActive {
			return validationf("%s is not available for booking", offering.Name)
		}

		slot, err := tx.LockTimeSlot(ctx, req.TimeSlotID)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundf("time slot not found")
		}
		if err != nil {
			return err
		}
		if slot.OfferingID != offering.ID {
			return validationf("time slot does not belong to %s", offering.Name)
		}
		now := e.Now()
		if !slot.StartsAt.After(now) {
			return validationf("time slot has already started")
		}
		if !slot.IsAvailable {
			return validationf("time slot is not available")
		}
		if avail := slot.AvailableCapacity(); avail < req.Participants {
			return capacityErr(max(avail, 0), req.Participants)
		}
		if err := slot.Increment(req.Participants); err != nil {
			return capacityErr(max(slot.AvailableCapacity(), 0), req.Participants)
		}

		b := &model.Booking{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			OfferingID:      offering.ID,
			TimeSlotID:      slot.ID,
			Status:          model.StatusPending,
			Participants:    req.Participants,
			TotalPriceCents: offering.PriceFor(req.Participants),
			SpecialRequests: req.SpecialRequests,
			Source:          req.Source,
			Metadata:        model.Metadata{},
			ExpiresAt:       now.Add(e.pendingTimeout),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if err := tx.SaveBookedCount(ctx, slot); err != nil {
			return fmt.Errorf("save booked count: %w", err)
		}
		created = b
		detail = describe(b, offering, slot)
		return nil
	})
	if err != nil {
		return nil, e.fail(span, err)
	}

	e.log.Info().Str("booking_id", created.ID).Str("user_id", created.UserID).
		Str("slot_id", created.TimeSlotID).Int("participants", created.Participants).Msg("booking created")
	ev := e.event(notify.KindCreated, detail)
	ev.ExpiresAt = created.ExpiresAt
	e.notify(ctx, ev)
	return created, nil
}

// Confirm moves a pending booking to confirmed.  The booking must belong
// to userID and its confirmation window must still be open.  A confirm
// that loses the race against the sweeper observes the cancelled status
// and fails with a precondition error.
func (e *Engine) Confirm(ctx context.Context, bookingID, userID string) (*model.Booking, error) {
	ctx, span := e.tracer.Start(ctx, "booking.confirm", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	var confirmed *model.Booking
	var detail model.BookingDetail
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := e.lockOwned(ctx, tx, bookingID, userID)
		if err != nil {
			return err
		}
		if b.Status != model.StatusPending {
			return preconditionf("booking is %s, only pending bookings can be confirmed", b.Status)
		}
		now := e.Now()
		if !now.Before(b.ExpiresAt) {
			return deadlineErr("booking confirmation window has passed", b.ExpiresAt)
		}
		b.Status = model.StatusConfirmed
		b.ConfirmedAt = &now
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		confirmed = b
		detail, err = e.describeTx(ctx, tx, b)
		return err
	})
	if err != nil {
		return nil, e.fail(span, err)
	}

	e.log.Info().Str("booking_id", confirmed.ID).Str("user_id", confirmed.UserID).Msg("booking confirmed")
	e.notify(ctx, e.event(notify.KindConfirmed, detail))
	return confirmed, nil
}

// Cancel cancels a pending or confirmed booking owned by userID and
// releases its places.  Confirmed bookings can only be cancelled before
// the cancellation deadline; pending bookings have no deadline.
func (e *Engine) Cancel(ctx context.Context, bookingID, userID, reason string) (*model.Booking, error) {
	ctx, span := e.tracer.Start(ctx, "booking.cancel", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	if reason == "" {
		reason = ReasonUserRequest
	}
	var cancelled *model.Booking
	var detail model.BookingDetail
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := e.lockOwned(ctx, tx, bookingID, userID)
		if err != nil {
			return err
		}
		if !b.Status.Live() {
			return preconditionf("booking is already %s", b.Status)
		}
		slot, err := tx.LockTimeSlot(ctx, b.TimeSlotID)
		if err != nil {
			return fmt.Errorf("lock slot %s: %w", b.TimeSlotID, err)
		}
		now := e.Now()
		if b.Status == model.StatusConfirmed {
			deadline := slot.StartsAt.Add(-e.cancelDeadline)
			if !now.Before(deadline) {
				return deadlineErr(
					fmt.Sprintf("bookings can only be cancelled up to %s before the start time", humanDuration(e.cancelDeadline)),
					deadline)
			}
		}
		if err := e.release(ctx, tx, b, slot, reason, now); err != nil {
			return err
		}
		cancelled = b
		detail, err = e.describeTx(ctx, tx, b)
		return err
	})
	if err != nil {
		return nil, e.fail(span, err)
	}

	e.log.Info().Str("booking_id", cancelled.ID).Str("user_id", cancelled.UserID).Str("reason", reason).Msg("booking cancelled")
	ev := e.event(notify.KindCancelled, detail)
	ev.Reason = reason
	e.notify(ctx, ev)
	return cancelled, nil
}

// ListBookings returns a user's bookings newest first.  An empty status
// returns all of them.
func (e *Engine) ListBookings(ctx context.Context, userID string, status model.BookingStatus) ([]model.BookingDetail, error) {
	ctx, span := e.tracer.Start(ctx, "booking.list")
	defer span.End()
	out, err := e.store.BookingsByUser(ctx, userID, status)
	if err != nil {
		return nil, e.fail(span, err)
	}
	return out, nil
}

// GetBooking returns one booking of userID.  Missing and foreign bookings
// both fail with the same authorization error.
func (e *Engine) GetBooking(ctx context.Context, bookingID, userID string) (*model.BookingDetail, error) {
	d, err := e.store.BookingDetail(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, errBookingNotFound
	}
	return d, nil
}

// lockOwned locks a booking and hides it unless it belongs to userID.
func (e *Engine) lockOwned(ctx context.Context, tx repository.Tx, bookingID, userID string) (*model.Booking, error) {
	b, err := tx.LockBooking(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, errBookingNotFound
	}
	return b, nil
}

// release is the mutating tail shared by cancel and expiry: mark the
// booking cancelled and give its places back to the slot.  Both rows
// must already be locked by tx.
func (e *Engine) release(ctx context.Context, tx repository.Tx, b *model.Booking, slot *model.TimeSlot, reason string, now time.Time) error {
	if err := slot.Decrement(b.Participants); err != nil {
		return fmt.Errorf("release booking %s: %w", b.ID, err)
	}
	b.Status = model.StatusCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
	if b.Metadata == nil {
		b.Metadata = model.Metadata{}
	}
	b.Metadata[model.MetaCancellationReason] = reason
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if err := tx.SaveBookedCount(ctx, slot); err != nil {
		return fmt.Errorf("save booked count: %w", err)
	}
	return nil
}

// describeTx loads the offering and slot fields of a booking inside tx.
func (e *Engine) describeTx(ctx context.Context, tx repository.Tx, b *model.Booking) (model.BookingDetail, error) {
	offering, err := tx.Offering(ctx, b.OfferingID)
	if err != nil {
		return model.BookingDetail{}, fmt.Errorf("load offering %s: %w", b.OfferingID, err)
	}
	slot, err := tx.TimeSlot(ctx, b.TimeSlotID)
	if err != nil {
		return model.BookingDetail{}, fmt.Errorf("load slot %s: %w", b.TimeSlotID, err)
	}
	return describe(b, offering, slot), nil
}

func describe(b *model.Booking, o *model.Offering, s *model.TimeSlot) model.BookingDetail {
	return model.BookingDetail{
		Booking:      *b.Clone(),
		OfferingName: o.Name,
		Location:     o.Location,
		StartsAt:     s.StartsAt,
		EndsAt:       s.EndsAt,
	}
}

func (e *Engine) event(kind notify.Kind, d model.BookingDetail) notify.Event {
	ev := notify.EventFor(kind, d, e.Now())
	ev.CancelDeadline = d.StartsAt.Add(-e.cancelDeadline)
	return ev
}

// notify delivers ev after the unit of work committed.  Failures are
// logged and never returned: the reservation outcome does not depend on
// the messaging channel.
func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("booking_id", ev.BookingID).Str("kind", string(ev.Kind)).Msg("notification failed")
	}
}

// fail records err on the span.  Engine errors are expected outcomes
// and do not mark the span as failed.
func (e *Engine) fail(span trace.Span, err error) error {
	var be *Error
	if errors.As(err, &be) {
		span.SetAttributes(attribute.String("booking.error_kind", be.Kind.String()))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
