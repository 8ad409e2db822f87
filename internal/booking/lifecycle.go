package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/repository"
)

// ExpiredPending returns ids of pending bookings whose confirmation
// window has closed, oldest first.
func (e *Engine) ExpiredPending(ctx context.Context, limit int) ([]string, error) {
	return e.store.ExpiredPending(ctx, e.Now(), limit)
}

// ExpireBooking releases one expired pending booking.  It returns false
// without error when the booking is gone, no longer pending or not yet
// expired, so running it twice is harmless.  No notification is sent.
func (e *Engine) ExpireBooking(ctx context.Context, bookingID string) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "booking.expire", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	expired := false
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := e.Now()
		if b.Status != model.StatusPending || now.Before(b.ExpiresAt) {
			return nil
		}
		slot, err := tx.LockTimeSlot(ctx, b.TimeSlotID)
		if err != nil {
			return fmt.Errorf("lock slot %s: %w", b.TimeSlotID, err)
		}
		if err := e.release(ctx, tx, b, slot, ReasonExpired, now); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, e.fail(span, err)
	}
	if expired {
		e.log.Info().Str("booking_id", bookingID).Msg("pending booking expired")
	}
	return expired, nil
}

// DueReminders lists confirmed bookings starting in [from, to) that have
// not been sent the reminder recorded under flag.
func (e *Engine) DueReminders(ctx context.Context, from, to time.Time, flag string, limit int) ([]model.BookingDetail, error) {
	return e.store.DueReminders(ctx, from, to, flag, limit)
}

// MarkReminded sets flag and its <flag>_at timestamp on a confirmed
// booking.  It returns false when
// the flag was already set or the booking is no longer confirmed, which
// lets two reminder runs race without sending twice.
func (e *Engine) MarkReminded(ctx context.Context, bookingID, flag string) (bool, error) {
	marked := false
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if b.Status != model.StatusConfirmed || b.Metadata.Flag(flag) {
			return nil
		}
		if b.Metadata == nil {
			b.Metadata = model.Metadata{}
		}
		now := e.Now()
		b.Metadata[flag] = "true"
		b.Metadata[flag+"_at"] = now.UTC().Format(time.RFC3339)
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		marked = true
		return nil
	})
	return marked, err
}

// MarkCompleted closes a confirmed booking whose slot has started.
func (e *Engine) MarkCompleted(ctx context.Context, bookingID string) (*model.Booking, error) {
	return e.close(ctx, bookingID, model.StatusCompleted, model.MetaCompletedAt)
}

// MarkNoShow closes a confirmed booking whose guests never arrived.
func (e *Engine) MarkNoShow(ctx context.Context, bookingID string) (*model.Booking, error) {
	return e.close(ctx, bookingID, model.StatusNoShow, model.MetaNoShowAt)
}

// close moves a confirmed booking to a terminal status after its slot
// started.  The places leave the ledger with it, so booked_count keeps
// counting live participants only.
func (e *Engine) close(ctx context.Context, bookingID string, status model.BookingStatus, metaKey string) (*model.Booking, error) {
	ctx, span := e.tracer.Start(ctx, "booking.close", trace.WithAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("booking.status", string(status)),
	))
	defer span.End()

	var closed *model.Booking
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundf("booking not found")
		}
		if err != nil {
			return err
		}
		if !b.Status.CanTransition(status) {
			return preconditionf("booking is %s, cannot mark it %s", b.Status, status)
		}
		slot, err := tx.LockTimeSlot(ctx, b.TimeSlotID)
		if err != nil {
			return fmt.Errorf("lock slot %s: %w", b.TimeSlotID, err)
		}
		now := e.Now()
		if now.Before(slot.StartsAt) {
			return preconditionf("time slot has not started yet")
		}
		if err := slot.Decrement(b.Participants); err != nil {
			return fmt.Errorf("close booking %s: %w", b.ID, err)
		}
		b.Status = status
		b.UpdatedAt = now
		if b.Metadata == nil {
			b.Metadata = model.Metadata{}
		}
		b.Metadata[metaKey] = now.Format(time.RFC3339)
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		if err := tx.SaveBookedCount(ctx, slot); err != nil {
			return fmt.Errorf("save booked count: %w", err)
		}
		closed = b
		return nil
	})
	if err != nil {
		return nil, e.fail(span, err)
	}
	e.log.Info().Str("booking_id", closed.ID).Str("status", string(status)).Msg("booking closed")
	return closed, nil
}
