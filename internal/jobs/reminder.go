package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/notify"
)

// ReminderEngine is the part of the reservation engine reminders use.
type ReminderEngine interface {
	DueReminders(ctx context.Context, from, to time.Time, flag string, limit int) ([]model.BookingDetail, error)
	MarkReminded(ctx context.Context, bookingID, flag string) (bool, error)
}

// Horizon describes one reminder window: bookings starting in
// [now+From, now+To) get Kind once, tracked by Flag.
type Horizon struct {
	Name string
	From time.Duration
	To   time.Duration
	Flag string
	Kind notify.Kind
}

var (
	// FarHorizon reminds guests a day ahead.
	FarHorizon = Horizon{
		Name: "remind-24h",
		From: 23 * time.Hour,
		To:   25 * time.Hour,
		Flag: model.MetaReminded24h,
		Kind: notify.KindReminder24,
	}
	// NearHorizon reminds guests an hour ahead.
	NearHorizon = Horizon{
		Name: "remind-1h",
		From: 45 * time.Minute,
		To:   75 * time.Minute,
		Flag: model.MetaReminded1h,
		Kind: notify.KindReminder1,
	}
)

// ParseHorizon maps "far"/"24h" and "near"/"1h" to a horizon.
func ParseHorizon(s string) (Horizon, error) {
	switch s {
	case "far", "24h", FarHorizon.Name:
		return FarHorizon, nil
	case "near", "1h", NearHorizon.Name:
		return NearHorizon, nil
	}
	return Horizon{}, fmt.Errorf("unknown reminder horizon %q (want far or near)", s)
}

// Reminder sends one horizon's reminders.  The flag is set only after
// the notification went out, so a failed send is retried on the next
// run while a delivered one is never repeated.
type Reminder struct {
	Engine    ReminderEngine
	Notifier  notify.Notifier
	Horizon   Horizon
	BatchSize int
	Log       zerolog.Logger
	Now       func() time.Time
}

// Name returns the horizon's job name, remind-24h or remind-1h.
func (r *Reminder) Name() string { return r.Horizon.Name }

// Run notifies every confirmed booking starting inside the horizon window
// that has not been reminded yet.  Failures are counted per booking.
func (r *Reminder) Run(ctx context.Context) (Result, error) {
	now := r.now()
	res := Result{Job: r.Name(), StartedAt: now}
	due, err := r.Engine.DueReminders(ctx, now.Add(r.Horizon.From), now.Add(r.Horizon.To), r.Horizon.Flag, batch(r.BatchSize))
	if err != nil {
		return res, fmt.Errorf("list due reminders: %w", err)
	}
	for _, d := range due {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		log := r.Log.With().Str("booking_id", d.ID).Str("flag", r.Horizon.Flag).Logger()
		if err := r.Notifier.Notify(ctx, notify.EventFor(r.Horizon.Kind, d, now)); err != nil {
			res.Failed++
			log.Warn().Err(err).Msg("reminder not delivered")
			continue
		}
		marked, err := r.Engine.MarkReminded(ctx, d.ID, r.Horizon.Flag)
		switch {
		case err != nil:
			res.Failed++
			log.Error().Err(err).Msg("reminder sent but flag not stored")
		case marked:
			res.Succeeded++
		default:
			res.Skipped++
		}
	}
	res.FinishedAt = r.now()
	r.Log.Info().Str("job", r.Name()).Int("processed", res.Processed).Int("sent", res.Succeeded).
		Int("failed", res.Failed).Msg("reminders finished")
	return res, nil
}

func (r *Reminder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
