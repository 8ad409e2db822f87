package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ExpiryEngine is the part of the reservation engine the sweeper uses.
type ExpiryEngine interface {
	ExpiredPending(ctx context.Context, limit int) ([]string, error)
	ExpireBooking(ctx context.Context, bookingID string) (bool, error)
}

// Sweeper cancels pending bookings whose confirmation window closed and
// returns their places to the slot.
type Sweeper struct {
	Engine    ExpiryEngine
	BatchSize int
	Log       zerolog.Logger
	Now       func() time.Time
}

// Name returns the job name used in logs and results.
func (s *Sweeper) Name() string { return "expire-pending" }

// Run expires one batch.  A booking that fails is logged and left for
// the next run; one that was confirmed or cancelled in the meantime is
// counted as skipped.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	res := Result{Job: s.Name(), StartedAt: s.now()}
	ids, err := s.Engine.ExpiredPending(ctx, batch(s.BatchSize))
	if err != nil {
		return res, fmt.Errorf("list expired bookings: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		ok, err := s.Engine.ExpireBooking(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			s.Log.Error().Err(err).Str("booking_id", id).Msg("expire booking failed")
		case ok:
			res.Succeeded++
		default:
			res.Skipped++
		}
	}
	res.FinishedAt = s.now()
	s.Log.Info().Int("processed", res.Processed).Int("expired", res.Succeeded).
		Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("sweep finished")
	return res, nil
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
