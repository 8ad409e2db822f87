package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a job on a fixed interval until ctx is cancelled.
type Scheduler struct {
	Job      Runner
	Interval time.Duration
	Log      zerolog.Logger

	mu sync.Mutex
}

// Run executes the job once immediately, then every Interval until ctx
// is done.  A tick that arrives while a run is in progress is dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// tick never overlaps with itself; a run that outlasts the interval
// swallows the ticks it missed.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()
	if _, err := s.Job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.Log.Error().Err(err).Str("job", s.Job.Name()).Msg("job run failed")
	}
}

// RunAll starts one scheduler per entry and waits for all of them to
// stop.  It returns when ctx is cancelled.
func RunAll(ctx context.Context, schedulers ...*Scheduler) {
	var wg sync.WaitGroup
	for _, s := range schedulers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(ctx)
		}()
	}
	wg.Wait()
}
