// Package jobs holds the periodic background work of the booking
// service: releasing expired pending bookings and sending the far and
// near horizon reminders.  Every job is safe to run repeatedly and
// concurrently with user traffic.
package jobs

import (
	"context"
	"time"
)

// DefaultBatchSize bounds how many rows one run processes.
const DefaultBatchSize = 200

// Result summarises one run of a job.
type Result struct {
	Job        string    `json:"job"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Runner is one job.  Run returns an error only when the job could not
// start at all; per-item failures are counted in the result.
type Runner interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

func batch(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	return n
}
