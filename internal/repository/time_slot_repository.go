package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/resort-booking/internal/model"
)

const slotColumns = `s.id, s.offering_id, s.starts_at, s.ends_at, s.capacity, s.booked_count,
       s.is_available, s.created_at, s.updated_at`

func scanTimeSlot(row rowScanner) (*model.TimeSlot, error) {
	var s model.TimeSlot
	if err := row.Scan(
		&s.ID, &s.OfferingID, &s.StartsAt, &s.EndsAt, &s.Capacity, &s.BookedCount,
		&s.IsAvailable, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

// getTimeSlot loads one slot.  With lock set the row stays exclusively
// locked until the surrounding transaction ends.
func getTimeSlot(ctx context.Context, q querier, id string, lock bool) (*model.TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots s WHERE s.id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	s, err := scanTimeSlot(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// TimeSlot returns a slot without locking it.
func (s *SQLStore) TimeSlot(ctx context.Context, id string) (*model.TimeSlot, error) {
	return getTimeSlot(ctx, s.db, id, false)
}

func (t *sqlTx) TimeSlot(ctx context.Context, id string) (*model.TimeSlot, error) {
	return getTimeSlot(ctx, t.tx, id, false)
}

// LockTimeSlot loads a slot with SELECT ... FOR UPDATE.  Concurrent
// creates and cancels against the same slot queue up behind this lock
// and re-read the booked count once it is released.
func (t *sqlTx) LockTimeSlot(ctx context.Context, id string) (*model.TimeSlot, error) {
	return getTimeSlot(ctx, t.tx, id, true)
}

// SaveBookedCount persists the ledger count of a slot previously locked
// in the same transaction.  The CHECK constraint on time_slots rejects
// values outside [0, capacity] as a last line of defence.
func (t *sqlTx) SaveBookedCount(ctx context.Context, slot *model.TimeSlot) error {
	slot.UpdatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`UPDATE time_slots SET booked_count = ?, updated_at = ? WHERE id = ?`,
		slot.BookedCount, slot.UpdatedAt, slot.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpcomingSlots lists bookable-looking slots of an offering in [from, to).
func (s *SQLStore) UpcomingSlots(ctx context.Context, offeringID string, from, to time.Time, limit int) ([]model.TimeSlot, error) {
	q := `SELECT ` + slotColumns + `
          FROM time_slots s
          WHERE s.offering_id = ?
            AND s.starts_at >= ? AND s.starts_at < ?
            AND s.is_available = 1
            AND s.booked_count < s.capacity
          ORDER BY s.starts_at`
	args := []any{offeringID, from.UTC(), to.UTC()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.TimeSlot, 0)
	for rows.Next() {
		slot, err := scanTimeSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *slot)
	}
	return out, rows.Err()
}

// InsertTimeSlot creates a slot.  A second slot for the same offering
// and start time fails with ErrConflict.
func (s *SQLStore) InsertTimeSlot(ctx context.Context, slot *model.TimeSlot) error {
	if slot.ID == "" {
		return fmt.Errorf("insert time slot: empty id")
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now
	const q = `INSERT INTO time_slots (id, offering_id, starts_at, ends_at, capacity, booked_count,
                   is_available, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		slot.ID, slot.OfferingID, slot.StartsAt.UTC(), slot.EndsAt.UTC(), slot.Capacity, slot.BookedCount,
		slot.IsAvailable, slot.CreatedAt.UTC(), slot.UpdatedAt,
	)
	return duplicate(err)
}
