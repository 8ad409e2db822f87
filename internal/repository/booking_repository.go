package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/resort-booking/internal/model"
)

const bookingColumns = `b.id, b.user_id, b.offering_id, b.time_slot_id, b.status, b.participants,
       b.total_price_cents, b.special_requests, b.source, b.metadata, b.expires_at,
       b.confirmed_at, b.cancelled_at, b.created_at, b.updated_at`

const detailQuery = `SELECT ` + bookingColumns + `, o.name, o.location, s.starts_at, s.ends_at
          FROM bookings b
          JOIN offerings o ON o.id = b.offering_id
          JOIN time_slots s ON s.id = b.time_slot_id`

// bookingDest returns the scan targets for bookingColumns.  Nullable
// columns are scanned into sql.Null* values and copied by finish.
func bookingDest(b *model.Booking) (dest []any, finish func()) {
	var special sql.NullString
	var confirmed, cancelled sql.NullTime
	var status string
	dest = []any{
		&b.ID, &b.UserID, &b.OfferingID, &b.TimeSlotID, &status, &b.Participants,
		&b.TotalPriceCents, &special, &b.Source, &b.Metadata, &b.ExpiresAt,
		&confirmed, &cancelled, &b.CreatedAt, &b.UpdatedAt,
	}
	finish = func() {
		b.Status = model.BookingStatus(status)
		b.SpecialRequests = special.String
		if confirmed.Valid {
			t := confirmed.Time
			b.ConfirmedAt = &t
		}
		if cancelled.Valid {
			t := cancelled.Time
			b.CancelledAt = &t
		}
		if b.Metadata == nil {
			b.Metadata = model.Metadata{}
		}
	}
	return dest, finish
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	dest, finish := bookingDest(&b)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	return &b, nil
}

func scanBookingDetail(row rowScanner) (*model.BookingDetail, error) {
	var d model.BookingDetail
	dest, finish := bookingDest(&d.Booking)
	dest = append(dest, &d.OfferingName, &d.Location, &d.StartsAt, &d.EndsAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	return &d, nil
}

func collectDetails(rows *sql.Rows) ([]model.BookingDetail, error) {
	defer rows.Close()
	out := make([]model.BookingDetail, 0)
	for rows.Next() {
		d, err := scanBookingDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// LockBooking loads a booking with SELECT ... FOR UPDATE so confirm,
// cancel and the expiration sweep cannot interleave on the same row.
func (t *sqlTx) LockBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings b WHERE b.id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// InsertBooking stores a new booking row.  CreatedAt and UpdatedAt must
// already be set by the caller so ordering follows the engine clock.
func (t *sqlTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings (id, user_id, offering_id, time_slot_id, status, participants,
                   total_price_cents, special_requests, source, metadata, expires_at,
                   confirmed_at, cancelled_at, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, q,
		b.ID, b.UserID, b.OfferingID, b.TimeSlotID, string(b.Status), b.Participants,
		b.TotalPriceCents, b.SpecialRequests, b.Source, b.Metadata, b.ExpiresAt.UTC(),
		nullTime(b.ConfirmedAt), nullTime(b.CancelledAt), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	return duplicate(err)
}

// UpdateBooking writes the mutable columns of a booking locked earlier
// in the same transaction.
func (t *sqlTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	const q = `UPDATE bookings
               SET status = ?, metadata = ?, confirmed_at = ?, cancelled_at = ?, updated_at = ?
               WHERE id = ?`
	res, err := t.tx.ExecContext(ctx, q,
		string(b.Status), b.Metadata, nullTime(b.ConfirmedAt), nullTime(b.CancelledAt), b.UpdatedAt.UTC(), b.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// BookingDetail returns a booking joined with its offering and slot.
func (s *SQLStore) BookingDetail(ctx context.Context, id string) (*model.BookingDetail, error) {
	d, err := scanBookingDetail(s.db.QueryRowContext(ctx, detailQuery+` WHERE b.id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// BookingsByUser lists a user's bookings ordered by creation time
// descending.
func (s *SQLStore) BookingsByUser(ctx context.Context, userID string, status model.BookingStatus) ([]model.BookingDetail, error) {
	var sb strings.Builder
	sb.WriteString(detailQuery)
	sb.WriteString(` WHERE b.user_id = ?`)
	args := []any{userID}
	if status != "" {
		sb.WriteString(` AND b.status = ?`)
		args = append(args, string(status))
	}
	sb.WriteString(` ORDER BY b.created_at DESC, b.id`)
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

// ExpiredPending returns ids of pending bookings past their deadline.
func (s *SQLStore) ExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM bookings WHERE status = 'pending' AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DueReminders returns confirmed bookings starting in [from, to) whose
// reminder flag has not been recorded yet.
func (s *SQLStore) DueReminders(ctx context.Context, from, to time.Time, flag string, limit int) ([]model.BookingDetail, error) {
	path := `$.` + flag
	q := detailQuery + `
          WHERE b.status = 'confirmed'
            AND s.starts_at >= ? AND s.starts_at < ?
            AND COALESCE(JSON_UNQUOTE(JSON_EXTRACT(b.metadata, ?)), '') <> 'true'
          ORDER BY s.starts_at
          LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC(), path, limit)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}
