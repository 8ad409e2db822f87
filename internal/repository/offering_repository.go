package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/resort-booking/internal/model"
)

const offeringColumns = `o.id, o.slug, o.name, o.category, o.location, o.description,
       o.unit_price_cents, o.duration_minutes, o.capacity_default, o.is_active, o.created_at`

func scanOffering(row rowScanner) (*model.Offering, error) {
	var o model.Offering
	var desc sql.NullString
	if err := row.Scan(
		&o.ID, &o.Slug, &o.Name, &o.Category, &o.Location, &desc,
		&o.UnitPriceCents, &o.DurationMinutes, &o.CapacityDefault, &o.IsActive, &o.CreatedAt,
	); err != nil {
		return nil, err
	}
	o.Description = desc.String
	return &o, nil
}

func getOffering(ctx context.Context, q querier, id string) (*model.Offering, error) {
	o, err := scanOffering(q.QueryRowContext(ctx,
		`SELECT `+offeringColumns+` FROM offerings o WHERE o.id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func collectOfferings(rows *sql.Rows) ([]model.Offering, error) {
	defer rows.Close()
	out := make([]model.Offering, 0)
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Offering returns the offering with the given id.
func (s *SQLStore) Offering(ctx context.Context, id string) (*model.Offering, error) {
	return getOffering(ctx, s.db, id)
}

// Offering reads an offering inside the transaction without locking it.
func (t *sqlTx) Offering(ctx context.Context, id string) (*model.Offering, error) {
	return getOffering(ctx, t.tx, id)
}

// ActiveOfferings lists active offerings ordered by name.
func (s *SQLStore) ActiveOfferings(ctx context.Context, category string, limit int) ([]model.Offering, error) {
	q := `SELECT ` + offeringColumns + ` FROM offerings o WHERE o.is_active = 1`
	args := []any{}
	if category != "" {
		q += ` AND o.category = ?`
		args = append(args, category)
	}
	q += ` ORDER BY o.name`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectOfferings(rows)
}

// PopularOfferings ranks active offerings by bookings created since the
// given time.  Cancelled and no-show bookings do not count.
func (s *SQLStore) PopularOfferings(ctx context.Context, since time.Time, limit int) ([]model.Offering, error) {
	q := `SELECT ` + offeringColumns + `
          FROM offerings o
          LEFT JOIN bookings b
                 ON b.offering_id = o.id
                AND b.created_at >= ?
                AND b.status IN ('pending', 'confirmed', 'completed')
          WHERE o.is_active = 1
          GROUP BY o.id
          ORDER BY COUNT(b.id) DESC, o.name`
	args := []any{since.UTC()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectOfferings(rows)
}

// InsertOffering creates an offering.  A missing ID is an error; callers
// generate UUIDs.
func (s *SQLStore) InsertOffering(ctx context.Context, o *model.Offering) error {
	if o.ID == "" {
		return fmt.Errorf("insert offering: empty id")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO offerings (id, slug, name, category, location, description,
                   unit_price_cents, duration_minutes, capacity_default, is_active, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		o.ID, o.Slug, o.Name, o.Category, o.Location, o.Description,
		o.UnitPriceCents, o.DurationMinutes, o.CapacityDefault, o.IsActive, o.CreatedAt.UTC(),
	)
	return duplicate(err)
}
