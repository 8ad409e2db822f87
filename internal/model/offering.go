package model

import "time"

// Offering is a bookable activity in the catalog (a kayak tour, a spa
// session, a dinner seating).  The catalog itself is maintained outside
// this service; the reservation engine only reads the fields below.
//
// Fields:
//  ID              – primary key identifier (UUID).
//  Slug            – stable URL-friendly name, unique.
//  Name            – display name shown to guests.
//  Category        – free-form grouping used by browse filters.
//  Location        – where the activity takes place.
//  Description     – long description, may be empty.
//  UnitPriceCents  – price per participant in cents.
//  DurationMinutes – nominal length of one time slot.
//  CapacityDefault – capacity used when new slots are scheduled.
//  IsActive        – inactive offerings cannot be booked.
//  CreatedAt       – creation timestamp.
type Offering struct {
	ID              string    `json:"id"`               // offerings.id
	Slug            string    `json:"slug"`             // offerings.slug
	Name            string    `json:"name"`             // offerings.name
	Category        string    `json:"category"`         // offerings.category
	Location        string    `json:"location"`         // offerings.location
	Description     string    `json:"description"`      // offerings.description
	UnitPriceCents  int64     `json:"unit_price_cents"` // offerings.unit_price_cents
	DurationMinutes int       `json:"duration_minutes"` // offerings.duration_minutes
	CapacityDefault int       `json:"capacity_default"` // offerings.capacity_default
	IsActive        bool      `json:"is_active"`        // offerings.is_active
	CreatedAt       time.Time `json:"created_at"`       // offerings.created_at
}

// PriceFor returns the total price in cents for n participants.
func (o *Offering) PriceFor(n int) int64 {
	return o.UnitPriceCents * int64(n)
}
