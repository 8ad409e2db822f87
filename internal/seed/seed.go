// Package seed loads the demo resort catalog used in development.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/repository"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the YAML document describing offerings and the daily start
// times of each category.
type Catalog struct {
	Schedules map[string][]string `yaml:"schedules"`
	Offerings []OfferingSpec      `yaml:"offerings"`
}

type OfferingSpec struct {
	Name        string  `yaml:"name"`
	Category    string  `yaml:"category"`
	Location    string  `yaml:"location"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	Duration    int     `yaml:"duration"`
	Capacity    int     `yaml:"capacity"`
}

// Result counts what Load wrote.
type Result struct {
	Offerings int `json:"offerings"`
	Slots     int `json:"slots"`
	Skipped   int `json:"skipped"`
}

// Default returns the embedded demo catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes and checks a catalog document.
func Parse(doc []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("seed: parse catalog: %w", err)
	}
	for i, o := range c.Offerings {
		if o.Name == "" || o.Price < 0 || o.Duration <= 0 || o.Capacity <= 0 {
			return nil, fmt.Errorf("seed: offering %d (%q) needs a name, price, duration and capacity", i, o.Name)
		}
		if _, err := c.times(o.Category); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (c *Catalog) times(category string) ([]time.Duration, error) {
	raw, ok := c.Schedules[category]
	if !ok {
		raw = c.Schedules["default"]
	}
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		t, err := time.Parse("15:04", s)
		if err != nil {
			return nil, fmt.Errorf("seed: bad start time %q for %s: %w", s, category, err)
		}
		out = append(out, time.Duration(t.Hour())*time.Hour+time.Duration(t.Minute())*time.Minute)
	}
	return out, nil
}

// Load writes every offering plus slots for days calendar days starting
// today in loc.  Slots that already started are not created.  Existing
// offerings and slots are counted as skipped, so Load can be rerun to
// extend the schedule.
func (c *Catalog) Load(ctx context.Context, w repository.CatalogWriter, r repository.Catalog, loc *time.Location, days int, now time.Time) (Result, error) {
	var res Result
	existing, err := r.ActiveOfferings(ctx, "", 0)
	if err != nil {
		return res, fmt.Errorf("seed: list offerings: %w", err)
	}
	bySlug := map[string]model.Offering{}
	for _, o := range existing {
		bySlug[o.Slug] = o
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for _, spec := range c.Offerings {
		o, ok := bySlug[Slug(spec.Name)]
		if !ok {
			o = model.Offering{
				ID:              uuid.NewString(),
				Slug:            Slug(spec.Name),
				Name:            spec.Name,
				Category:        strings.ToLower(spec.Category),
				Location:        spec.Location,
				Description:     strings.TrimSpace(spec.Description),
				UnitPriceCents:  int64(math.Round(spec.Price * 100)),
				DurationMinutes: spec.Duration,
				CapacityDefault: spec.Capacity,
				IsActive:        true,
				CreatedAt:       now.UTC(),
			}
			if err := w.InsertOffering(ctx, &o); err != nil {
				return res, fmt.Errorf("seed: insert %s: %w", spec.Name, err)
			}
			res.Offerings++
		}

		times, err := c.times(spec.Category)
		if err != nil {
			return res, err
		}
		for d := 0; d < days; d++ {
			day := today.AddDate(0, 0, d)
			for _, at := range times {
				start := day.Add(at)
				if !start.After(now) {
					continue
				}
				s := &model.TimeSlot{
					ID:          uuid.NewString(),
					OfferingID:  o.ID,
					StartsAt:    start.UTC(),
					EndsAt:      start.Add(time.Duration(spec.Duration) * time.Minute).UTC(),
					Capacity:    spec.Capacity,
					IsAvailable: true,
					CreatedAt:   now.UTC(),
					UpdatedAt:   now.UTC(),
				}
				err := w.InsertTimeSlot(ctx, s)
				switch {
				case errors.Is(err, repository.ErrConflict):
					res.Skipped++
				case err != nil:
					return res, fmt.Errorf("seed: insert slot for %s: %w", spec.Name, err)
				default:
					res.Slots++
				}
			}
		}
	}
	return res, nil
}

// Slug is the URL-friendly form of an offering name.
func Slug(name string) string {
	lower := cases.Lower(language.English).String(name)
	var b strings.Builder
	dash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
