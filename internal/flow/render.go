package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/iliyamo/resort-booking/internal/model"
)

const (
	whenLayout  = "Monday, January 02 at 03:04 PM"
	shortLayout = "Jan 02, 03:04 PM"

	checkPending   = 3
	checkConfirmed = 3
	checkPast      = 2
	checkMoreAfter = 8
)

func (c *Controller) when(t time.Time) string {
	if t.IsZero() {
		return "time to be announced"
	}
	return t.In(c.deps.Location).Format(whenLayout)
}

func (c *Controller) short(t time.Time) string {
	if t.IsZero() {
		return "time to be announced"
	}
	return t.In(c.deps.Location).Format(shortLayout)
}

func (c *Controller) price(cents int64) string {
	return c.printer.Sprintf("$%.2f", float64(cents)/100)
}

func duration(minutes int) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60)
	case minutes > 60:
		return fmt.Sprintf("%dh %dmin", minutes/60, minutes%60)
	}
	return fmt.Sprintf("%dmin", minutes)
}

func (c *Controller) renderOfferingChoices(offerings []model.Offering) string {
	var b strings.Builder
	b.WriteString("*Choose an activity to book:*\n\n")
	for i, o := range offerings {
		fmt.Fprintf(&b, "%d. %s *%s* - %s/person\n", i+1, c.deps.Detector.Icon(o.Category), o.Name, c.price(o.UnitPriceCents))
	}
	fmt.Fprintf(&b, "\nReply with the activity number (1-%d).", len(offerings))
	return b.String()
}

func (c *Controller) renderSlotChoices(o *model.Offering, slots []model.TimeSlot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Available times for %s*\n\n", o.Name)
	for i := range slots {
		fmt.Fprintf(&b, "%d. %s (%d spots left)\n", i+1, c.short(slots[i].StartsAt), slots[i].AvailableCapacity())
	}
	fmt.Fprintf(&b, "\nReply with the time slot number (1-%d).", len(slots))
	return b.String()
}

func (c *Controller) renderCreated(ctx context.Context, bk *model.Booking) string {
	name, location, start := c.describe(ctx, bk)
	var b strings.Builder
	b.WriteString("✅ *Booking Created!*\n\n")
	fmt.Fprintf(&b, "*%s*\n", name)
	if location != "" {
		fmt.Fprintf(&b, "📍 %s\n", location)
	}
	fmt.Fprintf(&b, "📅 %s\n", c.when(start))
	fmt.Fprintf(&b, "👥 %d participant(s)\n", bk.Participants)
	fmt.Fprintf(&b, "💰 Total: %s\n\n", c.price(bk.TotalPriceCents))
	fmt.Fprintf(&b, "Booking ID: `%s`\n", bk.ShortID())
	b.WriteString("Status: PENDING\n\n")
	fmt.Fprintf(&b, "Reply *confirm* by %s to secure your spot.", bk.ExpiresAt.In(c.deps.Location).Format("03:04 PM"))
	return b.String()
}

func (c *Controller) renderCancelChoices(list []model.BookingDetail) string {
	var b strings.Builder
	b.WriteString("*Select a booking to cancel:*\n\n")
	for i, d := range list {
		fmt.Fprintf(&b, "%d. *%s*\n   📅 %s\n", i+1, d.OfferingName, c.short(d.StartsAt))
	}
	fmt.Fprintf(&b, "\nReply with the booking number (1-%d).", len(list))
	return b.String()
}

func (c *Controller) renderConfirmChoices(list []model.BookingDetail, now time.Time) string {
	var b strings.Builder
	b.WriteString("*Select a booking to confirm:*\n\n")
	for i, d := range list {
		left := d.ExpiresAt.Sub(now).Round(time.Minute)
		fmt.Fprintf(&b, "%d. *%s*\n   📅 %s\n   ⏳ %d min left to confirm\n", i+1, d.OfferingName, c.short(d.StartsAt), int(left.Minutes()))
	}
	fmt.Fprintf(&b, "\nReply with the booking number (1-%d).", len(list))
	return b.String()
}

// renderBookings groups a user's bookings into pending, upcoming
// confirmed and past, capping each group.
func (c *Controller) renderBookings(list []model.BookingDetail, now time.Time) string {
	var pending, confirmed, past []model.BookingDetail
	for _, d := range list {
		switch {
		case d.Status == model.StatusPending && d.ExpiresAt.After(now):
			pending = append(pending, d)
		case d.Status == model.StatusConfirmed && d.StartsAt.After(now):
			confirmed = append(confirmed, d)
		case d.Status != model.StatusPending:
			past = append(past, d)
		}
	}

	var b strings.Builder
	b.WriteString("*Your Bookings*\n")
	if len(pending) > 0 {
		b.WriteString("\n⏳ *Pending confirmation*\n")
		for _, d := range head(pending, checkPending) {
			fmt.Fprintf(&b, "• %s - %s (`%s`)\n", d.OfferingName, c.short(d.StartsAt), d.ShortID())
		}
	}
	if len(confirmed) > 0 {
		b.WriteString("\n✅ *Confirmed*\n")
		for _, d := range head(confirmed, checkConfirmed) {
			fmt.Fprintf(&b, "• %s - %s, %d participant(s)\n", d.OfferingName, c.short(d.StartsAt), d.Participants)
		}
	}
	if len(past) > 0 {
		b.WriteString("\n📋 *Past*\n")
		for _, d := range head(past, checkPast) {
			fmt.Fprintf(&b, "• %s - %s\n", d.OfferingName, strings.ToUpper(string(d.Status)))
		}
	}
	if len(list) > checkMoreAfter {
		fmt.Fprintf(&b, "\n...and %d more", len(list)-checkMoreAfter)
	}
	return strings.TrimRight(b.String(), "\n")
}

func head(list []model.BookingDetail, n int) []model.BookingDetail {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func (c *Controller) renderBrowse(category string, offerings []model.Offering) string {
	var b strings.Builder
	if category != "" {
		fmt.Fprintf(&b, "%s *%s Activities*\n\n", c.deps.Detector.Icon(category), cases.Title(language.English).String(category))
	} else {
		b.WriteString("*Available Activities*\n\n")
	}
	for _, o := range offerings {
		fmt.Fprintf(&b, "%s *%s*\n", c.deps.Detector.Icon(o.Category), o.Name)
		line := c.price(o.UnitPriceCents) + "/person"
		if d := duration(o.DurationMinutes); d != "" {
			line += " · " + d
		}
		fmt.Fprintf(&b, "   %s\n", line)
		if o.Location != "" {
			fmt.Fprintf(&b, "   📍 %s\n", o.Location)
		}
	}
	b.WriteString("\nReply *book* to make a reservation.")
	return b.String()
}

func (c *Controller) renderRecommendations(offerings []model.Offering) string {
	var b strings.Builder
	b.WriteString("🌟 *Popular right now*\n\n")
	for i, o := range offerings {
		fmt.Fprintf(&b, "%d. %s *%s* - %s/person\n", i+1, c.deps.Detector.Icon(o.Category), o.Name, c.price(o.UnitPriceCents))
	}
	b.WriteString("\nReply *book <activity>* to reserve one.")
	return b.String()
}
