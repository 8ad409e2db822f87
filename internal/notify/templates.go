package notify

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/valyala/fasttemplate"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WhenLayout formats slot start times in messages.
const WhenLayout = "Monday, January 02 at 03:04 PM"

var defaultTemplates = map[Kind]string{
	KindCreated: "🎯 *Booking Created*\n\n" +
		"Your booking is pending confirmation:\n\n" +
		"*Activity:* {offering}\n" +
		"*Date & Time:* {when}\n" +
		"*Participants:* {participants}\n" +
		"*Total Price:* {total}\n" +
		"Booking ID: `{short_id}`\n\n" +
		"⏰ *Important:* Please confirm before {expires} or your booking will expire.",
	KindConfirmed: "✅ *Booking Confirmed*\n\n" +
		"Your booking has been confirmed!\n\n" +
		"*Activity:* {offering}\n" +
		"*Date & Time:* {when}\n" +
		"*Location:* {location}\n" +
		"*Participants:* {participants}\n\n" +
		"*Cancellation Policy:* Free cancellation until {deadline}.\n\n" +
		"See you there! 🌴",
	KindCancelled: "❌ *Booking Cancelled*\n\n" +
		"Your booking has been cancelled:\n\n" +
		"*Activity:* {offering}\n" +
		"*Date & Time:* {when}" +
		"{reason}\n\n" +
		"We hope to see you again soon!",
	KindReminder24: "⏰ *Reminder: Activity Tomorrow*\n\n" +
		"Your activity is coming up in 24 hours!\n\n" +
		"*Activity:* {offering}\n" +
		"*Date & Time:* {when}\n" +
		"*Location:* {location}\n" +
		"*Participants:* {participants}\n\n" +
		"📋 Please arrive 15 minutes early.",
	KindReminder1: "🚨 *Final Reminder: 1 Hour Away!*\n\n" +
		"Your activity starts in approximately 1 hour!\n\n" +
		"*Activity:* {offering}\n" +
		"*Time:* {when}\n" +
		"*Location:* {location}\n" +
		"*Participants:* {participants}\n\n" +
		"🏃 *Start heading to the location now!*\n" +
		"See you soon! 🌴",
}

// Templates renders events to message text in one timezone.
type Templates struct {
	loc     *time.Location
	printer *message.Printer
	byKind  map[Kind]*fasttemplate.Template
}

// NewTemplates compiles the built-in templates, replacing any kind
// present in overrides.  A nil loc means UTC.
func NewTemplates(loc *time.Location, overrides map[Kind]string) (*Templates, error) {
	if loc == nil {
		loc = time.UTC
	}
	t := &Templates{
		loc:     loc,
		printer: message.NewPrinter(language.English),
		byKind:  map[Kind]*fasttemplate.Template{},
	}
	for kind, src := range defaultTemplates {
		if o, ok := overrides[kind]; ok {
			src = o
		}
		tpl, err := fasttemplate.NewTemplate(src, "{", "}")
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", kind, err)
		}
		t.byKind[kind] = tpl
	}
	return t, nil
}

// Location is the timezone used for rendered times.
func (t *Templates) Location() *time.Location { return t.loc }

// When formats a time for messages.
func (t *Templates) When(ts time.Time) string {
	return ts.In(t.loc).Format(WhenLayout)
}

// Price formats cents as dollars with thousands separators.
func (t *Templates) Price(cents int64) string {
	return t.printer.Sprintf("$%.2f", float64(cents)/100)
}

// Render produces the text for ev.
func (t *Templates) Render(ev Event) (string, error) {
	tpl, ok := t.byKind[ev.Kind]
	if !ok {
		return "", fmt.Errorf("no template for %q", ev.Kind)
	}
	return tpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		switch tag {
		case "offering":
			return io.WriteString(w, ev.OfferingName)
		case "location":
			return io.WriteString(w, ev.Location)
		case "when":
			return io.WriteString(w, t.When(ev.StartsAt))
		case "participants":
			return io.WriteString(w, strconv.Itoa(ev.Participants))
		case "total":
			return io.WriteString(w, t.Price(ev.TotalPriceCents))
		case "expires":
			return io.WriteString(w, ev.ExpiresAt.In(t.loc).Format("03:04 PM"))
		case "deadline":
			return io.WriteString(w, t.When(ev.CancelDeadline))
		case "short_id":
			return io.WriteString(w, shortID(ev.BookingID))
		case "reason":
			if ev.Reason == "" {
				return 0, nil
			}
			return io.WriteString(w, "\n*Reason:* "+ev.Reason)
		}
		return 0, fmt.Errorf("unknown placeholder {%s}", tag)
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
