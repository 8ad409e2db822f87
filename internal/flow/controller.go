// Package flow runs the multi-turn chat conversations that let guests
// browse, book, confirm and cancel over WhatsApp or Telegram.  Each user
// has at most one active flow, persisted in a TTL store so any worker
// can pick up the next message.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/iliyamo/resort-booking/internal/booking"
	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/repository"
)

const (
	offeringListSize = 8
	slotListSize     = 10
	slotHorizon      = 7 * 24 * time.Hour
	cancelListSize   = 5
	confirmListSize  = 5
	recommendSize    = 3
	popularWindow    = 30 * 24 * time.Hour
)

const (
	msgGenericError = "Sorry, something went wrong. Let's start over."
	msgBusy         = "One moment please, I'm still working on your previous message."
	msgAbandoned    = "No problem, I've stopped that. Send *book* whenever you want to start again."
)

// Engine is the part of the reservation engine the flow drives.
type Engine interface {
	Create(ctx context.Context, req booking.CreateRequest) (*model.Booking, error)
	Confirm(ctx context.Context, bookingID, userID string) (*model.Booking, error)
	Cancel(ctx context.Context, bookingID, userID, reason string) (*model.Booking, error)
	ListBookings(ctx context.Context, userID string, status model.BookingStatus) ([]model.BookingDetail, error)
	CheckAvailability(ctx context.Context, slotID string, participants int) (bool, int, error)
}

// Deps are the collaborators of a Controller.  Dedupe is optional.
type Deps struct {
	Engine   Engine
	Catalog  repository.Catalog
	States   StateStore
	Detector *Detector
	Dedupe   Deduper
	Log      zerolog.Logger
	Now      func() time.Time
	Location *time.Location
}

// Inbound is one decoded chat message.
type Inbound struct {
	UserID    string
	Channel   string
	Text      string
	MessageID string
}

// Reply is what to send back.  Handled is false when the message is not
// part of a flow and carries no known intent; the caller decides what to
// do with it.  A handled reply may have empty Text (duplicate delivery).
type Reply struct {
	Text    string
	Handled bool
}

// Controller is the per-user conversation state machine.
type Controller struct {
	deps    Deps
	log     zerolog.Logger
	printer *message.Printer
}

// NewController wires a controller.  Now defaults to time.Now and
// Location to UTC.
func NewController(d Deps) *Controller {
	if d.Engine == nil || d.Catalog == nil || d.States == nil || d.Detector == nil {
		panic("flow: NewController needs Engine, Catalog, States and Detector")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Controller{
		deps:    d,
		log:     d.Log.With().Str("component", "flow").Logger(),
		printer: message.NewPrinter(language.English),
	}
}

// Handle processes one inbound message.  Messages of one user are
// serialised by the state store lock.  An unexpected failure clears the
// user's state and produces a generic retry prompt.
func (c *Controller) Handle(ctx context.Context, in Inbound) Reply {
	in.Text = Sanitize(in.Text)
	if in.Text == "" || in.UserID == "" {
		return Reply{}
	}
	log := c.log.With().Str("user_id", in.UserID).Logger()

	if c.deps.Dedupe != nil && in.MessageID != "" {
		first, err := c.deps.Dedupe.FirstSeen(ctx, in.MessageID)
		if err != nil {
			log.Warn().Err(err).Msg("dedupe check failed, processing anyway")
		} else if !first {
			log.Debug().Str("message_id", in.MessageID).Msg("duplicate delivery dropped")
			return Reply{Handled: true}
		}
	}

	unlock, err := c.deps.States.Lock(ctx, in.UserID)
	if errors.Is(err, ErrBusy) {
		return Reply{Text: msgBusy, Handled: true}
	}
	if err != nil {
		log.Error().Err(err).Msg("flow lock failed")
		return Reply{Text: msgGenericError, Handled: true}
	}
	defer unlock()

	reply, err := c.step(ctx, in)
	if err != nil {
		log.Error().Err(err).Msg("flow step failed, state cleared")
		if cerr := c.deps.States.Clear(ctx, in.UserID); cerr != nil {
			log.Error().Err(cerr).Msg("clear flow state failed")
		}
		return Reply{Text: msgGenericError, Handled: true}
	}
	return reply
}

func (c *Controller) step(ctx context.Context, in Inbound) (Reply, error) {
	st, err := c.deps.States.Load(ctx, in.UserID)
	if err != nil {
		return Reply{}, err
	}
	if st != nil && st.Intent != "" {
		if c.deps.Detector.Abandons(in.Text) {
			if err := c.deps.States.Clear(ctx, in.UserID); err != nil {
				return Reply{}, err
			}
			return say(msgAbandoned)
		}
		switch st.Step {
		case StepAwaitOffering:
			return c.selectOffering(ctx, in, st)
		case StepAwaitSlot:
			return c.selectSlot(ctx, in, st)
		case StepAwaitParticipants:
			return c.enterParticipants(ctx, in, st)
		case StepAwaitCancel:
			return c.selectCancel(ctx, in, st)
		case StepAwaitConfirm:
			return c.selectConfirm(ctx, in, st)
		}
		c.log.Warn().Str("user_id", in.UserID).Str("step", string(st.Step)).Msg("unknown flow step, state dropped")
		if err := c.deps.States.Clear(ctx, in.UserID); err != nil {
			return Reply{}, err
		}
	}

	switch c.deps.Detector.Detect(in.Text) {
	case IntentBrowse:
		return c.browse(ctx, in)
	case IntentBook:
		return c.startBook(ctx, in)
	case IntentCheck:
		return c.check(ctx, in)
	case IntentCancel:
		return c.startCancel(ctx, in)
	case IntentConfirm:
		return c.startConfirm(ctx, in)
	case IntentRecommend:
		return c.recommend(ctx, in)
	}
	return Reply{}, nil
}

func say(text string) (Reply, error) { return Reply{Text: text, Handled: true}, nil }

func (c *Controller) now() time.Time { return c.deps.Now().UTC() }

func (c *Controller) save(ctx context.Context, userID string, st *State) error {
	st.UpdatedAt = c.now()
	return c.deps.States.Save(ctx, userID, st)
}

func (c *Controller) clear(ctx context.Context, userID string) error {
	return c.deps.States.Clear(ctx, userID)
}

// parseChoice reads a numeric reply such as "2", "#2" or "2.".
func parseChoice(text string) (int, bool) {
	n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(text), "#.)"))
	return n, err == nil
}

// engineMessage returns the user-facing message of an engine rejection.
func engineMessage(err error) (string, bool) {
	var be *booking.Error
	if errors.As(err, &be) {
		return be.Message, true
	}
	return "", false
}

// --- book ---

func (c *Controller) startBook(ctx context.Context, in Inbound) (Reply, error) {
	offerings, err := c.deps.Catalog.ActiveOfferings(ctx, "", 0)
	if err != nil {
		return Reply{}, err
	}
	st := &State{Intent: IntentBook}
	if o, ok := c.deps.Detector.MatchOffering(in.Text, offerings); ok {
		st.OfferingID = o.ID
		return c.showSlots(ctx, in, st, o, "")
	}
	if len(offerings) > offeringListSize {
		offerings = offerings[:offeringListSize]
	}
	if len(offerings) == 0 {
		return say("No activities available for booking. Please check back later!")
	}
	st.Step = StepAwaitOffering
	st.Choices = make([]string, 0, len(offerings))
	for _, o := range offerings {
		st.Choices = append(st.Choices, o.ID)
	}
	if err := c.save(ctx, in.UserID, st); err != nil {
		return Reply{}, err
	}
	return say(c.renderOfferingChoices(offerings))
}

func (c *Controller) selectOffering(ctx context.Context, in Inbound, st *State) (Reply, error) {
	n, ok := parseChoice(in.Text)
	if !ok {
		return say("Please reply with the activity number (e.g., '1', '2', '3').")
	}
	if n < 1 || n > len(st.Choices) {
		return say(fmt.Sprintf("Please reply with a number between 1 and %d.", len(st.Choices)))
	}
	o, err := c.deps.Catalog.Offering(ctx, st.Choices[n-1])
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !o.IsActive) {
		if err := c.clear(ctx, in.UserID); err != nil {
			return Reply{}, err
		}
		return say("Sorry, that activity is no longer available. Send *book* to start again.")
	}
	if err != nil {
		return Reply{}, err
	}
	st.OfferingID = o.ID
	return c.showSlots(ctx, in, st, o, "")
}

// showSlots lists upcoming slots of o and moves the flow to slot
// selection, or ends it when nothing is bookable.
func (c *Controller) showSlots(ctx context.Context, in Inbound, st *State, o *model.Offering, prefix string) (Reply, error) {
	now := c.now()
	slots, err := c.deps.Catalog.UpcomingSlots(ctx, o.ID, now, now.Add(slotHorizon), slotListSize)
	if err != nil {
		return Reply{}, err
	}
	if len(slots) == 0 {
		if err := c.clear(ctx, in.UserID); err != nil {
			return Reply{}, err
		}
		return say(prefix + fmt.Sprintf("Sorry, no time slots available for *%s* in the next 7 days.", o.Name))
	}
	st.Step = StepAwaitSlot
	st.TimeSlotID = ""
	st.Choices = make([]string, 0, len(slots))
	for _, s := range slots {
		st.Choices = append(st.Choices, s.ID)
	}
	if err := c.save(ctx, in.UserID, st); err != nil {
		return Reply{}, err
	}
	return say(prefix + c.renderSlotChoices(o, slots))
}

func (c *Controller) selectSlot(ctx context.Context, in Inbound, st *State) (Reply, error) {
	n, ok := parseChoice(in.Text)
	if !ok {
		return say("Please reply with the time slot number.")
	}
	if n < 1 || n > len(st.Choices) {
		return say(fmt.Sprintf("Please reply with a number between 1 and %d.", len(st.Choices)))
	}
	o, err := c.deps.Catalog.Offering(ctx, st.OfferingID)
	if err != nil {
		return Reply{}, err
	}
	slotID := st.Choices[n-1]
	bookable, available, err := c.deps.Engine.CheckAvailability(ctx, slotID, 1)
	if err != nil {
		return Reply{}, err
	}
	if !bookable {
		return c.showSlots(ctx, in, st, o, "Sorry, that time slot is no longer available.\n\n")
	}
	slot, err := c.deps.Catalog.TimeSlot(ctx, slotID)
	if err != nil {
		return Reply{}, err
	}
	st.TimeSlotID = slotID
	st.Step = StepAwaitParticipants
	st.Choices = nil
	if err := c.save(ctx, in.UserID, st); err != nil {
		return Reply{}, err
	}
	return say(fmt.Sprintf("Great! You've selected:\n*%s*\n📅 %s\n\nHow many participants? (Max: %d)",
		o.Name, c.when(slot.StartsAt), available))
}

func (c *Controller) enterParticipants(ctx context.Context, in Inbound, st *State) (Reply, error) {
	n, ok := parseChoice(in.Text)
	if !ok {
		return say("Please reply with a number for participants.")
	}
	if n < 1 {
		return say("Please enter at least 1 participant.")
	}
	_, available, err := c.deps.Engine.CheckAvailability(ctx, st.TimeSlotID, n)
	if err != nil {
		return Reply{}, err
	}
	if available == 0 {
		if err := c.clear(ctx, in.UserID); err != nil {
			return Reply{}, err
		}
		return say("Sorry, that time slot is now fully booked. Send *book* to pick another time.")
	}
	if n > available {
		return say(fmt.Sprintf("Sorry, only %d spots available. Please enter a lower number.", available))
	}

	b, err := c.deps.Engine.Create(ctx, booking.CreateRequest{
		UserID:       in.UserID,
		OfferingID:   st.OfferingID,
		TimeSlotID:   st.TimeSlotID,
		Participants: n,
		Source:       in.Channel,
	})
	if cerr := c.clear(ctx, in.UserID); cerr != nil && err == nil {
		c.log.Error().Err(cerr).Str("user_id", in.UserID).Msg("clear flow state after booking failed")
	}
	if err != nil {
		if msg, ok := engineMessage(err); ok {
			return say("❌ Unable to complete booking: " + msg)
		}
		return Reply{}, err
	}
	return say(c.renderCreated(ctx, b))
}

// --- cancel ---

func (c *Controller) startCancel(ctx context.Context, in Inbound) (Reply, error) {
	list, err := c.deps.Engine.ListBookings(ctx, in.UserID, model.StatusConfirmed)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return say("You don't have any active bookings to cancel.")
	}
	if len(list) > cancelListSize {
		list = list[:cancelListSize]
	}
	st := &State{Intent: IntentCancel, Step: StepAwaitCancel}
	for _, b := range list {
		st.Choices = append(st.Choices, b.ID)
	}
	if err := c.save(ctx, in.UserID, st); err != nil {
		return Reply{}, err
	}
	return say(c.renderCancelChoices(list))
}

func (c *Controller) selectCancel(ctx context.Context, in Inbound, st *State) (Reply, error) {
	n, ok := parseChoice(in.Text)
	if !ok {
		return say("Please reply with the booking number to cancel.")
	}
	if n < 1 || n > len(st.Choices) {
		return say(fmt.Sprintf("Please reply with a number between 1 and %d.", len(st.Choices)))
	}
	b, err := c.deps.Engine.Cancel(ctx, st.Choices[n-1], in.UserID, "User requested cancellation via "+channelTitle(in.Channel))
	if cerr := c.clear(ctx, in.UserID); cerr != nil && err == nil {
		c.log.Error().Err(cerr).Str("user_id", in.UserID).Msg("clear flow state after cancel failed")
	}
	if err != nil {
		if msg, ok := engineMessage(err); ok {
			return say("❌ Unable to cancel booking: " + msg)
		}
		return Reply{}, err
	}
	name, _, start := c.describe(ctx, b)
	return say(fmt.Sprintf("✅ *Booking Cancelled*\n\nYour booking for *%s* has been cancelled.\n📅 %s\n\nFeel free to book another activity anytime!",
		name, c.short(start)))
}

// --- confirm ---

func (c *Controller) startConfirm(ctx context.Context, in Inbound) (Reply, error) {
	list, err := c.deps.Engine.ListBookings(ctx, in.UserID, model.StatusPending)
	if err != nil {
		return Reply{}, err
	}
	now := c.now()
	open := list[:0]
	for _, b := range list {
		if b.ExpiresAt.After(now) {
			open = append(open, b)
		}
	}
	switch len(open) {
	case 0:
		return say("You don't have any bookings waiting for confirmation.")
	case 1:
		return c.confirm(ctx, in, open[0].ID)
	}
	if len(open) > confirmListSize {
		open = open[:confirmListSize]
	}
	st := &State{Intent: IntentConfirm, Step: StepAwaitConfirm}
	for _, b := range open {
		st.Choices = append(st.Choices, b.ID)
	}
	if err := c.save(ctx, in.UserID, st); err != nil {
		return Reply{}, err
	}
	return say(c.renderConfirmChoices(open, now))
}

func (c *Controller) selectConfirm(ctx context.Context, in Inbound, st *State) (Reply, error) {
	n, ok := parseChoice(in.Text)
	if !ok {
		return say("Please reply with the booking number to confirm.")
	}
	if n < 1 || n > len(st.Choices) {
		return say(fmt.Sprintf("Please reply with a number between 1 and %d.", len(st.Choices)))
	}
	if err := c.clear(ctx, in.UserID); err != nil {
		return Reply{}, err
	}
	return c.confirm(ctx, in, st.Choices[n-1])
}

func (c *Controller) confirm(ctx context.Context, in Inbound, bookingID string) (Reply, error) {
	b, err := c.deps.Engine.Confirm(ctx, bookingID, in.UserID)
	if err != nil {
		if msg, ok := engineMessage(err); ok {
			return say("❌ Unable to confirm booking: " + msg)
		}
		return Reply{}, err
	}
	name, _, start := c.describe(ctx, b)
	return say(fmt.Sprintf("✅ *Booking Confirmed*\n\n*%s*\n📅 %s\n👥 %d participant(s)\n\nSee you there! 🌴",
		name, c.when(start), b.Participants))
}

// --- one-shot intents ---

func (c *Controller) check(ctx context.Context, in Inbound) (Reply, error) {
	list, err := c.deps.Engine.ListBookings(ctx, in.UserID, "")
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return say("You don't have any bookings yet. Browse activities to make your first booking!")
	}
	return say(c.renderBookings(list, c.now()))
}

func (c *Controller) browse(ctx context.Context, in Inbound) (Reply, error) {
	category := c.deps.Detector.Category(in.Text)
	offerings, err := c.deps.Catalog.ActiveOfferings(ctx, category, offeringListSize)
	if err != nil {
		return Reply{}, err
	}
	if len(offerings) == 0 {
		return say("No activities available at the moment. Please check back later!")
	}
	return say(c.renderBrowse(category, offerings))
}

func (c *Controller) recommend(ctx context.Context, in Inbound) (Reply, error) {
	offerings, err := c.deps.Catalog.PopularOfferings(ctx, c.now().Add(-popularWindow), recommendSize)
	if err != nil {
		return Reply{}, err
	}
	if len(offerings) == 0 {
		return say("No recommendations available at the moment. Try browsing our activities!")
	}
	return say(c.renderRecommendations(offerings))
}

// describe loads display fields of a booking.  Lookups that fail are
// logged and leave the field empty; the booking itself already happened.
func (c *Controller) describe(ctx context.Context, b *model.Booking) (name, location string, start time.Time) {
	if o, err := c.deps.Catalog.Offering(ctx, b.OfferingID); err == nil {
		name, location = o.Name, o.Location
	} else {
		c.log.Warn().Err(err).Str("booking_id", b.ID).Msg("load offering for reply")
		name = "your activity"
	}
	if s, err := c.deps.Catalog.TimeSlot(ctx, b.TimeSlotID); err == nil {
		start = s.StartsAt
	} else {
		c.log.Warn().Err(err).Str("booking_id", b.ID).Msg("load slot for reply")
	}
	return name, location, start
}

func channelTitle(channel string) string {
	switch channel {
	case model.SourceWhatsApp:
		return "WhatsApp"
	case model.SourceTelegram:
		return "Telegram"
	}
	return "chat"
}
