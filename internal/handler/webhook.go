package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/config"
	"github.com/iliyamo/resort-booking/internal/flow"
	"github.com/iliyamo/resort-booking/internal/messaging"
	"github.com/iliyamo/resort-booking/internal/middleware"
	"github.com/iliyamo/resort-booking/internal/model"
)

// TelegramSecretHeader carries the secret registered with setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TwilioSignatureHeader carries the request signature.
const TwilioSignatureHeader = "X-Twilio-Signature"

// HelpText answers messages that start no conversation.
const HelpText = "Hi! 🌴 I can help you with resort activities.\n\n" +
	"• *browse* - see what's on\n" +
	"• *book* - make a reservation\n" +
	"• *confirm* - confirm a pending booking\n" +
	"• *my bookings* - check your reservations\n" +
	"• *cancel* - cancel a booking\n" +
	"• *recommend* - popular picks"

// Conversation is the chat flow a webhook feeds.
type Conversation interface {
	Handle(ctx context.Context, in flow.Inbound) flow.Reply
}

// WebhookHandler receives inbound chat messages, runs them through the
// conversation and sends the reply through the channel's gateway.  After
// authentication it always answers 200 so providers do not redeliver;
// redeliveries that still happen are dropped by message id.
type WebhookHandler struct {
	Flow     Conversation
	Gateways messaging.Set
	Twilio   config.TwilioConfig
	Telegram config.TelegramConfig
	Log      zerolog.Logger
}

// NewWebhookHandler returns the chat webhooks feeding conv.
func NewWebhookHandler(conv Conversation, gateways messaging.Set, tw config.TwilioConfig, tg config.TelegramConfig, log zerolog.Logger) *WebhookHandler {
	if conv == nil {
		panic("nil conversation passed to NewWebhookHandler")
	}
	return &WebhookHandler{
		Flow:     conv,
		Gateways: gateways,
		Twilio:   tw,
		Telegram: tg,
		Log:      log.With().Str("component", "webhooks").Logger(),
	}
}

// Verify handles GET on webhook paths; providers probe it when the URL
// is registered.
func (h *WebhookHandler) Verify(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// HandleTwilio handles POST /webhooks/twilio, a form with From, Body and
// MessageSid signed in X-Twilio-Signature.
func (h *WebhookHandler) HandleTwilio(c echo.Context) error {
	params, err := c.FormParams()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid form"})
	}
	if h.Twilio.ValidateSignature {
		sig := c.Request().Header.Get(TwilioSignatureHeader)
		if !messaging.ValidateTwilioSignature(h.Twilio.AuthToken, h.webhookURL(c), params, sig) {
			h.Log.Warn().Str("remote", c.RealIP()).Msg("twilio signature verification failed")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid signature"})
		}
	}

	from := strings.TrimSpace(params.Get("From"))
	body := params.Get("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing required fields"})
	}
	sid := params.Get("MessageSid")
	middleware.SetSender(c, from)

	h.deliver(c.Request().Context(), flow.Inbound{
		UserID:    messaging.WhatsAppAddress(from),
		Channel:   model.SourceWhatsApp,
		Text:      body,
		MessageID: sid,
	})
	return c.JSON(http.StatusOK, echo.Map{"status": "processed", "message_sid": sid})
}

// HandleTelegram handles POST /webhooks/telegram, a Bot API Update.  The
// secret token header is mandatory; without a configured secret every
// update is refused.  Updates that are not text messages are acknowledged
// and ignored.
func (h *WebhookHandler) HandleTelegram(c echo.Context) error {
	secret := h.Telegram.WebhookSecret
	if secret == "" {
		h.Log.Error().Msg("telegram webhook rejected: TELEGRAM_WEBHOOK_SECRET is not set")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "webhook secret not configured"})
	}
	got := c.Request().Header.Get(TelegramSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		h.Log.Warn().Str("remote", c.RealIP()).Msg("telegram secret token mismatch")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid secret token"})
	}
	var upd tgbotapi.Update
	if err := c.Bind(&upd); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid update"})
	}
	msg := upd.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	}
	userID := messaging.TelegramUserID(msg.Chat.ID)
	middleware.SetSender(c, userID)

	h.deliver(c.Request().Context(), flow.Inbound{
		UserID:    userID,
		Channel:   model.SourceTelegram,
		Text:      msg.Text,
		MessageID: "tg-" + strconv.Itoa(upd.UpdateID),
	})
	return c.JSON(http.StatusOK, echo.Map{"status": "processed"})
}

// deliver runs the conversation and sends whatever it answers.  Send
// failures are logged only; the provider already has our 200.
func (h *WebhookHandler) deliver(ctx context.Context, in flow.Inbound) {
	reply := h.Flow.Handle(ctx, in)
	text := reply.Text
	if !reply.Handled {
		text = HelpText
	}
	if text == "" {
		return
	}
	if err := h.Gateways.Send(ctx, in.Channel, in.UserID, text); err != nil {
		h.Log.Error().Err(err).Str("user_id", in.UserID).Str("channel", in.Channel).Msg("reply not delivered")
	}
}

// webhookURL is the URL Twilio signed: the configured public URL when
// set, since proxies rewrite scheme and host, else the request URL.
func (h *WebhookHandler) webhookURL(c echo.Context) string {
	if h.Twilio.WebhookURL != "" {
		return h.Twilio.WebhookURL
	}
	r := c.Request()
	return c.Scheme() + "://" + r.Host + r.URL.RequestURI()
}
