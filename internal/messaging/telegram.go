package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramPrefix marks user ids that came from Telegram chats.
const TelegramPrefix = "tg:"

// TelegramAPI is the subset of *tgbotapi.BotAPI the gateway calls.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	api   TelegramAPI
	retry retrier
}

// NewTelegramBot authorises token against the Bot API.
func NewTelegramBot(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", err)
	}
	bot.Debug = false
	return bot, nil
}

// NewTelegram wraps an authorised bot.
func NewTelegram(api TelegramAPI, backoff time.Duration, log zerolog.Logger) *Telegram {
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Telegram{
		api:   api,
		retry: retrier{attempts: 3, base: backoff, log: log.With().Str("gateway", "telegram").Logger()},
	}
}

// Name implements Gateway.
func (t *Telegram) Name() string { return "telegram" }

// Send delivers text to a "tg:<chat id>" recipient.
func (t *Telegram) Send(ctx context.Context, recipient, text string) error {
	chatID, err := TelegramChatID(recipient)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return t.retry.do(ctx, func() error {
		_, err := t.api.Send(msg)
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
			return permanent{fmt.Errorf("telegram: %w", err)}
		}
		return err
	})
}

// ValidateCredentials calls getMe.
func (t *Telegram) ValidateCredentials(context.Context) error {
	if _, err := t.api.GetMe(); err != nil {
		return fmt.Errorf("telegram: getMe: %w", err)
	}
	return nil
}

// TelegramUserID is the booking user id of a Telegram chat.
func TelegramUserID(chatID int64) string {
	return TelegramPrefix + strconv.FormatInt(chatID, 10)
}

// TelegramChatID parses a "tg:<chat id>" recipient.
func TelegramChatID(recipient string) (int64, error) {
	raw, ok := strings.CutPrefix(recipient, TelegramPrefix)
	if !ok {
		return 0, fmt.Errorf("telegram: recipient %q is not a telegram chat", recipient)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: bad chat id %q: %w", raw, err)
	}
	return id, nil
}
