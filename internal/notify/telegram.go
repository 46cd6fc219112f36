// Package notify pushes operational events to Telegram.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// Telegram sends fills, halts, and rejects to a chat. Messages are
// best-effort: a send failure is logged and dropped, never propagated into
// the trading path.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

var _ ports.Notifier = (*Telegram)(nil)

// NewTelegram connects the bot. Returns an error if the token is rejected.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) NotifyTrade(marketID string, fill position.FillEvent) {
	msg := fmt.Sprintf("✅ *Fill* `%s`\n%s %s %s @ %s x %s",
		marketID, fill.Action, fill.Leg, fill.OrderID,
		fill.Price.StringFixed(4), fill.Size.StringFixed(2))
	t.send(msg)
}

func (t *Telegram) NotifyHalt(marketID, reason string) {
	t.send(fmt.Sprintf("🛑 *MARKET HALTED* `%s`\n%s\nState preserved, manual inspection required.", marketID, reason))
}

func (t *Telegram) NotifyReject(marketID, reason string) {
	t.send(fmt.Sprintf("⚠️ *Order rejected* `%s`\n%s", marketID, reason))
}

func (t *Telegram) send(text string) {
	if t.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}

// Noop satisfies the notifier port when Telegram is not configured.
type Noop struct{}

var _ ports.Notifier = Noop{}

func (Noop) NotifyTrade(string, position.FillEvent) {}
func (Noop) NotifyHalt(string, string)              {}
func (Noop) NotifyReject(string, string)            {}
