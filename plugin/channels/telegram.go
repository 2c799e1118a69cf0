package channels

import (
	"context"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Telegram relays deliveries to users over the Telegram Bot API. Platform
// user ids map to chat ids through an explicit binding table; a delivery
// for an unbound user is a failure so the dispatcher records it.
type Telegram struct {
	ChannelName string
	bot         *tgbotapi.BotAPI

	mu    sync.RWMutex
	chats map[string]int64
}

// NewTelegram creates the channel from a bot token.
func NewTelegram(name, botToken string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Telegram bot")
	}
	return &Telegram{ChannelName: name, bot: bot, chats: make(map[string]int64)}, nil
}

func (t *Telegram) Name() string { return t.ChannelName }

// Bind associates a platform user with a Telegram chat, typically from an
// incoming webhook update.
func (t *Telegram) Bind(userID string, chatID int64) {
	t.mu.Lock()
	t.chats[userID] = chatID
	t.mu.Unlock()
}

// ChatID returns the bound chat id for the user, if any.
func (t *Telegram) ChatID(userID string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.chats[userID]
	return id, ok
}

// BindFromUpdate records the user/chat binding carried by an update and
// returns the sender's platform user id.
func (t *Telegram) BindFromUpdate(update *tgbotapi.Update) string {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.From == nil {
		return ""
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	t.Bind(userID, msg.Chat.ID)
	return userID
}

func (t *Telegram) Deliver(_ context.Context, delivery *Delivery) error {
	chatID, ok := t.ChatID(delivery.UserID)
	if !ok {
		return errors.Errorf("no Telegram chat bound for user %s", delivery.UserID)
	}
	msg := tgbotapi.NewMessage(chatID, delivery.Content)
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrapf(err, "failed to send Telegram message to chat %d", chatID)
	}
	return nil
}
