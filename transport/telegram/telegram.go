// Package telegram is the concrete Inbound Chat Transport adapter
// (SPEC_FULL.md §6, §11): long-polling receive, and send/edit with inline
// action buttons. Grounded on the teacher's serve.TelegramBot, narrowed from
// a per-user agent-clone dispatcher to a single Orchestrator.Dispatch call
// per inbound message.
//
// The Telegram chat id is used directly as the runtime's numeric user/owner
// id — there is no separate account system in front of this bot, so the
// chat id already uniquely and durably identifies the owner.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Dispatcher is the subset of orchestrator.Orchestrator this transport
// drives. Declared locally (rather than importing the orchestrator package)
// to avoid a transport→orchestrator→transport import cycle; orchestrator.Orchestrator
// satisfies it structurally.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID int64, utterance string) (string, error)
}

// Bot runs the Telegram long-polling loop and bridges it to the
// Orchestrator, and also implements hostcall.Notifier and
// orchestrator.Transport so artifacts and the Orchestrator can push messages
// back through the same bot.
type Bot struct {
	api        *tgbotapi.BotAPI
	dispatcher Dispatcher

	// OnStart, if set, intercepts a "/start <token>" deeplink message (the
	// dashboard auth handshake's botLink, §6) instead of routing it through
	// Dispatch. Replies to the chat itself; handle does not send anything
	// further for this message.
	OnStart func(ctx context.Context, chatID int64, token string)
}

// Username returns the bot's @handle, for building the dashboard's botLink.
func (b *Bot) Username() string { return b.api.Self.UserName }

// New connects to Telegram with token and wires dispatcher as the inbound
// message handler.
func New(token string, dispatcher Dispatcher) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	api.Debug = false
	return &Bot{api: api, dispatcher: dispatcher}, nil
}

// Start runs the long-polling loop until ctx is canceled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handle(ctx, update)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		}
	}
}

func (b *Bot) handle(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	chatID := update.Message.Chat.ID
	if b.OnStart != nil && strings.HasPrefix(update.Message.Text, "/start ") {
		token := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/start "))
		b.OnStart(ctx, chatID, token)
		return
	}

	reply, err := b.dispatcher.Dispatch(ctx, chatID, update.Message.Text)
	if err != nil {
		slog.Error("telegram: dispatch error", "chat_id", chatID, "error", err)
		b.api.Send(tgbotapi.NewMessage(chatID, "Something went wrong. Please try again."))
		return
	}
	// Dispatch already delivers its reply through orchestrator.Transport.Send
	// when a Transport is wired; this handles the case where the bot is
	// driving the Orchestrator directly without that indirection.
	if reply != "" {
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
			slog.Warn("telegram: send failed", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	reply, err := b.dispatcher.Dispatch(ctx, cb.Message.Chat.ID, cb.Data)
	ack := tgbotapi.NewCallback(cb.ID, "")
	b.api.Request(ack)
	if err != nil {
		return
	}
	if reply != "" {
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, reply)
		b.api.Send(edit)
	}
}

// Send implements orchestrator.Transport: sends content to userID (the chat
// id), with an optional set of inline action button labels. Each label is
// used verbatim as the callback data the user's tap sends back through
// handleCallback, which routes it through Dispatch like any other utterance.
func (b *Bot) Send(ctx context.Context, userID int64, content string, actions []string) (string, error) {
	msg := tgbotapi.NewMessage(userID, content)
	if len(actions) > 0 {
		msg.ReplyMarkup = inlineKeyboard(actions)
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Edit implements orchestrator.Transport: replaces a previously sent
// message's text.
func (b *Bot) Edit(ctx context.Context, userID int64, messageID string, content string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram edit: invalid message id %q: %w", messageID, err)
	}
	_, err = b.api.Send(tgbotapi.NewEditMessageText(userID, id, content))
	if err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

// Notify implements hostcall.Notifier: delivers a notify() host-call as a
// plain chat message to ownerID. agentID is included in the message for
// context since a user may own several agents.
func (b *Bot) Notify(ctx context.Context, ownerID int64, agentID int64, message string) error {
	text := fmt.Sprintf("[agent #%d] %s", agentID, message)
	_, err := b.api.Send(tgbotapi.NewMessage(ownerID, text))
	if err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	return nil
}

func inlineKeyboard(actions []string) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(a, a))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
