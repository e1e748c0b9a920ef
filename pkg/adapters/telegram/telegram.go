// Package telegram connects the dialog engine to a Telegram bot: questions are sent as
// HTML messages with inline or reply keyboards, and text messages and button presses
// are dispatched as answers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/aretw0/limpopo/internal/logging"
	"github.com/aretw0/limpopo/internal/markdown"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Bot is the subset of the Telegram Bot API used by the adapter. *telego.Bot implements it.
type Bot interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

// Dispatcher routes inbound messages to dialogs. *session.Service implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, respondent domain.Respondent, msg domain.Message) error
}

// Adapter is the Telegram Transport and update handler.
type Adapter struct {
	bot    Bot
	logger *slog.Logger

	mu     sync.Mutex
	chats  map[int64]*chatQueue
	drains sync.WaitGroup
}

// chatQueue holds the updates of one chat that wait for delivery.
type chatQueue struct {
	pending []telego.Update
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithLogger configures a logger for the Adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates an adapter sending through bot.
func New(bot Bot, opts ...Option) *Adapter {
	a := &Adapter{
		bot:    bot,
		logger: logging.NewNop(),
		chats:  make(map[int64]*chatQueue),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewBot creates a Telegram bot client for token.
func NewBot(token string) (*telego.Bot, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

// Send implements ports.Transport. respondentID is the chat ID.
func (a *Adapter) Send(ctx context.Context, respondentID string, payload domain.Payload) (domain.MessageID, error) {
	chatID, err := strconv.ParseInt(respondentID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID %q: %w", respondentID, err)
	}

	params := &telego.SendMessageParams{
		ChatID:      tu.ID(chatID),
		Text:        markdown.TelegramHTML(payload.Text),
		ParseMode:   telego.ModeHTML,
		ReplyMarkup: replyMarkup(payload),
	}
	msg, err := a.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("telegram: send message: %w", err)
	}
	return domain.MessageID(msg.MessageID), nil
}

func replyMarkup(payload domain.Payload) telego.ReplyMarkup {
	if len(payload.Buttons) == 0 {
		return nil
	}

	if payload.Inline {
		rows := make([][]telego.InlineKeyboardButton, len(payload.Buttons))
		for i, row := range payload.Buttons {
			buttons := make([]telego.InlineKeyboardButton, len(row))
			for j, b := range row {
				data := b.Data
				if data == "" {
					data = b.Text
				}
				buttons[j] = tu.InlineKeyboardButton(b.Text).WithCallbackData(data)
			}
			rows[i] = tu.InlineKeyboardRow(buttons...)
		}
		return tu.InlineKeyboard(rows...)
	}

	rows := make([][]telego.KeyboardButton, len(payload.Buttons))
	for i, row := range payload.Buttons {
		buttons := make([]telego.KeyboardButton, len(row))
		for j, b := range row {
			buttons[j] = tu.KeyboardButton(b.Text)
		}
		rows[i] = tu.KeyboardRow(buttons...)
	}
	return tu.Keyboard(rows...).WithResizeKeyboard().WithOneTimeKeyboard()
}

// HandleMessage dispatches a text message. Messages without text are ignored.
func (a *Adapter) HandleMessage(ctx context.Context, dispatcher Dispatcher, message telego.Message) error {
	if message.Text == "" {
		return nil
	}

	respondent := respondentOf(message.Chat, message.From)
	msg := domain.Message{ID: domain.MessageID(message.MessageID), Text: message.Text}
	a.logger.Debug("Telegram: message received", "respondent", respondent.Key(), "message_id", msg.ID)
	return a.dispatch(ctx, dispatcher, respondent, msg)
}

// HandleCallbackQuery dispatches an inline button press as the answer to the question it
// is attached to. The query is always acknowledged so the client stops its spinner.
func (a *Adapter) HandleCallbackQuery(ctx context.Context, dispatcher Dispatcher, query telego.CallbackQuery) error {
	if err := a.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		a.logger.Warn("Telegram: failed to answer callback query", "err", err)
	}
	if query.Message == nil || query.Data == "" {
		return nil
	}

	from := query.From
	respondent := respondentOf(query.Message.GetChat(), &from)
	msg := domain.Message{ID: domain.MessageID(query.Message.GetMessageID()), Text: query.Data}
	return a.dispatch(ctx, dispatcher, respondent, msg)
}

func (a *Adapter) dispatch(ctx context.Context, dispatcher Dispatcher, respondent domain.Respondent, msg domain.Message) error {
	err := dispatcher.Dispatch(ctx, respondent, msg)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, domain.ErrInvalidInput):
		a.logger.Warn("Telegram: message rejected", "respondent", respondent.Key(), "err", err)
		return nil
	default:
		a.logger.Error("Telegram: dispatch failed", "respondent", respondent.Key(), "err", err)
	}
	return err
}

func respondentOf(chat telego.Chat, from *telego.User) domain.Respondent {
	r := domain.Respondent{
		ID:        strconv.FormatInt(chat.ID, 10),
		Messenger: domain.MessengerTelegram,
		Username:  chat.Username,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
	}
	if from != nil && r.Username == "" && r.FirstName == "" {
		r.Username = from.Username
		r.FirstName = from.FirstName
		r.LastName = from.LastName
	}
	return r
}

// Listen receives updates by long polling and dispatches them until ctx is cancelled.
func (a *Adapter) Listen(ctx context.Context, bot *telego.Bot, dispatcher Dispatcher) error {
	a.logger.Info("Starting Telegram bot (polling mode)")

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}
	a.logger.Info("Telegram bot connected", "username", bot.Username())

	a.Serve(ctx, updates, dispatcher)
	return nil
}

// Serve dispatches updates until the channel closes or ctx is cancelled, then waits for
// pending deliveries. Updates of one chat are delivered one at a time in arrival order;
// different chats are delivered concurrently, so a chat whose dialog is busy does not
// hold up the others.
func (a *Adapter) Serve(ctx context.Context, updates <-chan telego.Update, dispatcher Dispatcher) {
	defer a.drains.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.enqueue(ctx, update, dispatcher)
		}
	}
}

func (a *Adapter) enqueue(ctx context.Context, update telego.Update, dispatcher Dispatcher) {
	chatID, ok := chatOf(update)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if q, busy := a.chats[chatID]; busy {
		q.pending = append(q.pending, update)
		return
	}
	q := &chatQueue{pending: []telego.Update{update}}
	a.chats[chatID] = q
	a.drains.Add(1)
	go a.drain(ctx, chatID, q, dispatcher)
}

// drain delivers the chat's updates until its queue is empty, then forgets the chat.
func (a *Adapter) drain(ctx context.Context, chatID int64, q *chatQueue, dispatcher Dispatcher) {
	defer a.drains.Done()
	for {
		a.mu.Lock()
		if len(q.pending) == 0 {
			delete(a.chats, chatID)
			a.mu.Unlock()
			return
		}
		update := q.pending[0]
		q.pending = q.pending[1:]
		a.mu.Unlock()

		a.handleUpdate(ctx, dispatcher, update)
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, dispatcher Dispatcher, update telego.Update) {
	var err error
	switch {
	case update.Message != nil:
		err = a.HandleMessage(ctx, dispatcher, *update.Message)
	case update.CallbackQuery != nil:
		err = a.HandleCallbackQuery(ctx, dispatcher, *update.CallbackQuery)
	}
	if err != nil {
		a.logger.Debug("Telegram: update not delivered", "update_id", update.UpdateID, "err", err)
	}
}

// chatOf returns the chat an update belongs to. Updates other than text messages and
// button presses on a message are ignored.
func chatOf(update telego.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Text != "":
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.Message.GetChat().ID, true
	}
	return 0, false
}
