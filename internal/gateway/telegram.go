package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/microcosm-cc/bluemonday"
)

// telegramLimit keeps each message under Telegram's 4096 character cap,
// leaving room for the <pre> wrapper.
const telegramLimit = 4000

// Recorder stores the conversation for audit.
type Recorder interface {
	AddMessage(chatID string, role string, content string) error
}

type TelegramGateway struct {
	Bot        *tgbotapi.BotAPI
	Dispatcher *Dispatcher
	History    Recorder // optional
	policy     *bluemonday.Policy
}

func NewTelegramGateway(token string) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("gateway: telegram: %w", err)
	}

	log.Printf("gateway: telegram: authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:    bot,
		policy: bluemonday.StrictPolicy(),
	}, nil
}

// Start polls for updates and submits them to the Dispatcher until ctx is
// cancelled.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	if tg.Dispatcher == nil {
		return fmt.Errorf("gateway: telegram: dispatcher is required")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			tg.Stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				// Stop the button's loading spinner.
				if _, err := tg.Bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
					log.Printf("gateway: telegram: answer callback: %v", err)
				}
			}
			ev, ok := toEvent(update)
			if !ok {
				continue
			}
			log.Printf("gateway: telegram: [%s] %s %q", ev.UserID, ev.Kind, ev.Text)
			tg.record(ev.ChatID, "human", ev.Text)
			tg.Dispatcher.Submit(ev)
		}
	}
}

// toEvent converts an update into an Event. Updates other than messages
// and button presses are ignored.
func toEvent(update tgbotapi.Update) (Event, bool) {
	if q := update.CallbackQuery; q != nil {
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return Event{}, false
		}
		return Event{
			Kind:   EventButton,
			UserID: strconv.FormatInt(q.From.ID, 10),
			ChatID: strconv.FormatInt(q.Message.Chat.ID, 10),
			Text:   q.Data,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Event{}, false
	}
	ev := Event{
		Kind:   EventText,
		UserID: strconv.FormatInt(msg.From.ID, 10),
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   strings.TrimSpace(msg.Text),
	}
	if msg.IsCommand() {
		ev.Kind = EventCommand
		ev.Text = msg.Command()
	}
	return ev, true
}

// Deliver sends r to the event's chat. It is the Dispatcher's DeliverFunc.
func (tg *TelegramGateway) Deliver(ev Event, r Reply) {
	id, err := strconv.ParseInt(ev.ChatID, 10, 64)
	if err != nil {
		log.Printf("gateway: telegram: invalid chat ID %q", ev.ChatID)
		return
	}
	tg.record(ev.ChatID, "ai", r.Text)
	for _, msg := range tg.render(id, r) {
		if _, err := tg.Bot.Send(msg); err != nil {
			log.Printf("gateway: telegram: send to %s: %v", ev.ChatID, err)
		}
	}
}

// render builds the messages for one reply. Long text is split; the menu
// is attached to the last part.
func (tg *TelegramGateway) render(chatID int64, r Reply) []tgbotapi.MessageConfig {
	chunks := splitText(r.Text, telegramLimit)
	msgs := make([]tgbotapi.MessageConfig, 0, len(chunks))
	for _, chunk := range chunks {
		var msg tgbotapi.MessageConfig
		if r.Pre {
			msg = tgbotapi.NewMessage(chatID, "<pre>"+tg.policy.Sanitize(chunk)+"</pre>")
			msg.ParseMode = tgbotapi.ModeHTML
		} else {
			msg = tgbotapi.NewMessage(chatID, chunk)
		}
		msgs = append(msgs, msg)
	}
	if len(r.Menu) > 0 {
		msgs[len(msgs)-1].ReplyMarkup = keyboard(r.Menu)
	}
	return msgs
}

func keyboard(menu [][]Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(menu))
	for _, row := range menu {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// splitText cuts text into pieces of at most limit runes, preferring line
// breaks. It always returns at least one piece.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func (tg *TelegramGateway) record(chatID, role, content string) {
	if tg.History == nil || content == "" {
		return
	}
	if err := tg.History.AddMessage(chatID, role, content); err != nil {
		log.Printf("gateway: history: %v", err)
	}
}

// Send delivers a plain message, used for the scheduled digest.
func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("gateway: telegram: invalid chat ID: %s", chatID)
	}
	tg.record(chatID, "ai", text)
	for _, msg := range tg.render(id, Reply{Text: text, Pre: true}) {
		if _, err := tg.Bot.Send(msg); err != nil {
			return fmt.Errorf("gateway: telegram: send: %w", err)
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
