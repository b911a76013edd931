// Package gateway connects chat transports to the case desk and serializes
// each user's events.
package gateway

import "context"

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// EventKind classifies inbound events.
type EventKind int

const (
	EventText    EventKind = iota // free text
	EventCommand                  // slash command; Text holds the name without "/"
	EventButton                   // menu button; Text holds the button data
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventCommand:
		return "command"
	case EventButton:
		return "button"
	}
	return "unknown"
}

// Event is one inbound user action.
type Event struct {
	Kind   EventKind
	UserID string
	ChatID string
	Text   string
	TaskID string // assigned by the Dispatcher when empty
}

// Button is one inline menu button.
type Button struct {
	Label string
	Data  string
}

// Reply is one outbound message. Pre replies are shown preformatted.
type Reply struct {
	Text string
	Pre  bool
	Menu [][]Button // rows of buttons, optional
}

// ReplyFunc sends one reply to the event's chat as soon as it is produced.
type ReplyFunc func(Reply)

// Handler processes one event, replying through reply.
type Handler interface {
	Handle(ctx context.Context, ev Event, reply ReplyFunc)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event, reply ReplyFunc)

func (f HandlerFunc) Handle(ctx context.Context, ev Event, reply ReplyFunc) { f(ctx, ev, reply) }
