// Package chat is the conversational layer: a transport-agnostic router with
// permission, navigation and cooldown middleware, durable per-user sessions,
// and the single-window message discipline every workflow follows.
package chat

import "context"

// Btn is one inline keyboard button.
type Btn struct {
	Text string
	Data string
}

// SendOptions shape an outgoing message. At most one keyboard kind is set.
type SendOptions struct {
	ReplyKeyboard  [][]string
	InlineKeyboard [][]Btn
	RemoveKeyboard bool
	HTML           bool
}

// Transport is the messaging surface the workflows use. The concrete bot API
// client stays behind it so handlers and tests never touch the wire types.
type Transport interface {
	// Send posts a message and returns its id for later tracking.
	Send(ctx context.Context, chatID int64, text string, opts *SendOptions) (int, error)
	// Edit rewrites a previously sent message in place.
	Edit(ctx context.Context, chatID int64, messageID int, text string, opts *SendOptions) error
	// Delete removes a message. Missing messages are not an error.
	Delete(ctx context.Context, chatID int64, messageID int) error
	// Respond acknowledges a callback press; alert pops a modal.
	Respond(ctx context.Context, callbackID, text string, alert bool) error
	// Pin pins a message in the chat.
	Pin(ctx context.Context, chatID int64, messageID int) error
}
