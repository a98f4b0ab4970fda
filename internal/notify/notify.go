// Package notify delivers fire-and-forget messages to winners.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

// ErrSendFailed wraps every delivery failure. Callers log it and move on.
var ErrSendFailed = errors.New("notification send failed")

// ErrBadRecipient is returned when a recipient token can't be addressed.
var ErrBadRecipient = errors.New("invalid notification recipient")

// Dispatcher sends a text message to a recipient token.
type Dispatcher interface {
	Send(ctx context.Context, recipient, message string) error
}

// Sender is the subset of *tele.Bot used for delivery.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramDispatcher delivers messages as Telegram chat messages.
// Recipients are numeric chat ids.
type TelegramDispatcher struct {
	sender Sender
}

// NewTelegramDispatcher creates a dispatcher backed by a telebot sender.
func NewTelegramDispatcher(sender Sender) *TelegramDispatcher {
	return &TelegramDispatcher{sender: sender}
}

// Send implements Dispatcher.
func (d *TelegramDispatcher) Send(ctx context.Context, recipient, message string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %w: %q", ErrSendFailed, ErrBadRecipient, recipient)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	// telebot has no context support. An abandoned send finishes in the
	// background within the bot's HTTP client timeout.
	done := make(chan error, 1)
	go func() {
		_, err := d.sender.Send(tele.ChatID(chatID), message)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	}
}

// LogDispatcher only logs messages. Used when Telegram is disabled.
type LogDispatcher struct{}

// Send implements Dispatcher.
func (LogDispatcher) Send(ctx context.Context, recipient, message string) error {
	log.Info().
		Str("recipient", recipient).
		Str("message", message).
		Msg("Notification (log only)")
	return nil
}
