// Package notify delivers posts and status messages to chat and mail
// channels.
package notify

import (
	"context"
	"errors"
)

// ScreenshotName is the file name used when a channel needs one.
const ScreenshotName = "screenshot.png"

var ErrNotConfigured = errors.New("channel not configured")

// Attachment is a file sent along with a Message.
type Attachment struct {
	Name string
	Data []byte
}

// Message is a plain status text for the service admin.
type Message struct {
	Text        string
	Attachments []Attachment
}

// Notifier sends status messages to the service admin.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
