package dac

import "context"

// Message is an email-style notification.
type Message struct {
	Subject string
	Body    string
	To      []string
	CC      string // optional
}

// Notifier delivers notifications. Transport details are the
// implementation's concern.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
