package testutil

import (
	"context"
	"sync"

	"gliderdac/internal/dac"
)

// RecordingNotifier is a dac.Notifier that keeps every message it is asked
// to send. When Err is set, Send records the message and returns Err.
// Safe for concurrent use.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []dac.Message
	Err      error
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Send(_ context.Context, msg dac.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.Err
}

// Messages returns a copy of the recorded messages.
func (n *RecordingNotifier) Messages() []dac.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dac.Message(nil), n.messages...)
}

// Count returns the number of recorded messages.
func (n *RecordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

var _ dac.Notifier = (*RecordingNotifier)(nil)
