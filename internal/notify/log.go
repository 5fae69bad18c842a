package notify

import (
	"context"
	"strings"

	"gliderdac/internal/dac"
)

// LogSender writes messages to the log instead of delivering them. Used
// when no mail relay is configured.
type LogSender struct {
	logger dac.Logger
}

func NewLogSender(logger dac.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg dac.Message) error {
	s.logger.Info("notification", "subject", msg.Subject, "to", strings.Join(msg.To, ","), "cc", msg.CC, "body", msg.Body)
	return nil
}

var _ dac.Notifier = (*LogSender)(nil)
