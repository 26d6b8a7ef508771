package channel

import (
	"context"
	"log/slog"
)

// LogSender logs messages instead of delivering them. Useful for development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. If logger is nil, slog.Default() is used.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendText(ctx context.Context, to, text string) (*Receipt, error) {
	s.logger.InfoContext(ctx, "channel.LogSender", "to", to, "text", text)
	return &Receipt{Status: "logged"}, nil
}
