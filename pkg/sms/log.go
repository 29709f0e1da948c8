package sms

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/gatehouse/pkg/idx"
)

// LogSender writes messages to a logger instead of sending them. It is the
// development default.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, to, message string) (Result, error) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	id := idx.New().String()
	l.InfoContext(ctx, "sms message (not sent)",
		slog.String("to", MaskNumber(to)),
		slog.String("message", message),
		slog.String("message_id", id),
	)
	return Result{Success: true, Provider: "log", MessageID: id}, nil
}
