// Package sms delivers one-time codes to mobile numbers.
package sms

import (
	"context"
	"errors"
)

// ErrThrottled is returned when the outbound rate limit could not admit a
// message before the context ran out.
var ErrThrottled = errors.New("sms: throttled")

// Result describes one delivery attempt. Success means the provider accepted
// the message, not that the handset received it.
type Result struct {
	Success   bool
	Provider  string
	MessageID string
	Error     string
}

// Sender hands a message to a provider. A non-nil error means the message was
// not accepted; Result still describes what happened.
type Sender interface {
	Send(ctx context.Context, to, message string) (Result, error)
}

// Admitter is a Sender with an outbound quota. Admit takes one send slot up
// front so callers can learn about throttling before they change any state.
// The returned context carries the slot; a Send made with it does not wait
// again.
type Admitter interface {
	Admit(ctx context.Context) (context.Context, error)
}

// Admit reserves a send slot on s when it is an Admitter and passes ctx
// through otherwise.
func Admit(ctx context.Context, s Sender) (context.Context, error) {
	a, ok := s.(Admitter)
	if !ok {
		return ctx, nil
	}
	return a.Admit(ctx)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, message string) (Result, error)

func (f SenderFunc) Send(ctx context.Context, to, message string) (Result, error) {
	return f(ctx, to, message)
}

// MaskNumber keeps the last four digits of a phone number for logs.
func MaskNumber(n string) string {
	if len(n) <= 4 {
		return "****"
	}
	return "****" + n[len(n)-4:]
}
