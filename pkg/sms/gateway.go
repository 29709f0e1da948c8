package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
	"golang.org/x/time/rate"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	maxGatewayResponse    = 64 << 10
)

// GatewayConfig configures an HTTPGateway.
type GatewayConfig struct {
	URL    string
	APIKey string
	From   string

	// Provider names the gateway in delivery records. Defaults to "http".
	Provider string

	// RatePerSecond caps outbound messages. Zero or less means unlimited.
	RatePerSecond float64
	Burst         int

	// Client defaults to a client with a 10 second timeout.
	Client *http.Client
}

// HTTPGateway posts messages to a JSON SMS gateway. It never retries; a
// failed send is reported and the user asks for a resend.
type HTTPGateway struct {
	cfg     GatewayConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPGateway(cfg GatewayConfig) *HTTPGateway {
	if cfg.Provider == "" {
		cfg.Provider = "http"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultGatewayTimeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := max(cfg.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &HTTPGateway{cfg: cfg, client: client, limiter: limiter}
}

type gatewayRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
	Message   string `json:"message"`
}

type admittedKey struct{}

// Admit implements Admitter. A context that already holds a slot is
// returned as is.
func (g *HTTPGateway) Admit(ctx context.Context) (context.Context, error) {
	if ctx.Value(admittedKey{}) == g {
		return ctx, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return ctx, fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	return context.WithValue(ctx, admittedKey{}, g), nil
}

// Send implements Sender. Without a prior Admit it waits for its own slot.
func (g *HTTPGateway) Send(ctx context.Context, to, message string) (Result, error) {
	res := Result{Provider: g.cfg.Provider}
	l := slogx.FromContext(ctx)

	if ctx.Value(admittedKey{}) != g {
		if err := g.limiter.Wait(ctx); err != nil {
			res.Error = err.Error()
			return res, fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}

	body, err := json.Marshal(gatewayRequest{To: to, From: g.cfg.From, Message: message})
	if err != nil {
		return res, fmt.Errorf("failed to encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		res.Error = err.Error()
		l.Warn("sms gateway unreachable", slog.String("to", MaskNumber(to)), slog.Any("error", err))
		return res, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponse))
	var decoded gatewayResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Error = decoded.Message
		if res.Error == "" {
			res.Error = http.StatusText(resp.StatusCode)
		}
		l.Warn("sms gateway rejected message",
			slog.String("to", MaskNumber(to)),
			slog.Int("status", resp.StatusCode),
			slog.String("reason", res.Error),
		)
		return res, fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, res.Error)
	}

	res.Success = true
	res.MessageID = decoded.MessageID
	if res.MessageID == "" {
		res.MessageID = decoded.ID
	}
	l.Info("sms sent", slog.String("to", MaskNumber(to)), slog.String("message_id", res.MessageID))
	return res, nil
}
