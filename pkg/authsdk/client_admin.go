package authsdk

import (
	"context"
	"net/http"
)

// SetupSuperAdmin creates the first super admin. It succeeds once.
func (c *SDKClient) SetupSuperAdmin(ctx context.Context, req AdminSetupRequest) (*AdminView, error) {
	var out AdminView
	if err := c.call(ctx, http.MethodPost, "/v1/admin/setup", req, nil, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminLogin signs an admin in on req.DeviceID. Sessions the admin holds on
// other devices are kept.
func (c *SDKClient) AdminLogin(ctx context.Context, req AdminLoginRequest) (*AdminSession, *AdminLoginResponse, error) {
	var out AdminLoginResponse
	if err := c.call(ctx, http.MethodPost, "/v1/admin/login", req, nil, http.StatusOK, &out); err != nil {
		return nil, nil, err
	}
	return c.NewAdminSession(out.Tokens.AccessToken, out.DeviceID, out.SessionID), &out, nil
}

// PostDeliveryReceipt reports an SMS delivery state change. secret is the
// shared webhook secret.
func (c *SDKClient) PostDeliveryReceipt(ctx context.Context, secret string, receipt DeliveryReceipt) error {
	headers := map[string]string{WebhookSecretHeader: secret}
	return c.call(ctx, http.MethodPost, "/v1/sms/delivery", receipt, headers, http.StatusOK, nil)
}

// WebhookSecretHeader carries the SMS webhook shared secret.
const WebhookSecretHeader = "X-Webhook-Secret"
