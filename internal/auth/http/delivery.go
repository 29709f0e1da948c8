package http

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
	"github.com/aussiebroadwan/gatehouse/pkg/authsdk"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/idx"
	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
)

// DeliveryHandler receives SMS delivery receipts from the provider.
type DeliveryHandler struct {
	OTPService *service.OTPService

	// Secret must be presented in the X-Webhook-Secret header. The endpoint
	// is disabled while it is empty.
	Secret string
}

// ServeHTTP handles POST /v1/sms/delivery.
func (h *DeliveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	if h.Secret == "" {
		httpx.WriteFailure(w, http.StatusNotFound, "Delivery webhook is not enabled", nil)
		return
	}
	got := r.Header.Get(authsdk.WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		log.Warn("delivery receipt with bad secret")
		httpx.WriteFailure(w, http.StatusUnauthorized, "Invalid webhook secret", nil)
		return
	}

	var req authsdk.DeliveryReceipt
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	if _, err := idx.Parse(req.ChallengeID); err != nil {
		httpx.WriteFailure(w, http.StatusNotFound, "Unknown challenge", nil)
		return
	}

	err := h.OTPService.RecordDelivery(r.Context(),
		req.ChallengeID, domain.DeliveryStatus(req.Status), req.Provider, req.MessageID)
	switch {
	case err == nil:
		httpx.WriteSuccess(w, http.StatusOK, "Delivery status recorded", nil)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteFailure(w, http.StatusNotFound, "Unknown challenge", nil)
	default:
		writeServiceError(w, r, err, "Failed to record delivery status")
	}
}
