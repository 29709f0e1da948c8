package http

import (
	"errors"
	"math"
	"net/http"

	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
)

// writeServiceError maps a service error to its response. Anything not
// recognised is a 500 logged at error level with fallback as the message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		codeErr     *service.InvalidCodeError
		cooldownErr *service.CooldownError
		resendErr   *service.ResendExhaustedError
		lockedErr   *service.LockedError
	)

	switch {
	case errors.As(err, &codeErr) && codeErr.Remaining > 0:
		httpx.WriteFailure(w, http.StatusBadRequest, "Invalid OTP", map[string]any{
			"attemptsRemaining": codeErr.Remaining,
		})
	case errors.Is(err, service.ErrChallengeAttemptsExhausted):
		httpx.WriteFailure(w, http.StatusBadRequest,
			"Maximum OTP verification attempts exceeded. Please request a new OTP.", nil)
	case errors.Is(err, service.ErrChallengeInvalidOrExpired):
		httpx.WriteFailure(w, http.StatusBadRequest,
			"Invalid or expired OTP. Please request a new OTP.", nil)

	case errors.As(err, &cooldownErr):
		httpx.WriteFailure(w, http.StatusTooManyRequests, "Please wait before requesting another OTP", map[string]any{
			"data": resendLimit("cooldown", cooldownErr.ResendCount, cooldownErr.MaxResends,
				int(math.Ceil(cooldownErr.Remaining.Seconds()))),
		})
	case errors.As(err, &resendErr):
		httpx.WriteFailure(w, http.StatusTooManyRequests, "Maximum resend attempts exceeded. Please try again later.", map[string]any{
			"data": resendLimit("max_resends", resendErr.ResendCount, resendErr.MaxResends, 0),
		})
	case errors.Is(err, service.ErrRateLimited):
		httpx.WriteFailure(w, http.StatusTooManyRequests, "Too many SMS requests, please try again later.", nil)

	case errors.As(err, &lockedErr):
		httpx.WriteFailure(w, http.StatusLocked,
			"Account is temporarily locked due to too many failed login attempts", map[string]any{
				"lockedUntil": lockedErr.Until,
			})
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteFailure(w, http.StatusUnauthorized, "Invalid credentials", nil)
	case errors.Is(err, service.ErrSessionInvalid):
		httpx.WriteFailure(w, http.StatusUnauthorized, "Invalid session. Please login again.", nil)
	case errors.Is(err, service.ErrNotVerified):
		httpx.WriteFailure(w, http.StatusForbidden, "Please verify your mobile number first", nil)
	case errors.Is(err, service.ErrAccountInactive):
		httpx.WriteFailure(w, http.StatusForbidden, "Account is deactivated. Please contact support.", nil)
	case errors.Is(err, service.ErrForbidden):
		httpx.WriteFailure(w, http.StatusForbidden, "Insufficient permissions", nil)

	case errors.Is(err, service.ErrAccountNotFound):
		httpx.WriteFailure(w, http.StatusNotFound, "Account not found", nil)
	case errors.Is(err, service.ErrMobileTaken):
		httpx.WriteFailure(w, http.StatusConflict, "User with this mobile number already exists", nil)
	case errors.Is(err, service.ErrAlreadyVerified):
		httpx.WriteFailure(w, http.StatusConflict, "Mobile number is already verified", nil)
	case errors.Is(err, service.ErrAdminTaken):
		httpx.WriteFailure(w, http.StatusConflict, "Admin with this username or email already exists", nil)
	case errors.Is(err, service.ErrAlreadyBootstrapped):
		httpx.WriteFailure(w, http.StatusConflict, "Super admin already exists", nil)

	case errors.Is(err, service.ErrInvalidRequest):
		if fields := fieldErrors(err); len(fields) > 0 {
			httpx.WriteFailure(w, http.StatusBadRequest, "Validation failed", map[string]any{"errors": fields})
			return
		}
		httpx.WriteFailure(w, http.StatusBadRequest, "Invalid request", nil)

	default:
		slogx.FromContext(r.Context()).Error(fallback, "err", err)
		httpx.WriteFailure(w, http.StatusInternalServerError, fallback, nil)
	}
}

func resendLimit(reason string, current, limit, remainingSec int) map[string]any {
	return map[string]any{
		"reason":         reason,
		"maxResends":     limit,
		"currentResends": current,
		"remainingTime":  remainingSec,
	}
}

// fieldErrors collects every ValidationError in err's tree, first reason
// per field wins.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ve, ok := e.(*service.ValidationError); ok {
			if _, seen := out[ve.Field]; !seen {
				out[ve.Field] = ve.Reason
			}
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}

// writeBadBody answers a request whose JSON body could not be decoded.
func writeBadBody(w http.ResponseWriter) {
	httpx.WriteFailure(w, http.StatusBadRequest, "Request body must be valid JSON", nil)
}
