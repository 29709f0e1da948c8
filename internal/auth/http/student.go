package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/pkg/authsdk"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
)

// StudentHandler serves the student account and session endpoints.
type StudentHandler struct {
	AuthService *service.AuthService
	Now         func() time.Time
}

func (h *StudentHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// HandleRegister handles POST /v1/auth/register.
func (h *StudentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	res, err := h.AuthService.Register(r.Context(), service.RegisterRequest{
		Mobile:    req.MobileNumber,
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		IP:        httpx.IPKeyExtractor(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err, "Registration failed")
		return
	}

	httpx.WriteSuccess(w, http.StatusCreated,
		"Registration successful. Please verify your mobile number with the OTP sent.",
		authsdk.RegisterResponse{
			User: accountView(res.Account),
			OTP:  otpView(res.Account.MobileNumber, res.Challenge, h.now()),
		},
	)
}

// HandleResendRegistration handles POST /v1/auth/resend-registration-otp.
func (h *StudentHandler) HandleResendRegistration(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MobileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	res, err := h.AuthService.ResendRegistration(r.Context(), req.MobileNumber, httpx.IPKeyExtractor(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, r, err, "Failed to resend OTP")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "OTP resent successfully", otpView(req.MobileNumber, res, h.now()))
}

// HandleVerifyRegistration handles POST /v1/auth/verify-registration.
func (h *StudentHandler) HandleVerifyRegistration(w http.ResponseWriter, r *http.Request) {
	var req authsdk.VerifyOTPRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	acct, err := h.AuthService.VerifyRegistration(r.Context(),
		req.MobileNumber, strings.TrimSpace(req.OTP), httpx.IPKeyExtractor(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, r, err, "Verification failed")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "Mobile number verified successfully", accountView(acct))
}

// HandleLogin handles POST /v1/auth/login. A login on a new device ends the
// session on the old one; the response says which device that was.
func (h *StudentHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		httpx.WriteFailure(w, http.StatusBadRequest, "Validation failed", map[string]any{
			"errors": map[string]string{"deviceId": "is required"},
		})
		return
	}

	res, err := h.AuthService.Login(r.Context(), service.LoginRequest{
		Mobile:   req.MobileNumber,
		Password: req.Password,
		Device:   deviceInfo(r, strings.TrimSpace(req.DeviceID), req.DeviceName),
	})
	if err != nil {
		writeServiceError(w, r, err, "Login failed")
		return
	}

	now := h.now()
	msg := "Login successful"
	info := sessionInfo(res.Session, "Your previous session on another device has been automatically logged out.")
	if info != nil {
		msg = "Login successful. Previous session has been terminated."
	}

	httpx.WriteSuccess(w, http.StatusOK, msg, authsdk.LoginResponse{
		User:        accountView(res.Account),
		Tokens:      tokenView(res.Session, now),
		DeviceID:    strings.TrimSpace(req.DeviceID),
		LoginAt:     now,
		SessionInfo: info,
	})
}

// HandleLogout handles POST /v1/auth/logout.
func (h *StudentHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	if err := h.AuthService.Logout(r.Context(), p.ID); err != nil {
		writeServiceError(w, r, err, "Logout failed")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "Logout successful", nil)
}

// HandleProfile handles GET /v1/auth/profile.
func (h *StudentHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	acct, err := h.AuthService.Profile(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load profile")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "", accountView(acct))
}

// HandleForgotPassword handles POST /v1/auth/forgot-password.
func (h *StudentHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.passwordResetOTP(w, r, h.AuthService.ForgotPassword, "Password reset OTP sent successfully")
}

// HandleResendForgotPassword handles POST /v1/auth/resend-forgot-password-otp.
func (h *StudentHandler) HandleResendForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.passwordResetOTP(w, r, h.AuthService.ResendForgotPassword, "Password reset OTP resent successfully")
}

func (h *StudentHandler) passwordResetOTP(
	w http.ResponseWriter,
	r *http.Request,
	issue func(ctx context.Context, mobile, ip, ua string) (*service.ChallengeResult, error),
	msg string,
) {
	var req authsdk.MobileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	res, err := issue(r.Context(), req.MobileNumber, httpx.IPKeyExtractor(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, r, err, "Failed to send password reset OTP")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, msg, otpView(req.MobileNumber, res, h.now()))
}

// HandleResetPassword handles POST /v1/auth/reset-password.
func (h *StudentHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ResetPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	changedAt, err := h.AuthService.ResetPassword(r.Context(), service.ResetPasswordRequest{
		Mobile:      req.MobileNumber,
		Code:        strings.TrimSpace(req.OTP),
		NewPassword: req.NewPassword,
		IP:          httpx.IPKeyExtractor(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err, "Password reset failed")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK,
		"Password reset successfully. Please login with your new password.",
		authsdk.ResetPasswordResponse{PasswordChangedAt: changedAt},
	)
}
