package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/pkg/authsdk"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
)

const (
	defaultStatsHours = 24
	maxStatsHours     = 24 * 30
)

// AdminHandler serves the staff endpoints.
type AdminHandler struct {
	AdminService *service.AdminService
	OTPService   *service.OTPService
	Limiters     *httpx.Limiters
	Now          func() time.Time
}

func (h *AdminHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// HandleSetup handles POST /v1/admin/setup. It creates the first super
// admin and works once.
func (h *AdminHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	var req authsdk.AdminSetupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	a, err := h.AdminService.Setup(r.Context(), req.SetupKey, service.CreateAdminRequest{
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to setup super admin")
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, "Super admin created successfully", adminView(a))
}

// HandleLogin handles POST /v1/admin/login.
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.AdminLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		httpx.WriteFailure(w, http.StatusBadRequest, "Validation failed", map[string]any{
			"errors": map[string]string{"deviceId": "is required"},
		})
		return
	}

	res, err := h.AdminService.Login(r.Context(), service.AdminLoginRequest{
		Login:    strings.TrimSpace(req.Identifier),
		Password: req.Password,
		Device:   deviceInfo(r, deviceID, req.DeviceName),
	})
	if err != nil {
		writeServiceError(w, r, err, "Login failed")
		return
	}

	now := h.now()
	httpx.WriteSuccess(w, http.StatusOK, "Login successful", authsdk.AdminLoginResponse{
		Admin:       adminView(res.Admin),
		Tokens:      tokenView(res.Session, now),
		SessionID:   res.Session.SessionID,
		DeviceID:    deviceID,
		LoginAt:     now,
		SessionInfo: sessionInfo(res.Session, "Your previous session on this device has been logged out."),
	})
}

// HandleLogout handles POST /v1/admin/logout. Only the calling session ends.
func (h *AdminHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	if err := h.AdminService.Logout(r.Context(), p.ID, p.SessionID); err != nil {
		writeServiceError(w, r, err, "Logout failed")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "Logout successful", nil)
}

// HandleListSessions handles GET /v1/admin/sessions.
func (h *AdminHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	sessions, err := h.AdminService.ListSessions(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list sessions")
		return
	}

	out := make([]authsdk.AdminSessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, adminSessionView(s, p.SessionID))
	}
	httpx.WriteSuccess(w, http.StatusOK, "", out)
}

// HandleTerminateSession handles DELETE /v1/admin/sessions/{sessionId}.
func (h *AdminHandler) HandleTerminateSession(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	if err := h.AdminService.TerminateSession(r.Context(), p.ID, r.PathValue("sessionId")); err != nil {
		if errors.Is(err, service.ErrSessionInvalid) {
			httpx.WriteFailure(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		writeServiceError(w, r, err, "Failed to terminate session")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "Session terminated successfully", nil)
}

// HandleCreateAdmin handles POST /v1/admin/admins.
func (h *AdminHandler) HandleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())

	var req authsdk.CreateAdminRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return
	}

	a, err := h.AdminService.CreateAdmin(r.Context(), p.ID, service.CreateAdminRequest{
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      strings.TrimSpace(req.Role),
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to create admin user")
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, "Admin user created successfully", adminView(a))
}

// HandleResetAdminPassword handles PUT /v1/admin/admins/{adminId}/reset-password.
// The generated password is returned once.
func (h *AdminHandler) HandleResetAdminPassword(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	adminID := r.PathValue("adminId")

	password, err := h.AdminService.ResetAdminPassword(r.Context(), p.ID, adminID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to reset admin password")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "Admin password reset successfully", authsdk.ResetAdminPasswordResponse{
		AdminID:           adminID,
		TemporaryPassword: password,
	})
}

// decodeStatus reads a StatusRequest, answering 400 itself on failure.
func decodeStatus(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req authsdk.StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w)
		return false, false
	}
	if req.IsActive == nil {
		httpx.WriteFailure(w, http.StatusBadRequest, "Validation failed", map[string]any{
			"errors": map[string]string{"isActive": "is required"},
		})
		return false, false
	}
	return *req.IsActive, true
}

// HandleSetAdminStatus handles PUT /v1/admin/admins/{adminId}/status.
func (h *AdminHandler) HandleSetAdminStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	active, ok := decodeStatus(w, r)
	if !ok {
		return
	}

	a, err := h.AdminService.SetAdminStatus(r.Context(), p.ID, r.PathValue("adminId"), active)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update admin status")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, statusMessage("Admin", active), adminView(a))
}

// HandleSetStudentStatus handles PUT /v1/admin/students/{studentId}/status.
func (h *AdminHandler) HandleSetStudentStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	active, ok := decodeStatus(w, r)
	if !ok {
		return
	}

	acct, err := h.AdminService.SetStudentStatus(r.Context(), p.ID, r.PathValue("studentId"), active)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update student status")
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, statusMessage("Student", active), accountView(acct))
}

func statusMessage(who string, active bool) string {
	if active {
		return who + " activated successfully"
	}
	return who + " deactivated successfully"
}

// HandleOTPStats handles GET /v1/admin/otp/stats?hours=N.
func (h *AdminHandler) HandleOTPStats(w http.ResponseWriter, r *http.Request) {
	hours := defaultStatsHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsHours {
			httpx.WriteFailure(w, http.StatusBadRequest, "Validation failed", map[string]any{
				"errors": map[string]string{"hours": "must be between 1 and " + strconv.Itoa(maxStatsHours)},
			})
			return
		}
		hours = n
	}

	stats, err := h.OTPService.Stats(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load OTP stats")
		return
	}

	out := authsdk.OTPStatsResponse{
		WindowHours: hours,
		Stats:       make([]authsdk.OTPPurposeStats, 0, len(stats)),
	}
	for _, s := range stats {
		out.Stats = append(out.Stats, authsdk.OTPPurposeStats{
			Purpose:     string(s.Purpose),
			Total:       s.Total,
			Used:        s.Used,
			Expired:     s.Expired,
			Resends:     s.Resends,
			AvgAttempts: s.AvgAttempts,
		})
	}
	httpx.WriteSuccess(w, http.StatusOK, "", out)
}

// HandleRateLimitStats handles GET /v1/admin/ratelimit/stats.
func (h *AdminHandler) HandleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	stats := h.Limiters.Stats()
	out := make([]authsdk.LimiterStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, authsdk.LimiterStats(s))
	}
	httpx.WriteSuccess(w, http.StatusOK, "", out)
}

// HandleClearRateLimit handles DELETE /v1/admin/ratelimit/{limiter}/keys/{key}
// and, without a key, DELETE /v1/admin/ratelimit/{limiter}. The key is the
// counter key as the limiter derives it: the client address, or the trailing
// digits of the mobile number for mobile-keyed limiters.
func (h *AdminHandler) HandleClearRateLimit(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	name, key := r.PathValue("limiter"), r.PathValue("key")

	if !h.Limiters.Reset(name, key) {
		httpx.WriteFailure(w, http.StatusNotFound, "Unknown limiter", nil)
		return
	}
	slogx.FromContext(r.Context()).Info("rate limit cleared",
		slog.String("limiter", name),
		slog.String("key", key),
		slog.String("by", p.ID),
	)
	httpx.WriteSuccess(w, http.StatusOK, "Rate limit cleared", nil)
}
