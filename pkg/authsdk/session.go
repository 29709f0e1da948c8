package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
)

// Session is an authenticated credential bound to a device. Credentials are
// not refreshed; once the server ends the session every call returns 401.
type Session struct {
	client *SDKClient

	mu          sync.RWMutex
	accessToken string
	deviceID    string
}

func newSession(client *SDKClient, accessToken, deviceID string) *Session {
	return &Session{client: client, accessToken: accessToken, deviceID: deviceID}
}

// AccessToken returns the current credential.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// DeviceID returns the device the session is bound to.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// forget drops the credential after a logout.
func (s *Session) forget() {
	s.mu.Lock()
	s.accessToken = ""
	s.mu.Unlock()
}

// call performs an authenticated request and decodes the response data.
func (s *Session) call(
	ctx context.Context,
	method, path string,
	body any,
	expectedStatus int,
	target any,
) error {
	token := s.AccessToken()
	if token == "" {
		return fmt.Errorf("session has no access token")
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	return s.client.call(ctx, method, path, body, headers, expectedStatus, target)
}

// ============================================================================
// Student
// ============================================================================

// StudentSession is a student's single live session.
type StudentSession struct {
	*Session
}

// Profile returns the signed-in student's account.
func (s *StudentSession) Profile(ctx context.Context) (*AccountView, error) {
	var out AccountView
	if err := s.call(ctx, http.MethodGet, "/v1/auth/profile", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the session on the server.
func (s *StudentSession) Logout(ctx context.Context) error {
	if err := s.call(ctx, http.MethodPost, "/v1/auth/logout", nil, http.StatusOK, nil); err != nil {
		return err
	}
	s.forget()
	return nil
}

// ============================================================================
// Admin
// ============================================================================

// AdminSession is one of an admin's per-device sessions.
type AdminSession struct {
	*Session
	sessionID string
}

// SessionID returns the server-side id of this session.
func (s *AdminSession) SessionID() string { return s.sessionID }

// Logout terminates this session only.
func (s *AdminSession) Logout(ctx context.Context) error {
	if err := s.call(ctx, http.MethodPost, "/v1/admin/logout", nil, http.StatusOK, nil); err != nil {
		return err
	}
	s.forget()
	return nil
}

// ListSessions returns every session the admin holds, newest first.
func (s *AdminSession) ListSessions(ctx context.Context) ([]AdminSessionView, error) {
	var out []AdminSessionView
	if err := s.call(ctx, http.MethodGet, "/v1/admin/sessions", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TerminateSession ends one of the admin's own sessions.
func (s *AdminSession) TerminateSession(ctx context.Context, sessionID string) error {
	path := "/v1/admin/sessions/" + url.PathEscape(sessionID)
	return s.call(ctx, http.MethodDelete, path, nil, http.StatusOK, nil)
}

// CreateAdmin adds a staff account. Requires super_admin.
func (s *AdminSession) CreateAdmin(ctx context.Context, req CreateAdminRequest) (*AdminView, error) {
	var out AdminView
	if err := s.call(ctx, http.MethodPost, "/v1/admin/admins", req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetAdminPassword replaces another admin's password with a generated one
// and ends all of their sessions. Requires super_admin.
func (s *AdminSession) ResetAdminPassword(ctx context.Context, adminID string) (*ResetAdminPasswordResponse, error) {
	var out ResetAdminPasswordResponse
	path := "/v1/admin/admins/" + url.PathEscape(adminID) + "/reset-password"
	if err := s.call(ctx, http.MethodPut, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetAdminStatus activates or deactivates an admin. Requires super_admin.
func (s *AdminSession) SetAdminStatus(ctx context.Context, adminID string, active bool) (*AdminView, error) {
	var out AdminView
	path := "/v1/admin/admins/" + url.PathEscape(adminID) + "/status"
	if err := s.call(ctx, http.MethodPut, path, StatusRequest{IsActive: &active}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetStudentStatus activates or deactivates a student account.
func (s *AdminSession) SetStudentStatus(ctx context.Context, studentID string, active bool) (*AccountView, error) {
	var out AccountView
	path := "/v1/admin/students/" + url.PathEscape(studentID) + "/status"
	if err := s.call(ctx, http.MethodPut, path, StatusRequest{IsActive: &active}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OTPStats summarises challenges over the last hours (0 means the server
// default).
func (s *AdminSession) OTPStats(ctx context.Context, hours int) (*OTPStatsResponse, error) {
	path := "/v1/admin/otp/stats"
	if hours > 0 {
		path += "?hours=" + strconv.Itoa(hours)
	}
	var out OTPStatsResponse
	if err := s.call(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearRateLimit forgets one counter key of the named limiter. An empty key
// clears the whole limiter, which requires super_admin.
func (s *AdminSession) ClearRateLimit(ctx context.Context, limiter, key string) error {
	path := "/v1/admin/ratelimit/" + url.PathEscape(limiter)
	if key != "" {
		path += "/keys/" + url.PathEscape(key)
	}
	return s.call(ctx, http.MethodDelete, path, nil, http.StatusOK, nil)
}

// RateLimitStats returns the counter store stats of every limiter.
func (s *AdminSession) RateLimitStats(ctx context.Context) ([]LimiterStats, error) {
	var out []LimiterStats
	if err := s.call(ctx, http.MethodGet, "/v1/admin/ratelimit/stats", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}
