package http

import (
	"math"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/pkg/authsdk"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
)

func accountView(a domain.Account) authsdk.AccountView {
	return authsdk.AccountView{
		ID:             a.ID,
		MobileNumber:   a.MobileNumber,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		MobileVerified: a.MobileVerified,
		IsActive:       a.IsActive,
		LastLoginAt:    a.LastLoginAt,
		CreatedAt:      a.CreatedAt,
	}
}

func adminView(a domain.Admin) authsdk.AdminView {
	return authsdk.AdminView{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Role:        a.Role,
		IsActive:    a.IsActive,
		LastLoginAt: a.LastLoginAt,
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt,
	}
}

func adminSessionView(s domain.AdminSession, currentID string) authsdk.AdminSessionView {
	return authsdk.AdminSessionView{
		ID:         s.ID,
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		IssuedAt:   s.IssuedAt,
		ExpiresAt:  s.ExpiresAt,
		LastSeenAt: s.LastSeenAt,
		IsActive:   s.IsActive,
		Current:    s.ID == currentID,
	}
}

// seconds rounds d up to whole seconds, never below zero.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func otpView(mobile string, c *service.ChallengeResult, now time.Time) authsdk.OTPResponse {
	return authsdk.OTPResponse{
		MobileNumber:      mobile,
		OTPSent:           c.Delivered,
		ExpiresIn:         seconds(c.ExpiresAt.Sub(now)),
		ResendCount:       c.ResendCount,
		MaxResends:        c.MaxResends,
		RemainingResends:  c.ResendsRemaining(),
		ResendAvailableIn: seconds(c.ResendAvailableIn),
	}
}

func tokenView(s *service.IssuedSession, now time.Time) authsdk.TokenView {
	return authsdk.TokenView{
		AccessToken: s.Token,
		TokenType:   "Bearer",
		ExpiresIn:   seconds(s.ExpiresAt.Sub(now)),
		ExpiresAt:   s.ExpiresAt,
	}
}

// sessionInfo is nil unless the login replaced a live session.
func sessionInfo(s *service.IssuedSession, msg string) *authsdk.SessionInfo {
	if !s.PreviousCleared {
		return nil
	}
	return &authsdk.SessionInfo{
		PreviousSessionCleared: true,
		PreviousDevice:         s.PreviousDeviceID,
		Message:                msg,
	}
}

// deviceInfo describes the caller's device from the body and the request.
func deviceInfo(r *http.Request, deviceID, deviceName string) service.DeviceInfo {
	return service.DeviceInfo{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		IP:         httpx.IPKeyExtractor(r),
		UserAgent:  r.UserAgent(),
	}
}
