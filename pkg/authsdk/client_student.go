package authsdk

import (
	"context"
	"net/http"
)

// Register creates a student account and sends the registration code.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var out RegisterResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/register", req, nil, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResendRegistrationOTP issues a fresh registration code.
func (c *SDKClient) ResendRegistrationOTP(ctx context.Context, mobile string) (*OTPResponse, error) {
	return c.otp(ctx, "/v1/auth/resend-registration-otp", mobile)
}

// VerifyRegistration verifies the student's mobile number.
func (c *SDKClient) VerifyRegistration(ctx context.Context, mobile, code string) (*AccountView, error) {
	var out AccountView
	req := VerifyOTPRequest{MobileNumber: mobile, OTP: code}
	if err := c.call(ctx, http.MethodPost, "/v1/auth/verify-registration", req, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login signs a student in and returns a session bound to req.DeviceID.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*StudentSession, *LoginResponse, error) {
	var out LoginResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/login", req, nil, http.StatusOK, &out); err != nil {
		return nil, nil, err
	}
	return c.NewStudentSession(out.Tokens.AccessToken, out.DeviceID), &out, nil
}

// ForgotPassword sends a password reset code.
func (c *SDKClient) ForgotPassword(ctx context.Context, mobile string) (*OTPResponse, error) {
	return c.otp(ctx, "/v1/auth/forgot-password", mobile)
}

// ResendForgotPasswordOTP issues a fresh password reset code.
func (c *SDKClient) ResendForgotPasswordOTP(ctx context.Context, mobile string) (*OTPResponse, error) {
	return c.otp(ctx, "/v1/auth/resend-forgot-password-otp", mobile)
}

// ResetPassword sets a new password using a reset code. Any live session
// the student holds is ended.
func (c *SDKClient) ResetPassword(ctx context.Context, req ResetPasswordRequest) (*ResetPasswordResponse, error) {
	var out ResetPasswordResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/reset-password", req, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) otp(ctx context.Context, path, mobile string) (*OTPResponse, error) {
	var out OTPResponse
	if err := c.call(ctx, http.MethodPost, path, MobileRequest{MobileNumber: mobile}, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
