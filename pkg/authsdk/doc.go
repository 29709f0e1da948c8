/*
Package authsdk provides a client SDK for the gatehouse service.

# Overview

gatehouse handles student sign-up and login by mobile number with SMS
one-time codes, and staff (admin) login with per-device sessions. The SDK
wraps the JSON API: every response is an envelope of the form

	{"success": true, "message": "...", "data": {...}}

and every failure becomes an *APIError.

# SDKClient vs Session

  - SDKClient: public operations (register, verify, login, password reset,
    admin setup and login, health)
  - StudentSession: the single live session of a student
  - AdminSession: one of an admin's per-device sessions

A student holds one session at a time. Logging in on a second device ends
the first, and the login response says so:

	client := authsdk.NewSDKClient("https://gatehouse.example.com")

	sess, resp, err := client.Login(ctx, authsdk.LoginRequest{
		MobileNumber: "+94771234567",
		Password:     password,
		DeviceID:     "phone-1",
	})
	if err != nil {
		return err
	}
	if resp.SessionInfo != nil {
		fmt.Println("logged out of", resp.SessionInfo.PreviousDevice)
	}
	profile, err := sess.Profile(ctx)

# Registration

	reg, err := client.Register(ctx, authsdk.RegisterRequest{...})
	// the code arrives by SMS
	acct, err := client.VerifyRegistration(ctx, reg.User.MobileNumber, code)

Resends are limited in count and spaced by a cooldown. A refused resend is
a 429 carrying the limits:

	_, err := client.ResendRegistrationOTP(ctx, mobile)
	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) {
		if rl, ok := apiErr.ResendLimit(); ok {
			fmt.Printf("retry in %ds\n", rl.RemainingTime)
		}
	}

# Error Handling

  - 400: validation failures (APIError.Errors) and bad codes
    (APIError.AttemptsRemaining)
  - 401: bad credentials or a session that is no longer valid
  - 403: insufficient role or a wrong setup key
  - 423: account locked (APIError.LockedUntil)
  - 429: rate limited (APIError.RetryAfter) or resend refused

# Thread Safety

Sessions are safe for concurrent use.
*/
package authsdk
