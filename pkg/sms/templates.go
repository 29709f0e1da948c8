package sms

import (
	"fmt"
	"time"
)

// Templates renders one-time code messages.
type Templates struct {
	Brand string
}

// OTP renders the message for a code. Purpose names follow the challenge
// purposes; unknown ones get a generic message.
func (t Templates) OTP(purpose, code string, expiry time.Duration) string {
	brand := t.Brand
	if brand == "" {
		brand = "Gatehouse"
	}
	mins := max(int(expiry.Round(time.Minute)/time.Minute), 1)

	switch purpose {
	case "registration":
		return fmt.Sprintf("Welcome to %s! Your verification code is: %s. This code will expire in %d minutes. Please do not share this code with anyone.", brand, code, mins)
	case "login":
		return fmt.Sprintf("Your %s login verification code is: %s. This code will expire in %d minutes. If you didn't request this, please ignore.", brand, code, mins)
	case "password_reset":
		return fmt.Sprintf("Your %s password reset code is: %s. This code will expire in %d minutes. If you didn't request this, please ignore.", brand, code, mins)
	case "mobile_verification":
		return fmt.Sprintf("Your %s mobile verification code is: %s. This code will expire in %d minutes.", brand, code, mins)
	case "transaction_verification":
		return fmt.Sprintf("Your %s transaction verification code is: %s. This code will expire in %d minutes.", brand, code, mins)
	default:
		return fmt.Sprintf("Your %s verification code is: %s. This code will expire in %d minutes.", brand, code, mins)
	}
}
