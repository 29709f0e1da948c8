package cryptox

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultOTPDigits = 6
	MinOTPDigits     = 4
	MaxOTPDigits     = 8
)

var ErrOTPMismatch = errors.New("cryptox: one-time code does not match")

// GenerateOTPCode returns a numeric one-time code of the given length. Each
// code is an HOTP value over a fresh random secret and counter, so codes are
// uniformly distributed and never derivable from one another.
func GenerateOTPCode(digits int) (string, error) {
	if digits < MinOTPDigits || digits > MaxOTPDigits {
		return "", fmt.Errorf("cryptox: otp length must be %d-%d, got %d", MinOTPDigits, MaxOTPDigits, digits)
	}

	var raw [20]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("failed to generate otp secret: %w", err)
	}
	var ctr [8]byte
	if _, err := rand.Read(ctr[:]); err != nil {
		return "", fmt.Errorf("failed to generate otp counter: %w", err)
	}

	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])
	code, err := hotp.GenerateCodeCustom(secret, binary.BigEndian.Uint64(ctr[:]), hotp.ValidateOpts{
		Digits:    otp.Digits(digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return code, nil
}

// HashOTP returns a bcrypt hash of code. Only the hash is ever persisted.
func HashOTP(code string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash otp: %w", err)
	}
	return string(h), nil
}

// CompareOTP checks candidate against a hash from HashOTP.
func CompareOTP(hash, candidate string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrOTPMismatch
	default:
		return fmt.Errorf("failed to compare otp: %w", err)
	}
}
