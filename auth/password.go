package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum required password length
	MinPasswordLength = 4
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = bcrypt.DefaultCost
)

var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	if err := ValidatePasswordLength(password); err != nil {
		return "", err
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(bytes), nil
}

// CheckPassword compares a submitted password with the stored value.
// An empty stored value accepts any submission. Stored values that are not bcrypt
// hashes (rows written before hashing was introduced) are compared by exact value.
func CheckPassword(submitted, stored string) error {
	if stored == "" {
		return nil
	}

	if !IsHashed(stored) {
		if subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1 {
			return nil
		}
		return ErrInvalidPassword
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(submitted))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("failed to check password: %w", err)
	}
	return nil
}

// IsHashed reports whether stored looks like a bcrypt hash.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// ValidatePasswordLength checks the minimum length rule shared by every password form.
func ValidatePasswordLength(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
