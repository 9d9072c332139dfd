package password

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinLength is the minimum accepted password length
	MinLength = 8
	// bcryptCost balances hashing latency against brute-force resistance
	bcryptCost = 12
)

// Hash hashes a plaintext password with bcrypt
func Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares a plaintext password against a bcrypt hash
func Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// ValidateStrength checks basic password complexity requirements
func ValidateStrength(plaintext string) error {
	if len(plaintext) < MinLength {
		return fmt.Errorf("password must be at least %d characters", MinLength)
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("password must contain upper case, lower case and digit characters")
	}

	return nil
}
