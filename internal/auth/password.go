package auth

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with the stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{}|;:,.<>?]`)
)

var commonPasswords = map[string]struct{}{
	"password": {}, "123456": {}, "123456789": {}, "qwerty": {},
	"abc123": {}, "password123": {}, "admin": {}, "letmein": {},
	"welcome": {}, "monkey": {},
}

// ValidatePasswordStrength returns the list of complexity rules the
// candidate password violates. Empty means acceptable.
func ValidatePasswordStrength(password string) []string {
	var problems []string
	if len(password) < 8 {
		problems = append(problems, "must be at least 8 characters")
	}
	if len(password) > 128 {
		problems = append(problems, "must be at most 128 characters")
	}
	if !upperRe.MatchString(password) {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !lowerRe.MatchString(password) {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !digitRe.MatchString(password) {
		problems = append(problems, "must contain a digit")
	}
	if !specialRe.MatchString(password) {
		problems = append(problems, "must contain a special character")
	}
	if _, common := commonPasswords[strings.ToLower(password)]; common {
		problems = append(problems, "is too common")
	}
	return problems
}
