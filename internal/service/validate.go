package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)
)

func validateEmail(email string) error {
	if !emailRe.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return nil
}

func validateUsername(username string) error {
	if !usernameRe.MatchString(strings.TrimSpace(username)) {
		return fmt.Errorf("%w: username must be 3-32 word characters", ErrValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password too short", ErrValidation)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: password needs a letter and a digit", ErrValidation)
	}
	return nil
}
