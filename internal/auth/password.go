package auth

import (
	"regexp"
	"unicode/utf8"
)

const minPasswordLen = 8

// ValidPassword enforces the strength rule shared by registration, profile
// updates and resets: at least 8 characters with one lowercase letter, one
// uppercase letter and one character that is not an ASCII letter or digit.
func ValidPassword(pw string) bool {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return false
	}
	var lower, upper, special bool
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
		default:
			special = true
		}
	}
	return lower && upper && special
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func ValidEmail(email string) bool {
	return emailRe.MatchString(email)
}
