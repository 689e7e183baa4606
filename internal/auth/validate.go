package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 30
	minFullNameLen = 2
	maxFullNameLen = 100
	maxBioLen      = 500

	defaultLanguage = "en"
)

var (
	usernamePattern    = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	supportedLanguages = map[string]struct{}{"en": {}, "ta": {}, "hi": {}}
)

func validateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}

func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return "", fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: username may only contain letters, digits and underscores", ErrInvalidInput)
	}
	return strings.ToLower(username), nil
}

func validateFullName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < minFullNameLen || n > maxFullNameLen {
		return "", fmt.Errorf("%w: full name must be %d-%d characters", ErrInvalidInput, minFullNameLen, maxFullNameLen)
	}
	return name, nil
}

func validateLanguage(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return defaultLanguage, nil
	}
	if _, ok := supportedLanguages[lang]; !ok {
		return "", fmt.Errorf("%w: unsupported language %q", ErrInvalidInput, lang)
	}
	return lang, nil
}
