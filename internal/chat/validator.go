package chat

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count

	MaxRoomNameChars    = 100
	MaxDescriptionChars = 500
	MinUsernameChars    = 3
	MaxUsernameChars    = 50
	MinPasswordChars    = 6
	MaxPasswordChars    = 100
	MaxDisplayNameChars = 100
)

// ValidationError reports input rejected locally, before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateMessage checks that a chat message meets content requirements.
// Whitespace-only text counts as empty.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return invalid("text", "message is empty")
	}
	if len(text) > MaxMessageBytes {
		return invalid("text", "message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return invalid("text", "message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return invalid("text", "message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ValidateRoomName checks a room name for create and rename.
func ValidateRoomName(name string) error {
	return lengthBetween("name", strings.TrimSpace(name), 1, MaxRoomNameChars)
}

// ValidateDescription checks an optional room description.
func ValidateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionChars {
		return invalid("description", "exceeds %d characters", MaxDescriptionChars)
	}
	return nil
}

var phonePattern = regexp.MustCompile(`^$|^\+?[1-9]\d{1,14}$`)

// Registration is the sign-up form.
type Registration struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Validate checks every field of the form and returns the first failure.
func (r Registration) Validate() error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if err := ValidatePhone(r.PhoneNumber); err != nil {
		return err
	}
	if err := lengthBetween("displayName", strings.TrimSpace(r.DisplayName), 1, MaxDisplayNameChars); err != nil {
		return err
	}
	return lengthBetween("password", r.Password, MinPasswordChars, MaxPasswordChars)
}

// ValidateUsername checks a username for registration and profile updates.
func ValidateUsername(username string) error {
	return lengthBetween("username", strings.TrimSpace(username), MinUsernameChars, MaxUsernameChars)
}

// ValidateEmail requires a bare address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "%q is not a valid address", email)
	}
	return nil
}

// ValidatePhone accepts an empty value or an E.164 style number.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(strings.TrimSpace(phone)) {
		return invalid("phoneNumber", "invalid phone number format")
	}
	return nil
}

func lengthBetween(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min {
		if min == 1 {
			return invalid(field, "is required")
		}
		return invalid(field, "must be at least %d characters", min)
	}
	if n > max {
		return invalid(field, "must be at most %d characters", max)
	}
	return nil
}
