package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a validation error on a single field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateContent checks message content: it must not be blank and must not exceed
// maxLength runes.
func ValidateContent(content string, maxLength int) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}

	if !utf8.ValidString(content) {
		return &ValidationError{Field: "content", Message: "content must be valid UTF-8"}
	}

	if n := utf8.RuneCountInString(content); maxLength > 0 && n > maxLength {
		return &ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("content exceeds maximum length of %d characters", maxLength),
		}
	}

	return nil
}
