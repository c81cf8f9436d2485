package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateRange checks if an integer is within a specified range (inclusive).
func ValidateRange(value, min, max int, fieldName string) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", fieldName, min, max, value)
	}
	return nil
}

// ValidateMinLength checks if a string meets minimum length requirement.
func ValidateMinLength(value string, minLength int, fieldName string) error {
	if len(value) < minLength {
		return fmt.Errorf("%s must be at least %d characters, got %d", fieldName, minLength, len(value))
	}
	return nil
}

// ValidatePositive checks if a number is positive.
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", fieldName, value)
	}
	return nil
}

// ParsePositiveID parses a decimal identifier from a query parameter, path segment
// or destination suffix. Zero, negative and non-numeric values are rejected.
//
// Example:
//
//	roomID, err := util.ParsePositiveID(c.Query("chatRoomId"), "chatRoomId")
func ParsePositiveID(raw, fieldName string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s cannot be empty", fieldName)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", fieldName, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", fieldName, id)
	}
	return id, nil
}
