package server

import (
	"strconv"
	"strings"
)

const (
	defaultRunLimit     = 20
	defaultAnomalyLimit = 100
	maxLimit            = 1000
)

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalFloat(value string) (*float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseLimit applies def to a missing limit and caps it at maxLimit.
func parseLimit(value string, def int) (int, error) {
	parsed, err := parseOptionalInt(value)
	if err != nil || (parsed != nil && *parsed <= 0) {
		return 0, newValidationError("limit", "invalid_limit", "limit must be a positive integer")
	}
	if parsed == nil {
		return def, nil
	}
	return min(*parsed, maxLimit), nil
}
