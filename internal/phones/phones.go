// Package phones normalizes phone numbers so that ingestion and access control
// compare the same strings.
package phones

import (
	"strings"

	"msgvault-backend/internal/shared/apperr"
)

// Normalize keeps only digits and prefixes a single '+'.
// "+1 (415) 555-1234" and "14155551234" both become "+14155551234".
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	b.WriteByte('+')
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parse normalizes raw and rejects values without any digit.
func Parse(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperr.Validation("phoneNumber is required")
	}
	n := Normalize(raw)
	if len(n) < 2 {
		return "", apperr.Validationf("invalid phone number %q", raw)
	}
	return n, nil
}

// ParseOptional is Parse for optional filters: empty input yields "".
func ParseOptional(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return Parse(raw)
}
