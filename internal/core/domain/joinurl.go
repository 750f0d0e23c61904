package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Join URL convention: <origin>/?mode=aluno&code=NNNNNN. The mode value is
// part of the wire convention shared with existing clients and QR payloads.
const joinModeParam = "aluno"

// BuildJoinURL returns the shareable join link for a session code.
func BuildJoinURL(origin string, code SessionCode) string {
	return fmt.Sprintf("%s/?mode=%s&code=%s", strings.TrimRight(origin, "/"), joinModeParam, code)
}

// ParseJoinCode extracts a session code from external input: either a bare
// 6-digit code or a join URL (scanned QR payloads may be either form). The
// code is validated before being accepted.
func ParseJoinCode(input string) (SessionCode, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrInvalidSessionCode
	}

	candidate := input
	if strings.Contains(input, "://") || strings.Contains(input, "?") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSessionCode, err)
		}
		candidate = u.Query().Get("code")
	}

	if !ValidateSessionCode(candidate) {
		return "", ErrInvalidSessionCode
	}
	return SessionCode(candidate), nil
}
