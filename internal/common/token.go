package common

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the entropy of generated identifiers. 20 bytes encode to a
// padding-free 27 character string.
const tokenBytes = 20

// NewToken generates a URL-safe random identifier for jobs and sessions.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
