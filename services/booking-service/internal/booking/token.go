package booking

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

const (
	tokenBytes     = 32
	maxTokenLength = 256
)

// NewToken returns a 256-bit random reschedule token, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func plausibleToken(token string, minLen int) bool {
	if len(token) < minLen || len(token) > maxTokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// tokenEqual compares in constant time for equal-length inputs.
func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
