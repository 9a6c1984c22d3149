// Package encoding provides the URL-safe, unpadded base64 text form used by
// license tokens and generated secrets.
package encoding

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encode returns the base64url form of b with trailing padding stripped.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode reverses Encode. Padding is inferred from the input length, so
// padded input is accepted as well.
func Decode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if len(s)%4 == 1 {
		return nil, fmt.Errorf("invalid base64url length %d", len(s))
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url: %w", err)
	}
	return b, nil
}
