package ilp

import (
	"encoding/base64"
	"fmt"
)

// Conditions and fulfillments travel as unpadded URL-safe base64.
const conditionLen = 32

func EncodeCondition(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCondition decodes a base64url condition or fulfillment and
// checks it is exactly 32 bytes.
func DecodeCondition(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("condition is not valid base64url: %w", err)
	}
	if len(b) != conditionLen {
		return nil, fmt.Errorf("condition is %d bytes, want %d", len(b), conditionLen)
	}
	return b, nil
}
