package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// randomSecret returns 64 hex characters (32 bytes of randomness)
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
