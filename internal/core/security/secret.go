package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret returns prefix followed by 32 random bytes in hex, e.g.
// "dev_3f9a...". Used for signing keys when none is configured.
func GenerateSecret(prefix string) (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return prefix + hex.EncodeToString(bytes), nil
}
