package prompts

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is the loggable stand-in for prompt text: the first 8 hex characters
// of its SHA-256 digest.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:8]
}
