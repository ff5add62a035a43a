package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenHex returns a random hex string of n bytes.
func TokenHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
