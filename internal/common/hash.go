package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Digest joins parts with "|" and returns their SHA-256 as lowercase hex.
// Register IDs and client supplied keys pass through it before they become
// part of a Redis key name.
func Digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
