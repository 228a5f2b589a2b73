package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex digests s. Used to store device identifiers as digests instead of
// raw hardware IDs.
func SHA256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
