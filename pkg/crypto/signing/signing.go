// Package signing holds the HMAC primitives shared by webhook
// verification, gateway request signing and signed public links.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HexHMACSHA256 returns the lowercase hex HMAC-SHA256 of message.
func HexHMACSHA256(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hex signatures in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
