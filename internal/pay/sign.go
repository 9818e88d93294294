package pay

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest helpers for the supported gateway signature schemes. The canonical
// parameter strings are a compatibility surface: field order and delimiters
// must match the gateway documentation byte for byte.

// KeyedSHA1Hex computes the wallet-style keyed hash: SHA-1 over the
// "&"-joined parameter list. The secret is one of the joined fields, in the
// slot the gateway documents, so callers pass the already-complete list.
func KeyedSHA1Hex(fields ...string) string {
	sum := sha1.Sum([]byte(strings.Join(fields, "&")))
	return hex.EncodeToString(sum[:])
}

// TokenHMACSHA256 computes the acquiring-style HMAC-SHA256 token over an
// arbitrary payload.
func TokenHMACSHA256(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualDigests compares a claimed hex digest with the locally computed one
// without leaking timing proportional to the matched prefix. Case of the hex
// encoding does not matter; a malformed claimed digest never matches.
func EqualDigests(claimed, computed string) bool {
	claimedRaw, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(claimed)))
	if err != nil {
		return false
	}
	computedRaw, err := hex.DecodeString(computed)
	if err != nil {
		return false
	}
	return hmac.Equal(claimedRaw, computedRaw)
}

// FormatAmount renders an amount the way both gateways expect it in canonical
// strings: two decimal places, dot separator.
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}
