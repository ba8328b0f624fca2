package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

/* HMAC-SHA256 codec for outbound webhook payloads
 * Pure functions, no state: the secret is per-subscription and
 * travels with the record, never with this package
 */

// HeaderPrefix identifies the signature scheme in the X-Webhook-Signature header
const HeaderPrefix = "sha256="

// Sign computes the hex-encoded HMAC-SHA256 of payload using secret
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header builds the X-Webhook-Signature header value: sha256=<hex>
func Header(secret string, payload []byte) string {
	return HeaderPrefix + Sign(secret, payload)
}

// Verify checks a hex-encoded signature against the payload using
// constant-time comparison to prevent timing attacks
func Verify(secret string, payload []byte, sig string) bool {
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	calculated := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expected, calculated) == 1
}

// VerifyHeader verifies a full header value in the sha256=<hex> format
func VerifyHeader(secret string, payload []byte, header string) (bool, error) {
	if !strings.HasPrefix(header, HeaderPrefix) {
		return false, fmt.Errorf("signature header must start with %s", HeaderPrefix)
	}
	return Verify(secret, payload, strings.TrimPrefix(header, HeaderPrefix)), nil
}
