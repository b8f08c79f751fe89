package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix is prepended to the hex-encoded HMAC in the signature
// header. Receivers must compare the full prefixed string.
const SignaturePrefix = "sha256="

// GenerateSignature computes the HMAC-SHA256 of the exact payload bytes
// using the endpoint secret. Receivers must verify over the raw body before
// JSON-decoding it.
func GenerateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature and compares it in constant time
// against the provided value, prefix included. It never returns an error; a
// mismatch is simply false.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := GenerateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
