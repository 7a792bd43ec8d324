// Package ingest turns inbound webhook deliveries into stored canonical
// events: signature verification, payload normalization, idempotent
// persistence, rule evaluation and broadcast.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// ValidateSignature verifies an X-Hub-Signature-256 header against the raw
// request body. The header must carry the sha256= prefix; the comparison is
// constant-time.
func ValidateSignature(signature string, body []byte, secret string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	sig, err := hex.DecodeString(signature[len(signaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return hmac.Equal(sig, expected)
}
