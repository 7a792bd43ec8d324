package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := "s3cret"

	assert.True(t, ValidateSignature(sign(body, secret), body, secret))
}

func TestValidateSignatureWrongSecret(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)

	assert.False(t, ValidateSignature(sign(body, "other"), body, "s3cret"))
}

func TestValidateSignatureTamperedBody(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign(body, "s3cret")

	assert.False(t, ValidateSignature(sig, []byte(`{"ref":"refs/heads/evil"}`), "s3cret"))
}

func TestValidateSignatureMissingPrefix(t *testing.T) {
	body := []byte("{}")
	sig := sign(body, "s3cret")

	assert.False(t, ValidateSignature(sig[len("sha256="):], body, "s3cret"))
}

func TestValidateSignatureBadHex(t *testing.T) {
	assert.False(t, ValidateSignature("sha256=not-hex", []byte("{}"), "s3cret"))
}
