package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks a GitHub webhook body against the shared secret.
// The header carries "sha256=" followed by the hex HMAC-SHA256 of the body.
// Malformed or missing headers verify as false; nothing here ever panics or
// short-circuits on a partial match.
func VerifySignature(body []byte, headerSignature, secret string) bool {
	if headerSignature == "" {
		return false
	}
	if !strings.HasPrefix(headerSignature, signaturePrefix) {
		return false
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(headerSignature, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// SignBody computes the signature header value GitHub would send for body.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
