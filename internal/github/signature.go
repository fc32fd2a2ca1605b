package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks the X-Hub-Signature-256 header GitHub attaches to
// webhook deliveries: "sha256=" followed by the lowercase hex HMAC-SHA256 of
// the raw request body. Comparison is constant-time.
//
// An empty secret disables verification and accepts everything. That is a
// deliberate dev-mode posture; the server logs a warning at startup when it
// runs without a secret.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	if secret == "" {
		return true
	}
	if !strings.HasPrefix(signatureHeader, "sha256=") {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
