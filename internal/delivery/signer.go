// Package delivery implements outbound webhook notification: payload signing,
// the HTTP sender, and the retry orchestration on top of the task queue.
package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 of payload under secret. The payload must
// be the exact bytes written to the wire; receivers verify against the raw
// request body.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the signature header value for a signed payload.
func SignatureHeader(secret string, payload []byte) string {
	return "sha256=" + Sign(secret, payload)
}
