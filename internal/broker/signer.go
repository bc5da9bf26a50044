package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer produces the authentication headers the brokerage REST API
// requires on every request.
type Signer struct {
	accessKey string
	secretKey string
}

// NewSigner creates a signer from API credentials.
func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{accessKey: accessKey, secretKey: secretKey}
}

// GenerateHeaders signs one request. The signature payload is
// timestamp + method + path(+query) + body, HMAC-SHA256 over the secret,
// base64 encoded.
func (s *Signer) GenerateHeaders(method, path, query, body string) map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	fullPath := path
	if query != "" {
		fullPath = path + "?" + query
	}
	payload := timestamp + method + fullPath + body

	return map[string]string{
		"ACCESS-KEY":       s.accessKey,
		"ACCESS-SIGN":      computeHmacSha256(payload, s.secretKey),
		"ACCESS-TIMESTAMP": timestamp,
		"Content-Type":     "application/json",
	}
}

func computeHmacSha256(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
