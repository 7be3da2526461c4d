package extended

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Signer produces the authentication headers of a REST request.
// The API key is always sent. The HMAC signature is added only when a secret is configured.
type Signer struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
}

// GenerateHeaders creates the headers for a request.
// path has no host, query has no leading "?", body is the raw JSON (empty if none).
func (s *Signer) GenerateHeaders(method, path, query, body string) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if s.apiKey != "" {
		headers["X-Api-Key"] = s.apiKey
	}
	if s.apiSecret == "" {
		return headers
	}

	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)

	fullPath := path
	if query != "" {
		fullPath = path + "?" + query
	}
	payload := timestamp + method + fullPath + body

	headers["X-Timestamp"] = timestamp
	headers["X-Signature"] = computeHmacSha256(payload, s.apiSecret)
	return headers
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
