// Package signing produces the authorization and HMAC signature headers sent
// to the chat service.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Header names.
const (
	HeaderAuthorization      = "Authorization"
	HeaderSignatureTimestamp = "X-Signature-Timestamp"
	HeaderSignature          = "X-Signature"
)

// Sign returns the hex HMAC-SHA256 of data under key.
func Sign(data, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of data under key, in constant time.
func Verify(data, key, signature string) bool {
	expected := Sign(data, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Signer builds bearer and optional HMAC headers.
type Signer struct {
	apiKey      string
	serviceName string
	secretKey   string
	hmacEnabled bool
}

// Option configures the signer.
type Option func(*Signer)

// WithHMAC enables X-Signature headers keyed by secret.
func WithHMAC(secret string) Option {
	return func(s *Signer) {
		s.secretKey = secret
		s.hmacEnabled = secret != ""
	}
}

// New creates a signer for apiKey. serviceName is mixed into the signed payload.
func New(apiKey, serviceName string, opts ...Option) *Signer {
	s := &Signer{apiKey: apiKey, serviceName: serviceName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HMACEnabled reports whether signature headers are produced.
func (s *Signer) HMACEnabled() bool {
	return s.hmacEnabled
}

// Payload returns the string signed for timestamp.
func (s *Signer) Payload(timestamp string) string {
	return timestamp + s.serviceName
}

// Headers returns the headers for a request issued at now.
func (s *Signer) Headers(now time.Time) http.Header {
	h := http.Header{}
	h.Set(HeaderAuthorization, "Bearer "+s.apiKey)
	if s.hmacEnabled {
		ts := strconv.FormatInt(now.UnixMilli(), 10)
		h.Set(HeaderSignatureTimestamp, ts)
		h.Set(HeaderSignature, Sign(s.Payload(ts), s.secretKey))
	}
	return h
}
