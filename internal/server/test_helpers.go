package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"

	"iothook/internal/security"
)

// Fixed signing material used by tests.
const (
	TestTimestamp = "1700000000"
	TestNonce     = "a1b2c3d4"
)

// MakeTestSignature signs a POST body for path the way the platform does.
// This is a test helper shared across multiple test files
func MakeTestSignature(secret, path string, body []byte) string {
	return security.Sign(secret, http.MethodPost, path, TestTimestamp, TestNonce, body)
}

// NewSignedWebhookRequest builds a POST /webhook request carrying a valid
// signature for secret.
func NewSignedWebhookRequest(secret string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.HeaderSignature, MakeTestSignature(secret, "/webhook", body))
	req.Header.Set(security.HeaderTimestamp, TestTimestamp)
	req.Header.Set(security.HeaderNonce, TestNonce)
	return req
}
