package security

import (
	"strings"
	"testing"
)

const (
	testSecret    = "4e231cd1408070cc52525f675c2f6c053afe4afdef5b813acc9f7b74e1fd3c34"
	testMethod    = "POST"
	testPath      = "/webhook"
	testTimestamp = "1700000000"
	testNonce     = "abc"
)

func TestCanonical(t *testing.T) {
	got := Canonical("POST", "/webhook", "1700000000", "abc", []byte("{}"))
	want := "POST\n/webhook\n1700000000\nabc\n44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"

	if got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestSign_KnownVector(t *testing.T) {
	got := Sign("k", "POST", "/webhook", "1700000000", "abc", []byte("{}"))
	want := "0b851e28d67498a007ade3bd05ad0040cbe98845773ec3f3670d6e0e461a14b6"

	if got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}
}

func TestVerify_KnownVector(t *testing.T) {
	body := []byte("{}")
	valid := "0b851e28d67498a007ade3bd05ad0040cbe98845773ec3f3670d6e0e461a14b6"

	if !Verify("k", "POST", "/webhook", "1700000000", "abc", valid, body) {
		t.Fatal("Expected known signature to be accepted")
	}

	others := []string{
		"",
		strings.ToUpper(valid),
		valid[:len(valid)-1],
		valid + "0",
		"sha256=" + valid,
		strings.Repeat("0", 64),
	}
	for _, sig := range others {
		if Verify("k", "POST", "/webhook", "1700000000", "abc", sig, body) {
			t.Errorf("Expected signature %q to be rejected", sig)
		}
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		method    string
		path      string
		timestamp string
		nonce     string
		body      []byte
	}{
		{"typical event", testSecret, testMethod, testPath, testTimestamp, testNonce, []byte(`{"event_id":"e1"}`)},
		{"empty body", testSecret, testMethod, testPath, testTimestamp, testNonce, nil},
		{"empty headers", "k", "POST", "/webhook", "", "", []byte("{}")},
		{"non-numeric timestamp", "k", "POST", "/webhook", "2024-01-01T00:00:00Z", "n-1", []byte("{}")},
		{"binary body", "k", "PUT", "/other", "1", "2", []byte{0x00, 0xff, 0x10}},
		{"unicode body", "k", "POST", "/webhook", "1", "2", []byte(`{"msg":"端口故障"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Sign(tt.secret, tt.method, tt.path, tt.timestamp, tt.nonce, tt.body)
			if !Verify(tt.secret, tt.method, tt.path, tt.timestamp, tt.nonce, sig, tt.body) {
				t.Error("Expected freshly signed request to verify")
			}
		})
	}
}

func TestVerify_Tampering(t *testing.T) {
	body := []byte(`{"event_id":"evt-1","event_type":"device.heartbeat"}`)
	sig := Sign(testSecret, testMethod, testPath, testTimestamp, testNonce, body)

	flipped := make([]byte, len(body))
	copy(flipped, body)
	flipped[5] ^= 0x01

	tests := []struct {
		name      string
		secret    string
		method    string
		path      string
		timestamp string
		nonce     string
		body      []byte
	}{
		{"flipped body byte", testSecret, testMethod, testPath, testTimestamp, testNonce, flipped},
		{"truncated body", testSecret, testMethod, testPath, testTimestamp, testNonce, body[:len(body)-1]},
		{"different timestamp", testSecret, testMethod, testPath, "1700000001", testNonce, body},
		{"different nonce", testSecret, testMethod, testPath, testTimestamp, "abd", body},
		{"different method", testSecret, "PUT", testPath, testTimestamp, testNonce, body},
		{"lowercase method", testSecret, "post", testPath, testTimestamp, testNonce, body},
		{"different path", testSecret, testMethod, "/webhook/", testTimestamp, testNonce, body},
		{"different secret", "other-secret", testMethod, testPath, testTimestamp, testNonce, body},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.secret, tt.method, tt.path, tt.timestamp, tt.nonce, sig, tt.body) {
				t.Error("Expected tampered request to be rejected")
			}
		})
	}
}

func TestVerifier_Check(t *testing.T) {
	body := []byte(`{"event_id":"evt-1"}`)
	req := SignedRequest{
		Method:    testMethod,
		Path:      testPath,
		Timestamp: testTimestamp,
		Nonce:     testNonce,
		Signature: Sign(testSecret, testMethod, testPath, testTimestamp, testNonce, body),
		Body:      body,
	}

	v := NewVerifier(testSecret)
	if !v.Enabled() {
		t.Fatal("Expected verifier with real secret to be enabled")
	}
	if got := v.Check(req); got != Verified {
		t.Errorf("Check() = %v, want %v", got, Verified)
	}

	req.Signature = "bogus"
	if got := v.Check(req); got != Rejected {
		t.Errorf("Check() = %v, want %v", got, Rejected)
	}
}

func TestVerifier_Disabled(t *testing.T) {
	for _, secret := range []string{"", PlaceholderSecret} {
		v := NewVerifier(secret)
		if v.Enabled() {
			t.Errorf("Expected verifier for secret %q to be disabled", secret)
		}
		if got := v.Check(SignedRequest{Signature: "anything"}); got != Skipped {
			t.Errorf("Check() with secret %q = %v, want %v", secret, got, Skipped)
		}
	}
}

func TestResult_String(t *testing.T) {
	tests := map[Result]string{
		Verified: "verified",
		Rejected: "rejected",
		Skipped:  "skipped",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("Result(%d).String() = %q, want %q", r, got, want)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	body := []byte(strings.Repeat(`{"voltage":220.5}`, 64))
	sig := Sign(testSecret, testMethod, testPath, testTimestamp, testNonce, body)
	for i := 0; i < b.N; i++ {
		_ = Verify(testSecret, testMethod, testPath, testTimestamp, testNonce, sig, body)
	}
}
