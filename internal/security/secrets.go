package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const (
	// PlaceholderSecret is the value shipped in sample configs. Running with
	// it (or with no secret at all) turns signature verification off.
	PlaceholderSecret = "your-webhook-secret-key"

	// GeneratedSecretBytes is the amount of randomness in GenerateSecret.
	// Hex encoding doubles it to 64 characters.
	GeneratedSecretBytes = 32
)

// VerificationDisabled reports whether secret switches signature checks off.
// This is a local-development escape hatch, not a fallback for bad requests.
func VerificationDisabled(secret string) bool {
	return secret == "" || secret == PlaceholderSecret
}

// GenerateSecret creates a cryptographically secure random secret,
// hex encoded the same way the IoT platform issues webhook keys.
func GenerateSecret() (string, error) {
	bytes := make([]byte, GeneratedSecretBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// calculateEntropy computes the Shannon entropy of a string.
// Returns a value between 0 (completely predictable) and ~8.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))

	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// IsWeakSecret performs a quick check if a secret is obviously weak.
// Used for startup warnings; a weak secret still verifies signatures.
func IsWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}

	// All same character
	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return true
	}

	if isSequential(secret) {
		return true
	}

	// Low entropy
	if calculateEntropy(secret) < 2.5 {
		return true
	}

	return false
}

// isSequential checks if a string consists of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	// If more than 70% of characters are sequential, it's weak
	return float64(sequential) > float64(len(s))*0.7
}
