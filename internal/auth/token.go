package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const challengeBytes = 32

// GenerateChallenge returns a random hex challenge for an instance to sign.
func GenerateChallenge() (string, error) {
	b := make([]byte, challengeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the SHA256 hex digest of token. Redeemed session tokens
// are remembered by hash only.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
