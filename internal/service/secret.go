package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const secretTokenBytes = 32 // 256 bits

// NewSecretToken returns a base64url-encoded random value of n bytes.
func NewSecretToken(n int) (string, error) {
	if n <= 0 {
		n = secretTokenBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret returns the hex sha256 of a secret token. Only hashes are stored.
func HashSecret(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newHashedSecret() (token, hash string, err error) {
	token, err = NewSecretToken(secretTokenBytes)
	if err != nil {
		return "", "", err
	}
	return token, HashSecret(token), nil
}
