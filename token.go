package sesja

import (
	crand "crypto/rand"
	"crypto/sha256"
	"fmt"
)

// TokenLength is the length of a plaintext session token.
const TokenLength = 32

// DigestSize is the size of a stored token digest in bytes.
const DigestSize = sha256.Size

// Digest is the only form of a token that may ever touch the database
// or the logs.
type Digest [DigestSize]byte

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken returns a new secure random alphanumeric session token.
//
// The token has to be digested with DigestToken before saving it
// anywhere.
func GenerateToken() (string, error) {
	token := make([]byte, 0, TokenLength)
	// crypto/rand - getentropy(2)
	raw := make([]byte, TokenLength)
	for len(token) < TokenLength {
		if _, err := crand.Read(raw); err != nil {
			return "", fmt.Errorf("rand read: %w", err)
		}
		for _, b := range raw {
			// rejection sampling, 248 = 4*len(tokenAlphabet),
			// keeps the characters uniformly distributed
			if b >= 248 {
				continue
			}
			token = append(token, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(token) == TokenLength {
				break
			}
		}
	}
	return string(token), nil
}

// DigestToken calculates the SHA-256 digest of token so that it can
// safely be stored in the database. Deterministic and one-way.
func DigestToken(token string) Digest {
	return sha256.Sum256([]byte(token))
}
