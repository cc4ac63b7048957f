// Package ids generates identifiers for connections, devices, pairs,
// transfers and pairing tokens.
//
// Token values use the alphabet ABCDEFGHJKLMNPQRSTUVWXYZ23456789
// (no ambiguous characters: 0, O, 1, I, L). The alphabet has 32 symbols,
// so reducing a random byte modulo its length is unbiased.
package ids

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// CodeAlphabet excludes ambiguous characters (0, O, 1, I, L).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Generator produces identifiers. Token values must be unguessable.
type Generator interface {
	NewID() string
	NewCode(length int) (string, error)
}

// Random is the production Generator: UUIDv4 ids and crypto/rand codes.
type Random struct{}

func (Random) NewID() string { return uuid.NewString() }

func (Random) NewCode(length int) (string, error) {
	return Code(length)
}

// Code returns a random code of the given length drawn from CodeAlphabet.
func Code(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	code := make([]byte, length)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code), nil
}
