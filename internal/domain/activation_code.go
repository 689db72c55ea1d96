package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	ActivationCodeLength = 32
	// Excludes the ambiguous glyphs I, O, 0 and 1.
	activationCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewActivationCode draws ActivationCodeLength symbols from crypto/rand. The
// alphabet has 32 symbols, so masking a byte keeps the draw uniform.
func NewActivationCode() (string, error) {
	raw := make([]byte, ActivationCodeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate activation code: %w", err)
	}
	out := make([]byte, ActivationCodeLength)
	for i, b := range raw {
		out[i] = activationCodeAlphabet[int(b)&(len(activationCodeAlphabet)-1)]
	}
	return string(out), nil
}

func NormalizeActivationCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func ValidActivationCode(code string) bool {
	if len(code) != ActivationCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(activationCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
