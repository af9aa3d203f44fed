package directory

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeAlphabet leaves out characters that are easy to misread (I, O, 0, 1).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	CodeLength         = 6
	FallbackCodeLength = 8
	codeAttempts       = 10
)

func GenerateCode(n int) (string, error) {
	code := make([]byte, n)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(CodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[num.Int64()]
	}
	return string(code), nil
}

// NormalizeCode makes lookups case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
