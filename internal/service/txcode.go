package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// codeAlphabet leaves out characters that are easy to mistype: 0/O, 1/I/L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	defaultCodeLength      = 8
	defaultCodeMaxAttempts = 5
)

// CodeGenerator produces candidate transaction codes
type CodeGenerator func() (string, error)

// NewCodeGenerator returns a generator of random codes of the given length
func NewCodeGenerator(length int) CodeGenerator {
	if length <= 0 {
		length = defaultCodeLength
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	return func() (string, error) {
		buf := make([]byte, length)
		for i := range buf {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to generate transaction code: %w", err)
			}
			buf[i] = codeAlphabet[n.Int64()]
		}
		return string(buf), nil
	}
}
