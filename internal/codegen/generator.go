// Package codegen issues the short partner codes accounts share to invite a
// pairing.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/d60-Lab/duowatch/internal/apperr"
)

const (
	// Length of every partner code.
	Length = 8
	// Alphabet codes are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator produces candidate codes. Uniqueness is not guaranteed.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator draws codes from a cryptographic source.
type RandomGenerator struct {
	src io.Reader
}

func NewRandomGenerator() *RandomGenerator { return &RandomGenerator{src: rand.Reader} }

func (g *RandomGenerator) Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := io.ReadFull(g.src, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}

// ExistsFunc reports whether a code is already claimed.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// ClaimFunc atomically claims a code. It returns ErrTaken when another writer
// got there first.
type ClaimFunc func(ctx context.Context, code string) error

// ErrTaken is returned by a ClaimFunc that lost the race for a code.
var ErrTaken = errors.New("code already taken")

// Allocator finds an unused code with a bounded number of attempts.
type Allocator struct {
	gen         Generator
	maxAttempts int
}

func NewAllocator(gen Generator, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = 16
	}
	return &Allocator{gen: gen, maxAttempts: maxAttempts}
}

// Allocate generates candidates until one passes the existence check and is
// claimed. Both a failed check and a lost claim consume an attempt; running
// out returns apperr.ErrCodeAllocationExhausted.
func (a *Allocator) Allocate(ctx context.Context, exists ExistsFunc, claim ClaimFunc) (code string, attempts int, err error) {
	for attempts = 1; attempts <= a.maxAttempts; attempts++ {
		if err := ctx.Err(); err != nil {
			return "", attempts, err
		}
		candidate, err := a.gen.Generate()
		if err != nil {
			return "", attempts, err
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", attempts, err
		}
		if taken {
			continue
		}
		err = claim(ctx, candidate)
		if errors.Is(err, ErrTaken) {
			continue
		}
		if err != nil {
			return "", attempts, err
		}
		return candidate, attempts, nil
	}
	return "", a.maxAttempts, fmt.Errorf("%w after %d attempts", apperr.ErrCodeAllocationExhausted, a.maxAttempts)
}

// Normalize canonicalises user-supplied codes.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code has the expected shape.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}
