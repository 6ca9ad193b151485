package codegen

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/duowatch/internal/apperr"
)

type seqGenerator struct {
	codes []string
	i     int
}

func (g *seqGenerator) Generate() (string, error) {
	c := g.codes[g.i%len(g.codes)]
	g.i++
	return c, nil
}

func TestRandomGenerator_Shape(t *testing.T) {
	g := NewRandomGenerator()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		c, err := g.Generate()
		require.NoError(t, err)
		assert.True(t, Valid(c), c)
		seen[c] = struct{}{}
	}
	assert.Greater(t, len(seen), 990)
}

func TestRandomGenerator_ShortSource(t *testing.T) {
	g := &RandomGenerator{src: bytes.NewReader([]byte{1, 2})}
	_, err := g.Generate()
	assert.Error(t, err)
}

func TestAllocate_RetriesOnExisting(t *testing.T) {
	gen := &seqGenerator{codes: []string{"AAAAAAAA", "BBBBBBBB", "CCCCCCCC"}}
	taken := map[string]bool{"AAAAAAAA": true, "BBBBBBBB": true}
	var claimed []string

	code, attempts, err := NewAllocator(gen, 5).Allocate(context.Background(),
		func(_ context.Context, c string) (bool, error) { return taken[c], nil },
		func(_ context.Context, c string) error { claimed = append(claimed, c); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "CCCCCCCC", code)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"CCCCCCCC"}, claimed)
}

func TestAllocate_LostClaimRestarts(t *testing.T) {
	gen := &seqGenerator{codes: []string{"AAAAAAAA", "BBBBBBBB"}}
	code, attempts, err := NewAllocator(gen, 5).Allocate(context.Background(),
		func(context.Context, string) (bool, error) { return false, nil },
		func(_ context.Context, c string) error {
			if c == "AAAAAAAA" {
				return ErrTaken
			}
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", code)
	assert.Equal(t, 2, attempts)
}

func TestAllocate_Exhausted(t *testing.T) {
	gen := &seqGenerator{codes: []string{"AAAAAAAA"}}
	_, attempts, err := NewAllocator(gen, 4).Allocate(context.Background(),
		func(context.Context, string) (bool, error) { return true, nil },
		func(context.Context, string) error { return nil },
	)
	assert.ErrorIs(t, err, apperr.ErrCodeAllocationExhausted)
	assert.Equal(t, 4, attempts)
}

func TestAllocate_StoreError(t *testing.T) {
	boom := errors.New("boom")
	gen := &seqGenerator{codes: []string{"AAAAAAAA"}}
	_, _, err := NewAllocator(gen, 4).Allocate(context.Background(),
		func(context.Context, string) (bool, error) { return false, boom },
		func(context.Context, string) error { return nil },
	)
	assert.ErrorIs(t, err, boom)
}

func TestNormalizeAndValid(t *testing.T) {
	assert.Equal(t, "AB12CD34", Normalize("  ab12cd34 "))
	assert.True(t, Valid("AB12CD34"))
	assert.False(t, Valid("ab12cd34"))
	assert.False(t, Valid("AB12CD3"))
	assert.False(t, Valid("AB12CD3!"))
}
