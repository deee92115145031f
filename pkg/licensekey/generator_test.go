package licensekey

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestGenerateCompactKeysAreUnique(t *testing.T) {
	g := NewGenerator(nil)
	ctx := context.Background()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		key, err := g.Generate(ctx, Compact, Options{})
		require.NoError(t, err)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestGeneratedKeysMatchTheirFormat(t *testing.T) {
	fixed := time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(nil, WithClock(func() time.Time { return fixed }))

	cases := []struct {
		name     string
		strategy Strategy
		opts     Options
		pattern  string
	}{
		{"standard default", Standard, Options{}, `^MEDI(-[A-Z0-9]{4}){4}$`},
		{"standard custom prefix", Standard, Options{Prefix: "acme"}, `^ACME(-[A-Z0-9]{4}){4}$`},
		{"standard ignores segment options", Standard, Options{Segments: 7, SegmentLength: 2}, `^MEDI(-[A-Z0-9]{4}){4}$`},
		{"compact default", Compact, Options{}, `^MEDI-[A-Z0-9]{12}$`},
		{"compact length 16", Compact, Options{Prefix: "EMR", Length: 16}, `^EMR-[A-Z0-9]{16}$`},
		{"compact length clamped low", Compact, Options{Length: 3}, `^MEDI-[A-Z0-9]{8}$`},
		{"compact length clamped high", Compact, Options{Length: 64}, `^MEDI-[A-Z0-9]{20}$`},
		{"segmented default", Segmented, Options{}, `^MEDI(-[A-Z0-9]{4}){4}$`},
		{"segmented 6x3", Segmented, Options{Segments: 6, SegmentLength: 3}, `^MEDI(-[A-Z0-9]{3}){6}$`},
		{"segmented clamped", Segmented, Options{Segments: 40, SegmentLength: 1}, `^MEDI(-[A-Z0-9]{2}){10}$`},
		{"custom year and random", Custom, Options{Format: "EMR-{YEAR}-{RANDOM:6}"}, `^EMR-2026-[A-Z0-9]{6}$`},
		{"custom month and prefix", Custom, Options{Prefix: "CLN", Format: "{PREFIX}/{MONTH}/{RANDOM}"}, `^CLN/03/[A-Z0-9]{4}$`},
		{"custom unknown placeholder kept", Custom, Options{Format: "K{FOO}{RANDOM:10}"}, `^K\{FOO\}[A-Z0-9]{10}$`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				key, err := g.Generate(context.Background(), tc.strategy, tc.opts)
				require.NoError(t, err)
				assert.Regexp(t, tc.pattern, key)
				assert.True(t, ValidateFormat(key, tc.strategy, tc.opts), "key %s", key)
			}
		})
	}
}

func TestGenerateRejectsInvalidOptions(t *testing.T) {
	g := NewGenerator(nil)
	ctx := context.Background()

	_, err := g.Generate(ctx, Standard, Options{Prefix: "ME-DI"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = g.Generate(ctx, Standard, Options{Prefix: "ABCDEFGHIJK"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = g.Generate(ctx, Custom, Options{Format: "  "})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = g.Generate(ctx, Strategy("qr"), Options{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestGeneratedKeysFitMaxKeyLength(t *testing.T) {
	g := NewGenerator(nil)
	ctx := context.Background()

	key, err := g.Generate(ctx, Segmented, Options{Prefix: "ABCDEFGHIJ", Segments: 10, SegmentLength: 8})
	require.NoError(t, err)
	assert.Len(t, key, 100)
	assert.LessOrEqual(t, len(key), MaxKeyLength)

	full := strings.Repeat("{RANDOM:32}", 4)
	key, err = g.Generate(ctx, Custom, Options{Format: full})
	require.NoError(t, err)
	assert.Len(t, key, MaxKeyLength)

	_, err = g.Generate(ctx, Custom, Options{Format: full + "X"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = g.Generate(ctx, Custom, Options{Format: strings.Repeat("{RANDOM:32}", 10)})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = g.Generate(ctx, Custom, Options{Prefix: "ABCDEFGHIJ", Format: strings.Repeat("{PREFIX}", 13)})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestGenerateRerollsOnCollision(t *testing.T) {
	calls := 0
	exists := func(context.Context, string) (bool, error) {
		calls++
		return calls < 3, nil
	}
	g := NewGenerator(exists)

	key, err := g.Generate(context.Background(), Standard, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, ValidateFormat(key, Standard, Options{}))
}

func TestGenerateGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	exists := func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	}
	g := NewGenerator(exists)

	_, err := g.Generate(context.Background(), Compact, Options{Length: 8})
	require.ErrorIs(t, err, ErrCollisionExhausted)
	assert.Equal(t, MaxAttempts, calls)
}

func TestGenerateSurfacesStoreErrors(t *testing.T) {
	storeErr := errors.New("connection reset")
	g := NewGenerator(func(context.Context, string) (bool, error) { return false, storeErr })

	_, err := g.Generate(context.Background(), Standard, Options{})
	require.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrCollisionExhausted)
}

func TestGenerateMultiple(t *testing.T) {
	g := NewGenerator(nil)
	ctx := context.Background()

	keys, err := g.GenerateMultiple(ctx, 100, Segmented, Options{Prefix: "BULK", Segments: 3})
	require.NoError(t, err)
	require.Len(t, keys, 100)

	seen := make(map[string]struct{})
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "BULK-"))
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, 100)

	_, err = g.GenerateMultiple(ctx, 0, Standard, Options{})
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	_, err = g.GenerateMultiple(ctx, MaxBatchSize+1, Standard, Options{})
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestGenerateMultipleRejectsDuplicatesWithinBatch(t *testing.T) {
	// A constant entropy source yields the same candidate every time.
	g := NewGenerator(nil, WithRandom(zeroReader{}))

	keys, err := g.GenerateMultiple(context.Background(), 1, Standard, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"MEDI-AAAA-AAAA-AAAA-AAAA"}, keys)

	_, err = g.GenerateMultiple(context.Background(), 2, Standard, Options{})
	assert.ErrorIs(t, err, ErrCollisionExhausted)
}

func TestGenerateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGenerator(nil).Generate(ctx, Standard, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Compact ")
	require.NoError(t, err)
	assert.Equal(t, Compact, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Standard, s)

	_, err = ParseStrategy("barcode")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
