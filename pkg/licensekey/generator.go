package licensekey

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExistsFunc reports whether a key has already been issued.
type ExistsFunc func(ctx context.Context, key string) (bool, error)

// Generator builds keys that are unique against an issued-key store.
type Generator struct {
	exists      ExistsFunc
	random      io.Reader
	now         func() time.Time
	maxAttempts int
}

type GeneratorOption func(*Generator)

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) GeneratorOption {
	return func(g *Generator) { g.random = r }
}

// WithClock sets the time source used by {YEAR} and {MONTH}.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithMaxAttempts bounds the re-rolls spent on a single key.
func WithMaxAttempts(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// NewGenerator returns a Generator. A nil exists treats every key as unused.
func NewGenerator(exists ExistsFunc, opts ...GeneratorOption) *Generator {
	if exists == nil {
		exists = func(context.Context, string) (bool, error) { return false, nil }
	}
	g := &Generator{
		exists:      exists,
		random:      rand.Reader,
		now:         time.Now,
		maxAttempts: MaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns one key not present in the issued-key store.
func (g *Generator) Generate(ctx context.Context, strategy Strategy, opts Options) (string, error) {
	keys, err := g.GenerateMultiple(ctx, 1, strategy, opts)
	if err != nil {
		return "", err
	}
	return keys[0], nil
}

// GenerateMultiple returns count keys, distinct from each other and from the store.
func (g *Generator) GenerateMultiple(ctx context.Context, count int, strategy Strategy, opts Options) ([]string, error) {
	if count < 1 || count > MaxBatchSize {
		return nil, ErrInvalidBatchSize
	}
	norm, err := opts.normalize(strategy)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(keys) < count {
		key, err := g.unique(ctx, strategy, norm, seen)
		if err != nil {
			return nil, err
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

func (g *Generator) unique(ctx context.Context, strategy Strategy, opts Options, seen map[string]struct{}) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		key, err := g.build(strategy, opts)
		if err != nil {
			return "", err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		taken, err := g.exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to check key uniqueness: %w", err)
		}
		if !taken {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts (strategy %s)", ErrCollisionExhausted, g.maxAttempts, strategy)
}

// build assembles one candidate from already normalized options.
func (g *Generator) build(strategy Strategy, opts Options) (string, error) {
	switch strategy {
	case Standard, Segmented:
		parts := make([]string, 0, opts.Segments+1)
		parts = append(parts, opts.Prefix)
		for i := 0; i < opts.Segments; i++ {
			seg, err := g.randomString(opts.SegmentLength)
			if err != nil {
				return "", err
			}
			parts = append(parts, seg)
		}
		return strings.Join(parts, "-"), nil
	case Compact:
		block, err := g.randomString(opts.Length)
		if err != nil {
			return "", err
		}
		return opts.Prefix + "-" + block, nil
	case Custom:
		return g.fillTemplate(opts)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

func (g *Generator) fillTemplate(opts Options) (string, error) {
	now := g.now()
	var b strings.Builder
	for _, t := range tokenize(opts.Format) {
		switch t.kind {
		case tokenLiteral:
			b.WriteString(t.text)
		case tokenRandom:
			s, err := g.randomString(t.width)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		case tokenYear:
			fmt.Fprintf(&b, "%04d", now.Year())
		case tokenMonth:
			fmt.Fprintf(&b, "%02d", int(now.Month()))
		case tokenPrefix:
			b.WriteString(opts.Prefix)
		}
	}
	return b.String(), nil
}

// randomString draws n characters from Charset without modulo bias.
func (g *Generator) randomString(n int) (string, error) {
	const limit = 256 - 256%len(Charset)
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2+4)
	for len(out) < n {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, Charset[int(b)%len(Charset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
