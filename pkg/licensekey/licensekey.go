// Package licensekey generates, validates and decomposes license keys.
//
// Four key layouts are supported:
//
//	standard   PREFIX-XXXX-XXXX-XXXX-XXXX
//	compact    PREFIX-XXXXXXXXXXXX
//	segmented  PREFIX followed by N segments of length L
//	custom     a template such as "EMR-{YEAR}-{RANDOM:6}"
//
// Random characters are drawn from upper case letters and digits.
package licensekey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Strategy string

const (
	Standard  Strategy = "standard"
	Compact   Strategy = "compact"
	Segmented Strategy = "segmented"
	Custom    Strategy = "custom"

	// Unknown is only reported by Parse.
	Unknown Strategy = "unknown"
)

const (
	Charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultPrefix = "MEDI"

	MaxPrefixLength = 10
	MaxBatchSize    = 100
	MaxAttempts     = 10

	// MaxKeyLength is the longest key any strategy may produce. It matches the
	// width of the license_key column.
	MaxKeyLength = 128
)

// Bounds applied to Options before a key is built.
const (
	defaultCompactLength = 12
	minCompactLength     = 8
	maxCompactLength     = 20

	defaultSegmentLength = 4
	minSegmentLength     = 2
	maxSegmentLength     = 8

	defaultSegments = 4
	minSegments     = 2
	maxSegments     = 10

	defaultRandomToken = 4
	maxRandomToken     = 32
)

var (
	ErrUnknownStrategy    = errors.New("unknown key strategy")
	ErrInvalidOptions     = errors.New("invalid key options")
	ErrInvalidBatchSize   = fmt.Errorf("batch size must be between 1 and %d", MaxBatchSize)
	ErrCollisionExhausted = errors.New("license key collision retries exhausted")
)

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

// ParseStrategy maps a strategy name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Standard, Compact, Segmented, Custom:
		return st, nil
	case "":
		return Standard, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Options tunes key layout. Fields a strategy does not use are ignored.
type Options struct {
	Prefix        string `json:"prefix"`
	SegmentLength int    `json:"segment_length"`
	Segments      int    `json:"segments"`
	Length        int    `json:"length"`
	Format        string `json:"format"`
}

// normalize fills defaults and clamps numeric options into their allowed ranges.
// A prefix that is still invalid after upper-casing is an error.
func (o Options) normalize(strategy Strategy) (Options, error) {
	o.Prefix = strings.ToUpper(strings.TrimSpace(o.Prefix))
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if !prefixPattern.MatchString(o.Prefix) {
		return o, fmt.Errorf("%w: prefix must be 1-%d characters of A-Z or 0-9", ErrInvalidOptions, MaxPrefixLength)
	}

	switch strategy {
	case Standard:
		o.Segments, o.SegmentLength = 4, 4
	case Compact:
		o.Length = clamp(o.Length, defaultCompactLength, minCompactLength, maxCompactLength)
	case Segmented:
		o.SegmentLength = clamp(o.SegmentLength, defaultSegmentLength, minSegmentLength, maxSegmentLength)
		o.Segments = clamp(o.Segments, defaultSegments, minSegments, maxSegments)
	case Custom:
		if strings.TrimSpace(o.Format) == "" {
			return o, fmt.Errorf("%w: custom strategy requires a format template", ErrInvalidOptions)
		}
		if n := templateLength(o.Format, o.Prefix); n > MaxKeyLength {
			return o, fmt.Errorf("%w: format produces %d characters, at most %d allowed", ErrInvalidOptions, n, MaxKeyLength)
		}
	default:
		return o, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	return o, nil
}

// clamp returns def for zero, otherwise v bounded to [lo, hi].
func clamp(v, def, lo, hi int) int {
	switch {
	case v == 0:
		return def
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
