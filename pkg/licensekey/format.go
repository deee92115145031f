package licensekey

import (
	"regexp"
	"strconv"
	"strings"
)

const anyPrefix = `[A-Z0-9]{1,10}`

// ValidateFormat checks the structure of key against strategy and options. It does
// not consult storage. An empty prefix option accepts any well-formed prefix.
func ValidateFormat(key string, strategy Strategy, opts Options) bool {
	prefix := anyPrefix
	if p := strings.ToUpper(strings.TrimSpace(opts.Prefix)); p != "" {
		if !prefixPattern.MatchString(p) {
			return false
		}
		prefix = regexp.QuoteMeta(p)
		opts.Prefix = p
	}
	norm, err := opts.normalize(strategy)
	if err != nil {
		return false
	}

	var pattern *regexp.Regexp
	switch strategy {
	case Standard, Segmented:
		pattern = regexp.MustCompile(`^` + prefix + `(?:-[A-Z0-9]{` + strconv.Itoa(norm.SegmentLength) + `}){` + strconv.Itoa(norm.Segments) + `}$`)
	case Compact:
		pattern = regexp.MustCompile(`^` + prefix + `-[A-Z0-9]{` + strconv.Itoa(norm.Length) + `}$`)
	case Custom:
		pattern = templatePattern(norm.Format, prefix)
	default:
		return false
	}
	return pattern.MatchString(key)
}

// Parsed is a best-effort decomposition of a key for display and debugging.
type Parsed struct {
	Key           string   `json:"key"`
	Prefix        string   `json:"prefix"`
	Segments      []string `json:"segments"`
	SegmentLength int      `json:"segment_length"`
	Strategy      Strategy `json:"strategy_guess"`
}

// Parse never fails. Keys that fit none of the built-in layouts come back with
// Strategy Unknown and no prefix or segments.
func Parse(key string) Parsed {
	key = strings.TrimSpace(key)
	unknown := Parsed{Key: key, Segments: []string{}, Strategy: Unknown}

	parts := strings.Split(key, "-")
	if len(parts) < 2 || !prefixPattern.MatchString(parts[0]) {
		return unknown
	}
	for _, p := range parts[1:] {
		if p == "" || strings.Trim(p, Charset) != "" {
			return unknown
		}
	}

	prefix, segs := parts[0], parts[1:]
	parsed := Parsed{Key: key, Prefix: prefix, Segments: segs, SegmentLength: len(segs[0])}
	switch {
	case len(segs) == 4 && uniformLength(segs, 4):
		parsed.Strategy = Standard
	case len(segs) == 1 && len(segs[0]) >= minCompactLength && len(segs[0]) <= maxCompactLength:
		parsed.Strategy = Compact
	case len(segs) >= minSegments && len(segs) <= maxSegments &&
		len(segs[0]) >= minSegmentLength && len(segs[0]) <= maxSegmentLength &&
		uniformLength(segs, len(segs[0])):
		parsed.Strategy = Segmented
	default:
		return unknown
	}
	return parsed
}

func uniformLength(segs []string, n int) bool {
	for _, s := range segs {
		if len(s) != n {
			return false
		}
	}
	return true
}

// Mask hides everything but the prefix and the last four characters.
func Mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	start := strings.IndexByte(key, '-') + 1
	if start <= 0 || start > len(key)-4 {
		start = 4
	}
	b := []byte(key)
	for i := start; i < len(b)-4; i++ {
		if b[i] != '-' {
			b[i] = '*'
		}
	}
	return string(b)
}
