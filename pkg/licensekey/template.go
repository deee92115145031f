package licensekey

import (
	"regexp"
	"strconv"
	"strings"
)

// Placeholders understood by custom templates. Anything else is copied literally.
//
//	{RANDOM}    4 random characters
//	{RANDOM:N}  N random characters (1-32)
//	{YEAR}      four digit year
//	{MONTH}     two digit month
//	{PREFIX}    the normalized prefix option
var placeholderPattern = regexp.MustCompile(`\{([A-Z]+)(?::(\d+))?\}`)

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenRandom
	tokenYear
	tokenMonth
	tokenPrefix
)

type token struct {
	kind  tokenKind
	text  string
	width int
}

func tokenize(format string) []token {
	var tokens []token
	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(format, -1) {
		if m[0] > last {
			tokens = append(tokens, token{kind: tokenLiteral, text: format[last:m[0]]})
		}
		name := format[m[2]:m[3]]
		arg := ""
		if m[4] >= 0 {
			arg = format[m[4]:m[5]]
		}
		tokens = append(tokens, placeholder(name, arg, format[m[0]:m[1]]))
		last = m[1]
	}
	if last < len(format) {
		tokens = append(tokens, token{kind: tokenLiteral, text: format[last:]})
	}
	return tokens
}

func placeholder(name, arg, raw string) token {
	switch name {
	case "RANDOM":
		width := defaultRandomToken
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return token{kind: tokenLiteral, text: raw}
			}
			width = clamp(n, defaultRandomToken, 1, maxRandomToken)
		}
		return token{kind: tokenRandom, width: width}
	case "YEAR":
		if arg == "" {
			return token{kind: tokenYear}
		}
	case "MONTH":
		if arg == "" {
			return token{kind: tokenMonth}
		}
	case "PREFIX":
		if arg == "" {
			return token{kind: tokenPrefix}
		}
	}
	return token{kind: tokenLiteral, text: raw}
}

// templateLength is the length in bytes of every key the template produces.
func templateLength(format, prefix string) int {
	n := 0
	for _, t := range tokenize(format) {
		switch t.kind {
		case tokenLiteral:
			n += len(t.text)
		case tokenRandom:
			n += t.width
		case tokenYear:
			n += 4
		case tokenMonth:
			n += 2
		case tokenPrefix:
			n += len(prefix)
		}
	}
	return n
}

// templatePattern compiles a template into an anchored expression matching every
// key the template can produce. prefix is already a regular expression.
func templatePattern(format, prefix string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, t := range tokenize(format) {
		switch t.kind {
		case tokenLiteral:
			b.WriteString(regexp.QuoteMeta(t.text))
		case tokenRandom:
			b.WriteString("[A-Z0-9]{" + strconv.Itoa(t.width) + "}")
		case tokenYear:
			b.WriteString(`\d{4}`)
		case tokenMonth:
			b.WriteString(`(?:0[1-9]|1[0-2])`)
		case tokenPrefix:
			b.WriteString("(?:" + prefix + ")")
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
