package cachekey

import (
	"regexp"
	"strings"

	"github.com/wisbric/neocache/pkg/cacheerr"
)

// PatternType selects how Pattern.Text is interpreted.
type PatternType string

const (
	PatternExact    PatternType = "EXACT"
	PatternPrefix   PatternType = "PREFIX"
	PatternSuffix   PatternType = "SUFFIX"
	PatternWildcard PatternType = "WILDCARD"
	PatternRegex    PatternType = "REGEX"
)

// maxPatternLength bounds regex complexity/compile cost.
const maxPatternLength = 1024

// Pattern is a compiled matcher used by invalidation and key listing.
type Pattern struct {
	Text          string
	Type          PatternType
	CaseSensitive bool

	compiled *regexp.Regexp // only set for PatternWildcard/PatternRegex
}

// NewPattern validates and compiles a Pattern. REGEX patterns are compiled
// eagerly and rejected here if invalid; WILDCARD patterns are translated to
// an internal regexp at construction time as well.
func NewPattern(text string, typ PatternType, caseSensitive bool) (Pattern, error) {
	if text == "" {
		return Pattern{}, &cacheerr.InvalidPattern{Pattern: text, Cause: errEmptyPattern}
	}
	if len(text) > maxPatternLength {
		return Pattern{}, &cacheerr.InvalidPattern{Pattern: text, Cause: errPatternTooLong}
	}

	p := Pattern{Text: text, Type: typ, CaseSensitive: caseSensitive}

	switch typ {
	case PatternExact, PatternPrefix, PatternSuffix:
		// No compilation needed; matched directly against the key string.
	case PatternWildcard:
		expr := wildcardToRegexp(text)
		re, err := compileWithCase(expr, caseSensitive)
		if err != nil {
			return Pattern{}, &cacheerr.InvalidPattern{Pattern: text, Cause: err}
		}
		p.compiled = re
	case PatternRegex:
		re, err := compileWithCase(text, caseSensitive)
		if err != nil {
			return Pattern{}, &cacheerr.InvalidPattern{Pattern: text, Cause: err}
		}
		p.compiled = re
	default:
		return Pattern{}, &cacheerr.InvalidPattern{Pattern: text, Cause: errUnknownPatternType}
	}

	return p, nil
}

// Match reports whether key satisfies the pattern.
func (p Pattern) Match(key string) bool {
	switch p.Type {
	case PatternExact:
		if p.CaseSensitive {
			return key == p.Text
		}
		return strings.EqualFold(key, p.Text)
	case PatternPrefix:
		if p.CaseSensitive {
			return strings.HasPrefix(key, p.Text)
		}
		return strings.HasPrefix(strings.ToLower(key), strings.ToLower(p.Text))
	case PatternSuffix:
		if p.CaseSensitive {
			return strings.HasSuffix(key, p.Text)
		}
		return strings.HasSuffix(strings.ToLower(key), strings.ToLower(p.Text))
	case PatternWildcard, PatternRegex:
		if p.compiled == nil {
			return false
		}
		return p.compiled.MatchString(key)
	default:
		return false
	}
}

// wildcardToRegexp translates '*' (any run) and '?' (any single char) glob
// syntax into an anchored regular expression, escaping every other
// metacharacter literally.
func wildcardToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

func compileWithCase(expr string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

var (
	errEmptyPattern       = patternErr("pattern text must not be empty")
	errPatternTooLong     = patternErr("pattern exceeds maximum length")
	errUnknownPatternType = patternErr("unknown pattern type")
)

type patternErr string

func (e patternErr) Error() string { return string(e) }
