package recorder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher decides whether a channel or tweakable name satisfies a
// configuration pattern, per spec.md §4.3.
type Matcher interface {
	Match(name string) bool
	String() string
}

// regexMatcher wraps a compiled regular expression.
type regexMatcher struct {
	src string
	re  *regexp.Regexp
}

func (m regexMatcher) Match(name string) bool { return m.re.MatchString(name) }
func (m regexMatcher) String() string         { return m.src }

// globMatcher wraps a gobwas/glob pattern (`*` and `?` wildcards).
type globMatcher struct {
	src string
	g   glob.Glob
}

func (m globMatcher) Match(name string) bool { return m.g.Match(name) }
func (m globMatcher) String() string         { return m.src }

// literalMatcher is a fast path for patterns with no wildcard characters,
// avoiding a glob/regexp compile for the overwhelmingly common case of a
// clause that names one exact channel.
type literalMatcher string

func (m literalMatcher) Match(name string) bool { return name == string(m) }
func (m literalMatcher) String() string         { return string(m) }

// compilePattern implements spec.md §4.3's pattern syntax: "regular
// expressions when available, otherwise simple glob (*, ?)". Go always
// has regexp available, so regex is the default here, matching how
// original_source/recorder.c picks regex whenever HAVE_REGEX_H is
// defined, which it normally is; glob is the opt-in fallback via a
// "glob:" prefix for callers who want the simpler wildcard language.
func compilePattern(pattern string) (Matcher, error) {
	if rest, ok := strings.CutPrefix(pattern, "glob:"); ok {
		g, err := glob.Compile(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", rest, err)
		}
		return globMatcher{src: rest, g: g}, nil
	}

	if !strings.ContainsAny(pattern, `.^$*+?()[]{}|\`) {
		return literalMatcher(pattern), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
	}
	return regexMatcher{src: pattern, re: re}, nil
}
