package detect

import (
	"fmt"
	"strings"
	"time"

	"fdsengine/core"

	"github.com/dlclark/regexp2"
)

// DefaultPatternTimeout bounds a single like/regex match
const DefaultPatternTimeout = 100 * time.Millisecond

// patternMatcher is a regexp2 pattern with a match timeout. regexp2 enforces the
// timeout inside its backtracking loop, which the standard library cannot do.
type patternMatcher struct {
	re *regexp2.Regexp
}

// MatchString implements core.Matcher
func (m *patternMatcher) MatchString(s string) (bool, error) {
	ok, err := m.re.MatchString(s)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return false, fmt.Errorf("%w: %s", core.ErrPatternTimeout, m.re.String())
		}
		return false, err
	}
	return ok, nil
}

// CompileLike converts an SQL LIKE pattern into an anchored full-string matcher.
// '%' matches any run of characters; everything else is literal.
func CompileLike(pattern string, timeout time.Duration) (core.Matcher, error) {
	parts := strings.Split(pattern, "%")
	for i, p := range parts {
		parts[i] = regexp2.Escape(p)
	}
	return compile(`\A(?:`+strings.Join(parts, ".*")+`)\z`, timeout)
}

// CompileRegex anchors pattern at the start of the input only, so "AT" matches
// "ATM001" but "TM" does not.
func CompileRegex(pattern string, timeout time.Duration) (core.Matcher, error) {
	return compile(`\A(?:`+pattern+`)`, timeout)
}

func compile(expr string, timeout time.Duration) (core.Matcher, error) {
	re, err := regexp2.Compile(expr, regexp2.Singleline)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultPatternTimeout
	}
	re.MatchTimeout = timeout
	return &patternMatcher{re: re}, nil
}
