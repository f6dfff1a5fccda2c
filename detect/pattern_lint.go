package detect

import (
	"fmt"
	"strconv"
	"strings"
)

// Load-time limits for regex leaves
const (
	MaxPatternLength   = 1000
	MaxRepetitionBound = 1000
)

// LintRegex reports constructs in a regex pattern that are prone to
// catastrophic backtracking: an unbounded quantifier applied to a group that
// itself contains one, e.g. (a+)+ or ([0-9]+,)*, repetition bounds above
// MaxRepetitionBound, and overlong patterns. The match timeout still bounds
// such patterns at evaluation time.
func LintRegex(pattern string) []string {
	var issues []string
	if len(pattern) > MaxPatternLength {
		issues = append(issues, fmt.Sprintf("pattern length %d exceeds %d", len(pattern), MaxPatternLength))
	}

	// one entry per open group: whether it contains an unbounded quantifier
	var groups []bool
	markOpen := func() {
		if len(groups) > 0 {
			groups[len(groups)-1] = true
		}
	}
	checkBound := func(q quantifier, at int) {
		if q.bound > MaxRepetitionBound {
			issues = append(issues, fmt.Sprintf("repetition bound %d at offset %d exceeds %d", q.bound, at, MaxRepetitionBound))
		}
	}

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '[':
			i = skipClass(pattern, i)
		case '(':
			groups = append(groups, false)
			if i+1 < len(pattern) && pattern[i+1] == '?' {
				i++
			}
		case ')':
			if len(groups) == 0 {
				continue
			}
			inner := groups[len(groups)-1]
			groups = groups[:len(groups)-1]

			q, ok := quantifierAt(pattern, i+1)
			if !ok {
				if inner {
					markOpen()
				}
				continue
			}
			if q.unbounded && inner {
				issues = append(issues, fmt.Sprintf("nested unbounded quantifier at offset %d", i+1))
			}
			checkBound(q, i+1)
			if inner || q.unbounded {
				markOpen()
			}
			i += q.width
		default:
			q, ok := quantifierAt(pattern, i)
			if !ok {
				continue
			}
			checkBound(q, i)
			if q.unbounded {
				markOpen()
			}
			i += q.width - 1
		}
	}
	return issues
}

type quantifier struct {
	unbounded bool
	bound     int
	width     int
}

// quantifierAt parses *, +, ?, {n}, {n,} or {n,m} (with an optional lazy ?) at p[i]
func quantifierAt(p string, i int) (quantifier, bool) {
	if i >= len(p) {
		return quantifier{}, false
	}

	var q quantifier
	switch p[i] {
	case '*', '+':
		q = quantifier{unbounded: true, width: 1}
	case '?':
		q = quantifier{bound: 1, width: 1}
	case '{':
		end := strings.IndexByte(p[i:], '}')
		if end < 0 {
			return q, false
		}
		lo, hi, hasComma := strings.Cut(p[i+1:i+end], ",")
		n, err := strconv.Atoi(lo)
		if err != nil {
			return quantifier{}, false
		}
		q = quantifier{bound: n, width: end + 1}
		if hasComma {
			if hi == "" {
				q.unbounded = true
			} else if m, err := strconv.Atoi(hi); err == nil {
				q.bound = m
			} else {
				return quantifier{}, false
			}
		}
	default:
		return q, false
	}

	if j := i + q.width; j < len(p) && p[j] == '?' {
		q.width++
	}
	return q, true
}

// skipClass returns the index of the ] closing the character class opened at p[i]
func skipClass(p string, i int) int {
	j := i + 1
	if j < len(p) && p[j] == '^' {
		j++
	}
	if j < len(p) && p[j] == ']' {
		j++
	}
	for ; j < len(p); j++ {
		switch p[j] {
		case '\\':
			j++
		case ']':
			return j
		}
	}
	return len(p) - 1
}
