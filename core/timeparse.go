package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTimestampLayout is the layout transaction timestamps are written in
const DefaultTimestampLayout = "2006-01-02 15:04:05"

// DefaultTimestampLayouts are tried in order when no layouts are configured
var DefaultTimestampLayouts = []string{
	DefaultTimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// TimeParser parses transaction timestamps against a list of layouts.
// The same timestamp string is typically parsed once per leaf per window
// transaction, so successful parses are memoized in an LRU.
type TimeParser struct {
	layouts []string
	loc     *time.Location
	cache   *lru.Cache[string, time.Time]
}

// NewTimeParser creates a parser. Layout-less timestamps are interpreted in loc
// (UTC when nil). cacheSize <= 0 disables memoization.
func NewTimeParser(layouts []string, loc *time.Location, cacheSize int) (*TimeParser, error) {
	if len(layouts) == 0 {
		layouts = DefaultTimestampLayouts
	}
	if loc == nil {
		loc = time.UTC
	}
	p := &TimeParser{layouts: layouts, loc: loc}
	if cacheSize > 0 {
		cache, err := lru.New[string, time.Time](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create timestamp cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// MustNewTimeParser is NewTimeParser for tests and defaults
func MustNewTimeParser(layouts []string, loc *time.Location, cacheSize int) *TimeParser {
	p, err := NewTimeParser(layouts, loc, cacheSize)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse converts a transaction field value into a time. Strings are matched
// against the configured layouts; time.Time values pass through.
func (p *TimeParser) Parse(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return p.parseString(t)
	case nil:
		return time.Time{}, ErrMissingField
	}
	return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrTimestampParse, v)
}

func (p *TimeParser) parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if p.cache != nil {
		if t, ok := p.cache.Get(s); ok {
			return t, nil
		}
	}
	for _, layout := range p.layouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			if p.cache != nil {
				p.cache.Add(s, t)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrTimestampParse, s)
}

// maxLookback keeps anchor-lookback arithmetic within time.Duration
const maxLookback = time.Duration(math.MaxInt64)

// ParseLookback converts a lookback_period value into a duration. Accepted forms
// are a bare number of seconds (int or numeric string) or an integer with one of
// the suffixes s, m, h, d. Empty and nil mean zero.
func ParseLookback(v interface{}) (time.Duration, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		return parseLookbackString(x)
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("unsupported lookback type %T", v)
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("invalid lookback %v", v)
	}
	if f < 0 {
		return 0, fmt.Errorf("lookback must not be negative: %v", v)
	}
	if f > float64(maxLookback/time.Second) {
		return 0, fmt.Errorf("lookback too large: %v", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parseLookbackString(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, nil
	}
	s = raw
	unit := time.Second
	switch s[len(s)-1] {
	case 's':
		s = s[:len(s)-1]
	case 'm':
		unit, s = time.Minute, s[:len(s)-1]
	case 'h':
		unit, s = time.Hour, s[:len(s)-1]
	case 'd':
		unit, s = 24*time.Hour, s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lookback %q: %w", raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("lookback must not be negative: %d", n)
	}
	if n > int64(maxLookback/unit) {
		return 0, fmt.Errorf("lookback too large: %q", raw)
	}
	return time.Duration(n) * unit, nil
}
