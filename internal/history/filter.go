package history

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ParseTime reads a filter bound given either as RFC 3339 or as a UTC
// calendar day. An empty string is the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, eris.Errorf("history: invalid time %q (want RFC 3339 or %s)", s, DayLayout)
	}
	return t, nil
}
