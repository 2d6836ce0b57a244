package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeLimit applies when an assessment has no usable time limit.
const DefaultTimeLimit = 60 * time.Minute

var timeLimitPattern = regexp.MustCompile(`(\d+)\s*([a-zA-Z]*)`)

// TimeLimit is an assessment's time budget. It decodes from a Go duration
// ("45m"), loose text ("30 min", "2 hours") or a JSON number of minutes.
type TimeLimit time.Duration

// ParseTimeLimit reads loose time-limit text. Unparseable input yields
// DefaultTimeLimit.
func ParseTimeLimit(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTimeLimit
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	m := timeLimitPattern.FindStringSubmatch(raw)
	if m == nil {
		return DefaultTimeLimit
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultTimeLimit
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "h"):
		return time.Duration(n) * time.Hour
	case strings.HasPrefix(unit, "s"):
		return time.Duration(n) * time.Second
	default:
		return time.Duration(n) * time.Minute
	}
}

// Duration returns the limit, or DefaultTimeLimit when unset.
func (t TimeLimit) Duration() time.Duration {
	if t <= 0 {
		return DefaultTimeLimit
	}
	return time.Duration(t)
}

func (t TimeLimit) MarshalText() ([]byte, error) {
	return []byte(t.Duration().String()), nil
}

func (t *TimeLimit) UnmarshalText(text []byte) error {
	*t = TimeLimit(ParseTimeLimit(string(text)))
	return nil
}

func (t *TimeLimit) UnmarshalJSON(data []byte) error {
	var minutes float64
	if err := json.Unmarshal(data, &minutes); err == nil {
		if minutes <= 0 {
			*t = TimeLimit(DefaultTimeLimit)
			return nil
		}
		*t = TimeLimit(time.Duration(minutes * float64(time.Minute)))
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("time limit: %w", err)
	}
	return t.UnmarshalText([]byte(raw))
}
