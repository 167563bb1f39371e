package models

import (
	"fmt"
	"strings"
	"time"
)

// JSONTime wraps time.Time so timestamps cross the wire as RFC3339 strings,
// matching what the UI layer and the server exchange.
type JSONTime time.Time

// Now returns the current instant as a JSONTime.
func Now() JSONTime {
	return JSONTime(time.Now())
}

func (jt JSONTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Time(jt).UTC().Format(time.RFC3339Nano))), nil
}

func (jt *JSONTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	if s == "null" || s == "" {
		*jt = JSONTime(time.Time{})
		return nil
	}

	var lastErr error
	for _, format := range []string{time.RFC3339Nano, time.RFC3339} {
		t, err := time.Parse(format, s)
		if err == nil {
			*jt = JSONTime(t)
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("parse timestamp %q: %w", s, lastErr)
}

func (jt JSONTime) Time() time.Time {
	return time.Time(jt)
}

func (jt JSONTime) IsZero() bool {
	return time.Time(jt).IsZero()
}
