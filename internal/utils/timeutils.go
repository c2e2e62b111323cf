package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// MillisSince reports elapsed wall time since start in whole milliseconds.
func MillisSince(start time.Time) int64 {
	elapsed := time.Since(start)
	if elapsed < 0 {
		return 0
	}
	return elapsed.Milliseconds()
}
