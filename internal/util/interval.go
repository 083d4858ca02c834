package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Day   = 24 * time.Hour
	Month = 30 * Day
	Year  = 365 * Day
)

var intervalRe = regexp.MustCompile(`(\d+)(mo|y|d|h|m|s)`)

// ParseInterval converts an interval string such as "1d3h10m" or "1y2mo"
// into a duration. Supported units: y (365 days), mo (30 days), d, h, m, s.
// Components may appear in any order and are summed.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty interval string")
	}

	matches := intervalRe.FindAllStringSubmatch(s, -1)
	if matches == nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}

	var matched int
	var total time.Duration
	for _, m := range matches {
		matched += len(m[0])
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
		switch m[2] {
		case "y":
			total += time.Duration(n) * Year
		case "mo":
			total += time.Duration(n) * Month
		case "d":
			total += time.Duration(n) * Day
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}
	if matched != len(s) {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return total, nil
}

// FormatInterval renders a duration as a human-readable string, e.g.
// 90s -> "1 minute, 30 seconds". Sub-second precision is discarded.
func FormatInterval(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds < 1 {
		return "0 seconds"
	}

	units := []struct {
		name    string
		seconds int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	var parts []string
	for _, u := range units {
		if n := seconds / u.seconds; n > 0 {
			name := u.name
			if n != 1 {
				name += "s"
			}
			parts = append(parts, fmt.Sprintf("%d %s", n, name))
			seconds %= u.seconds
		}
	}
	return strings.Join(parts, ", ")
}
