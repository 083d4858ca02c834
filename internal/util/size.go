// Package util provides small parsing and formatting helpers for
// human-readable byte sizes and time intervals used in configuration.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"T", 1 << 40},
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
	{"B", 1},
}

// ParseSize converts a human-readable size such as "1.5MB", "5G" or "512"
// into a byte count. Units are binary (1KB = 1024 bytes) and matched
// case-insensitively. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	upper := strings.ToUpper(s)
	for _, u := range sizeUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		num := strings.TrimSpace(upper[:len(upper)-len(u.suffix)])
		if num == "" {
			return 0, fmt.Errorf("invalid size %q: missing number", s)
		}
		val, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}
		if val < 0 {
			return 0, fmt.Errorf("invalid size %q: negative", s)
		}
		return int64(val * float64(u.factor)), nil
	}

	val, err := strconv.ParseInt(upper, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return val, nil
}

// FormatSize renders a byte count as a human-readable string with one
// decimal place, e.g. 1572864 -> "1.5MB".
func FormatSize(bytes int64) string {
	value := float64(bytes)
	for _, suffix := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024 || suffix == "TB" {
			return fmt.Sprintf("%.1f%s", value, suffix)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1fTB", value)
}
