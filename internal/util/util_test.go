// Package util_test tests the util package
package util_test

import (
	"testing"
	"time"

	"github.com/osintarchive/archiver/internal/util"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "kilobytes", input: "1KB", want: 1024},
		{name: "fractional megabytes", input: "1.5MB", want: 1572864},
		{name: "short gigabyte unit", input: "5G", want: 5368709120},
		{name: "terabytes", input: "12TB", want: 13194139533312},
		{name: "bare bytes", input: "512", want: 512},
		{name: "explicit byte unit", input: "100B", want: 100},
		{name: "lowercase unit", input: "2mb", want: 2097152},
		{name: "empty", input: "", wantErr: true},
		{name: "missing number", input: "MB", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "negative", input: "-1MB", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := util.ParseSize(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseSize(%q) expected error, got %d", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q) unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input int64
		want  string
	}{
		{100, "100.0B"},
		{1024, "1.0KB"},
		{1572864, "1.5MB"},
		{5368709120, "5.0GB"},
		{13194139533312, "12.0TB"},
	}

	for _, tc := range tests {
		if got := util.FormatSize(tc.input); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParseInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "hours and minutes", input: "1h1m", want: time.Hour + time.Minute},
		{name: "hour and five minutes", input: "1h5m", want: time.Hour + 5*time.Minute},
		{name: "one day", input: "1d", want: 24 * time.Hour},
		{name: "mixed", input: "1d3h10m", want: 24*time.Hour + 3*time.Hour + 10*time.Minute},
		{name: "years and months", input: "1y2mo", want: 365*24*time.Hour + 2*30*24*time.Hour},
		{name: "month before minutes", input: "1mo2m", want: 30*24*time.Hour + 2*time.Minute},
		{name: "minutes before month", input: "2m1mo", want: 30*24*time.Hour + 2*time.Minute},
		{name: "seconds", input: "45s", want: 45 * time.Second},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "soon", wantErr: true},
		{name: "trailing garbage", input: "1dxyz", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := util.ParseInterval(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseInterval(%q) expected error, got %v", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInterval(%q) unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ParseInterval(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input time.Duration
		want  string
	}{
		{time.Second, "1 second"},
		{25 * time.Second, "25 seconds"},
		{time.Minute, "1 minute"},
		{90 * time.Second, "1 minute, 30 seconds"},
		{2 * time.Minute, "2 minutes"},
		{time.Hour, "1 hour"},
		{24 * time.Hour, "1 day"},
		{48 * time.Hour, "2 days"},
		{24*time.Hour + 12*time.Hour + time.Minute + 35*time.Second, "1 day, 12 hours, 1 minute, 35 seconds"},
		{0, "0 seconds"},
	}

	for _, tc := range tests {
		if got := util.FormatInterval(tc.input); got != tc.want {
			t.Errorf("FormatInterval(%v) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
