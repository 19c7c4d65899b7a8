package main

import (
	"testing"
	"time"
)

func TestParseRangeArgsExplicit(t *testing.T) {
	start, end, rest, err := parseRangeArgs("events", []string{
		"--start", "2026-03-01T00:00:00Z", "--end", "2026-03-08T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %v", end)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %v", rest)
	}
}

func TestParseRangeArgsDefaultsToTwoWeeks(t *testing.T) {
	start, end, _, err := parseRangeArgs("events", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := end.Sub(start); got != 14*24*time.Hour {
		t.Fatalf("window = %s, want 336h", got)
	}
}

func TestParseRangeArgsRejectsBadTimestamps(t *testing.T) {
	if _, _, _, err := parseRangeArgs("events", []string{
		"--start", "yesterday", "--end", "2026-03-08T00:00:00Z",
	}); err == nil {
		t.Fatalf("bad start accepted")
	}
	if _, _, _, err := parseRangeArgs("events", []string{
		"--start", "2026-03-01T00:00:00Z", "--end", "",
	}); err == nil {
		t.Fatalf("empty end accepted")
	}
}
