package main

import (
	"context"
	"testing"
	"time"

	"github.com/practicehub/calsync/internal/calsync"
	"github.com/practicehub/calsync/internal/config"
)

func TestScheduledRange(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	rng := scheduledRange(now, 14)
	if err := rng.Validate(); err != nil {
		t.Fatalf("invalid range: %v", err)
	}
	wantStart := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)
	if !rng.Start.Equal(wantStart) || !rng.End.Equal(wantEnd) {
		t.Fatalf("range = %v..%v, want %v..%v", rng.Start, rng.End, wantStart, wantEnd)
	}

	// A horizon narrower than the lookback still yields a valid window.
	rng = scheduledRange(now, 3)
	if err := rng.Validate(); err != nil {
		t.Fatalf("narrow horizon: %v", err)
	}
	if !rng.End.After(rng.Start) {
		t.Fatalf("narrow horizon range: %v..%v", rng.Start, rng.End)
	}
}

func TestEnvTokenProviderRereadsEnv(t *testing.T) {
	t.Setenv("CALSYNC_TEST_TOKEN", "first")
	provider := envTokenProvider("CALSYNC_TEST_TOKEN")

	token, err := provider(context.Background())
	if err != nil || token != "first" {
		t.Fatalf("token = %q, %v", token, err)
	}

	t.Setenv("CALSYNC_TEST_TOKEN", "  rotated  ")
	token, err = provider(context.Background())
	if err != nil || token != "rotated" {
		t.Fatalf("rotated token = %q, %v", token, err)
	}
}

func TestBuildAdapters(t *testing.T) {
	t.Setenv("CALSYNC_PRACTICE_TOKEN", "")
	store := calsync.NewStore()

	cfg := config.DefaultConfig()
	adapters := buildAdapters(cfg, store)
	if len(adapters) != 1 {
		t.Fatalf("no feeds, no practice token: %d adapters, want 1 (manual)", len(adapters))
	}

	cfg.Feeds = []config.FeedConfig{{CalendarID: "cal-1", URL: "https://calendar.example/feed.ics"}}
	t.Setenv("CALSYNC_PRACTICE_TOKEN", "tok")
	adapters = buildAdapters(cfg, store)
	if len(adapters) != 3 {
		t.Fatalf("feeds + practice token: %d adapters, want 3", len(adapters))
	}

	sources := map[calsync.Source]bool{}
	for _, a := range adapters {
		sources[a.Source()] = true
	}
	for _, want := range []calsync.Source{calsync.SourceManual, calsync.SourceRemoteCalendar, calsync.SourcePractice} {
		if !sources[want] {
			t.Fatalf("missing adapter for %s: %v", want, sources)
		}
	}
}

func TestBuildClassifierAndMergerFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Classifier.ScoreThreshold = 1
	cfg.Merge.CollisionPriority = "remote-calendar"

	classifier := buildClassifier(cfg)
	e := calsync.Event{
		ID:        "x",
		Title:     "Jane Doe",
		StartTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Source:    calsync.SourceRemoteCalendar,
	}
	if got := classifier.Classify(e); got.Source != calsync.SourcePractice {
		t.Fatalf("threshold 1 did not relabel single-indicator event")
	}

	if buildMerger(cfg) == nil {
		t.Fatalf("nil merger")
	}
}
