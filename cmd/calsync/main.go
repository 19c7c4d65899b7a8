package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/practicehub/calsync/internal/calsync"
	"github.com/practicehub/calsync/internal/config"
	"github.com/practicehub/calsync/internal/httpapi"
	"github.com/practicehub/calsync/internal/log"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", err, "path", *configPath)
		os.Exit(1)
	}
	log.SetLevel(cfg.LogLevel)

	backend, err := calsync.BuildStateBackendFromDSN(cfg.StateDSN)
	if err != nil {
		log.Error("failed to initialize state backend", err, "dsn", cfg.StateDSN)
		os.Exit(1)
	}
	store := calsync.NewStoreWithOptions(calsync.StoreOptions{StateBackend: backend})

	syncer := calsync.NewSyncer(calsync.SyncerOptions{
		Store:      store,
		Adapters:   buildAdapters(cfg, store),
		Classifier: buildClassifier(cfg),
		Merger:     buildMerger(cfg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	horizonDays := cfg.SyncHorizonDays
	_, err = scheduler.AddFunc(cfg.SyncCron, func() {
		rng := scheduledRange(time.Now().UTC(), horizonDays)
		result, err := syncer.Sync(ctx, rng)
		if err != nil {
			log.Error("scheduled sync failed", err, "start", rng.Start, "end", rng.End)
			return
		}
		log.Info("scheduled sync complete",
			"committed", result.Committed,
			"partial", result.Partial,
			"suppressed", result.Suppressed)
	})
	if err != nil {
		log.Error("invalid sync schedule", err, "cron", cfg.SyncCron)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Classification and merge policy follow config edits without a
	// restart. Connection-level settings (listen, state_dsn) still
	// require one.
	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			syncer.SetClassifier(buildClassifier(updated))
			syncer.SetMerger(buildMerger(updated))
			log.SetLevel(updated.LogLevel)
			log.Info("config reloaded", "path", *configPath)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("config watch stopped", err, "path", *configPath)
		}
	}()

	server := &http.Server{
		Addr: cfg.Listen,
		Handler: httpapi.NewServerWithConfig(store, syncer, httpapi.ServerConfig{
			WriteToken: cfg.WriteToken,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("calsync listening", "addr", cfg.Listen, "feeds", len(cfg.Feeds))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("CALSYNC_CONFIG")); p != "" {
		return p
	}
	return "./calsync.yaml"
}

// scheduledRange is the periodic sync window: a week of history plus
// the remainder of the horizon forward, so recent edits and upcoming
// appointments both stay fresh.
func scheduledRange(now time.Time, horizonDays int) calsync.TimeRange {
	back := 7
	forward := horizonDays - back
	if forward < 1 {
		forward = 1
	}
	start := now.AddDate(0, 0, -back).Truncate(24 * time.Hour)
	end := now.AddDate(0, 0, forward).Truncate(24 * time.Hour).Add(24 * time.Hour)
	return calsync.TimeRange{Start: start, End: end}
}

func buildAdapters(cfg *config.Config, store *calsync.Store) []calsync.SourceAdapter {
	adapters := []calsync.SourceAdapter{calsync.NewManualAdapter(store)}

	if len(cfg.Feeds) > 0 {
		feeds := make([]calsync.FeedSource, 0, len(cfg.Feeds))
		for _, f := range cfg.Feeds {
			feeds = append(feeds, calsync.FeedSource{CalendarID: f.CalendarID, URL: f.URL})
		}
		adapters = append(adapters, calsync.NewRemoteCalendarAdapter(calsync.RemoteCalendarAdapterOptions{
			Feeds:         feeds,
			TokenProvider: envTokenProvider("CALSYNC_REMOTE_TOKEN"),
		}))
	}

	if token := strings.TrimSpace(os.Getenv("CALSYNC_PRACTICE_TOKEN")); token != "" {
		client := calsync.NewPracticeHTTPClient(calsync.PracticeHTTPClientOptions{
			BaseURL:       cfg.Practice.BaseURL,
			TokenProvider: envTokenProvider("CALSYNC_PRACTICE_TOKEN"),
			UserAgent:     "calsync/1.0",
		})
		adapters = append(adapters, calsync.NewPracticeAdapter(client))
	}

	return adapters
}

// envTokenProvider re-reads the variable on every fetch so rotated
// credentials are picked up without a restart.
func envTokenProvider(name string) calsync.AccessTokenProvider {
	return func(ctx context.Context) (string, error) {
		return strings.TrimSpace(os.Getenv(name)), nil
	}
}

func buildClassifier(cfg *config.Config) *calsync.Classifier {
	return calsync.NewClassifier(calsync.ClassifierConfig{
		PracticeIdentifier: cfg.Classifier.PracticeIdentifier,
		PracticeCalendarID: cfg.Classifier.PracticeCalendarID,
		ClinicalKeywords:   cfg.Classifier.ClinicalKeywords,
		ScoreThreshold:     cfg.Classifier.ScoreThreshold,
	})
}

func buildMerger(cfg *config.Config) *calsync.Merger {
	return calsync.NewMerger(calsync.MergePolicy{
		CollisionPriority: calsync.Source(cfg.Merge.CollisionPriority),
	})
}
