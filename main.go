package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resyncbot/api"
	"resyncbot/beatbase"
	"resyncbot/logger"
	"resyncbot/notify"
	"resyncbot/pipeline"
	"resyncbot/premium"
	"resyncbot/queue"
	"resyncbot/settings"
	"resyncbot/tracks"
	"resyncbot/usage"
)

func main() {
	config, err := settings.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("Error in config.toml: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Init(config.Logging)
	logger.Info("Starting resyncbot", "workers", config.Queue.Workers, "interleave", config.Queue.InterleaveEvery)

	beatbase.Init(config.Database.Path)
	defer beatbase.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	classifier := buildClassifier(ctx, config)
	trackStore := buildTrackStore(ctx, config)
	if trackStore != nil {
		defer trackStore.Close()
	}

	sched := queue.NewScheduler(config.Queue.InterleaveEvery, config.Queue.MaxQueueSize)
	tracker := usage.NewTracker(config.Limits, config.Premium.Enabled)
	pipe := pipeline.NewClient(config.Pipeline)
	notifier := notify.New(config.Notify)

	pool := queue.NewPool(sched, pipe, notifier, config.Queue.Workers, config.Queue.PollInterval(), config.Queue.JobTimeout())
	pool.Start(ctx)

	server := &http.Server{
		Addr:    config.Api.Bind,
		Handler: api.NewServer(sched, classifier, tracker, pipe, trackStore, config.Api.Secret).Router(),
	}

	go func() {
		logger.Info("API listening", "bind", config.Api.Bind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", "error", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	cancel()
	pool.Wait()
	logger.Info("All workers stopped, exiting")
}

// buildClassifier connects the premium store when a database URL is
// configured, otherwise every requester is classified free.
func buildClassifier(ctx context.Context, config *settings.Config) *premium.Manager {
	if !config.Premium.Enabled || config.Database.Url == "" {
		logger.Info("Premium classification disabled, all requesters run as free tier")
		return premium.Disabled()
	}

	store, err := premium.Connect(ctx, config.Database.Url)
	if err != nil {
		logger.Error("Premium database unavailable, falling back to free tier only", "error", err)
		return premium.Disabled()
	}
	if err := store.Init(ctx); err != nil {
		logger.Error("Premium schema init failed, falling back to free tier only", "error", err)
		store.Close()
		return premium.Disabled()
	}

	return premium.NewManager(store, config.Premium)
}

func buildTrackStore(ctx context.Context, config *settings.Config) *tracks.Store {
	if config.Database.Url == "" {
		return nil
	}

	store, err := tracks.Connect(ctx, config.Database.Url)
	if err != nil {
		logger.Warn("Track database unavailable, random resync picks disabled", "error", err)
		return nil
	}
	if err := store.Init(ctx); err != nil {
		logger.Warn("Track schema init failed, random resync picks disabled", "error", err)
		store.Close()
		return nil
	}

	return store
}
