// Builder imports a track export into the track database. Run it after
// scraping a channel, then the bot can serve random and BPM-matched
// resyncs from the result. Imports are idempotent, duplicate track IDs
// are skipped.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"resyncbot/logger"
	"resyncbot/settings"
	"resyncbot/tracks"

	"github.com/schollz/progressbar/v3"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	inputPath := flag.String("input", "", "path to a JSON track export")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: builder -input tracks.json [-config config.toml]")
		os.Exit(1)
	}

	config, err := settings.LoadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error in config:", err)
		os.Exit(1)
	}
	logger.Init(config.Logging)

	if config.Database.Url == "" {
		logger.Fatal("No database.url configured, nothing to import into")
	}

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		logger.Fatal("Failed to read track export", "path", *inputPath, "error", err)
	}

	var imported []tracks.Track
	if err := json.Unmarshal(data, &imported); err != nil {
		logger.Fatal("Track export is not valid JSON", "path", *inputPath, "error", err)
	}
	if len(imported) == 0 {
		logger.Fatal("Track export is empty", "path", *inputPath)
	}

	ctx := context.Background()
	store, err := tracks.Connect(ctx, config.Database.Url)
	if err != nil {
		logger.Fatal("Failed to connect to track database", "error", err)
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		logger.Fatal("Failed to create tracks table", "error", err)
	}

	bar := progressbar.Default(int64(len(imported)), "importing tracks")
	var failed int
	for _, track := range imported {
		if track.ID == "" {
			failed++
			_ = bar.Add(1)
			continue
		}
		if err := store.Insert(ctx, track); err != nil {
			logger.Warn("Failed to insert track", "id", track.ID, "error", err)
			failed++
		}
		_ = bar.Add(1)
	}

	total, err := store.Count(ctx)
	if err != nil {
		logger.Fatal("Failed to count tracks", "error", err)
	}
	logger.Info("Import finished", "imported", len(imported)-failed, "skipped", failed, "total", total)
}
