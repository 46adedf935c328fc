package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/tomfahy/studycache/internal/cache"
	"github.com/tomfahy/studycache/internal/config"
	"github.com/tomfahy/studycache/internal/remote"
	"github.com/tomfahy/studycache/internal/session"
	"github.com/tomfahy/studycache/internal/sync"
)

func main() {
	// 1. Define and parse command-line flags
	flags := pflag.NewFlagSet("studycache", pflag.ExitOnError)
	configPath := flags.String("config", "", "Path to a YAML config file")
	flags.String("base_url", "", "Base URL of the study-content service")
	flags.String("cache_path", "studycache.db", "Path to the SQLite cache file")
	flags.String("log_level", "info", "Log level: debug, info, warn or error")
	flags.Parse(os.Args[1:])

	// 2. Load .env and the layered config
	_ = godotenv.Load()
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// 3. Establish the session before anything touches the cache or remote
	sess := session.New()
	sess.Set(os.Getenv("STUDYCACHE_USER_ID"), os.Getenv("STUDYCACHE_TOKEN"))
	if !sess.Active() {
		logger.Info("no STUDYCACHE_USER_ID set, running unauthenticated (no caching)")
	}

	// 4. Open the cache and wire the syncer
	store, err := cache.Open(cfg.CachePath, sess)
	if err != nil {
		logger.Error("Failed to open cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	client := remote.NewClient(cfg.BaseURL, sess, &http.Client{Timeout: cfg.Timeout}, logger)
	syncer := sync.New(client, store, logger)

	// 5. Walk the content tree, warming the cache level by level
	ctx := context.Background()
	subjects, err := syncer.FetchSubjects(ctx)
	if err != nil {
		logger.Error("Failed to fetch subjects", "error", err)
		os.Exit(1)
	}

	var lessonCount, chapterCount, errCount int
	for _, subject := range subjects {
		lessons, err := syncer.FetchLessons(ctx, subject.ID)
		if err != nil {
			logger.Warn("Failed to fetch lessons", "subject", subject.ID, "error", err)
			errCount++
			continue
		}
		lessonCount += len(lessons)
		for _, lesson := range lessons {
			chapters, err := syncer.FetchChapters(ctx, lesson.ID)
			if err != nil {
				logger.Warn("Failed to fetch chapters", "lesson", lesson.ID, "error", err)
				errCount++
				continue
			}
			chapterCount += len(chapters)
		}
	}

	// 6. Print the final report
	fmt.Printf("Synced %d subjects, %d lessons, %d chapters, %d errors.\n",
		len(subjects), lessonCount, chapterCount, errCount)
}
