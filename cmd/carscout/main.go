package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carscout/internal/config"
	"carscout/internal/fetcher"
	"carscout/internal/notifier"
	"carscout/internal/pipeline"
	"carscout/internal/scheduler"
	"carscout/internal/scraper"
	"carscout/internal/storage"
)

// stores is the union of the pipeline's storage interfaces, so backend
// selection produces one value regardless of the database behind it.
type stores interface {
	pipeline.ListingStore
	pipeline.FilterStore
	pipeline.NotificationStore
	listingTrimmer
	io.Closer
}

func main() {
	slog.Info("Starting car scout...")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Critical error initializing storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var client *fetcher.Client
	if cfg.Fetch.UseBrowser {
		slog.Info("Using headless browser page loader")
		client = fetcher.NewWithLoader(fetcher.NewBrowserLoader(), cfg.Fetch)
	} else {
		client = fetcher.New(cfg.Fetch)
	}

	parser := scraper.New(scraper.LoadConfig())
	chat := notifier.NewTelegram(cfg.Telegram.BotToken)
	dispatcher := pipeline.NewDispatcher(store, chat)
	pipe := pipeline.New(client, parser, store, dispatcher, cfg.Poll)

	if cfg.Poll.MaxStoredListings > 0 {
		go runTrimLoop(ctx, store, cfg.Poll.MaxStoredListings)
	}

	sched := scheduler.New(pipe, store, cfg.Poll)
	sched.Run(ctx)
	slog.Info("Car scout stopped.")
}

type listingTrimmer interface {
	TrimOldListings(ctx context.Context, maxListings int) error
}

// runTrimLoop keeps the listings store bounded so state from long-delisted
// ads does not accumulate forever.
func runTrimLoop(ctx context.Context, trimmer listingTrimmer, maxListings int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := trimmer.TrimOldListings(ctx, maxListings); err != nil {
				slog.Warn("Listing trim failed", "error", err)
			}
		}
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (stores, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		slog.Info("Using postgres storage backend")
		return storage.NewPostgres(ctx, cfg.PostgresDSN)
	default:
		slog.Info("Using firestore storage backend", "project", cfg.ProjectID)
		return storage.NewFirestore(ctx, cfg.ProjectID)
	}
}
