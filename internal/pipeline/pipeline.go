package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carscout/internal/config"
	"carscout/internal/fetcher"
	"carscout/internal/matcher"
	"carscout/internal/models"
	"carscout/internal/normalizer"
	"carscout/internal/scraper"
)

// RunStats summarizes one filter run for logging and tests.
type RunStats struct {
	PagesFetched int
	Fragments    int
	Dropped      int
	New          int
	Changed      int
	Matched      int
	Delivered    int
	AlreadySent  int
	FailedSends  int
}

// Pipeline executes one filter end to end: build the upstream query, walk the
// result pages, normalize and persist every listing seen, and dispatch
// notifications for changed listings that match the filter.
type Pipeline struct {
	fetch      PageFetcher
	parse      PageParser
	listings   ListingStore
	dispatcher *Dispatcher
	cfg        config.PollConfig
	now        func() time.Time
}

// New assembles a pipeline from its collaborators.
func New(fetch PageFetcher, parse PageParser, listings ListingStore, dispatcher *Dispatcher, cfg config.PollConfig) *Pipeline {
	return &Pipeline{
		fetch:      fetch,
		parse:      parse,
		listings:   listings,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RunFilter polls the upstream for one filter. Pages are walked sequentially
// up to the configured ceiling; every successfully normalized listing is
// persisted whether or not it matches, so change detection stays accurate
// across filters. Fetch failures and schema drift abort the run with an
// error; per-fragment anomalies only drop the fragment.
func (p *Pipeline) RunFilter(ctx context.Context, f models.Filter) (RunStats, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()

	var stats RunStats
	query := fetcher.BuildQuery(f.Criteria)
	slog.Info("Starting filter run", "filter", f.ID, "query", query)

	for page := 1; page <= p.cfg.MaxPages; page++ {
		rawHTML, err := p.fetch.FetchPage(ctx, query.PageURL(page))
		if err != nil {
			return stats, fmt.Errorf("fetch page %d for filter %s: %w", page, f.ID, err)
		}
		stats.PagesFetched++

		parsed, err := p.parse.Parse(rawHTML)
		if err != nil {
			return stats, fmt.Errorf("parse page %d for filter %s: %w", page, f.ID, err)
		}
		stats.Fragments += len(parsed.Fragments)
		stats.Dropped += parsed.Dropped

		for _, frag := range parsed.Fragments {
			if err := p.processFragment(ctx, f, frag, &stats); err != nil {
				return stats, err
			}
		}

		if !parsed.HasNextPage {
			break
		}
	}

	slog.Info("Filter run complete", "filter", f.ID,
		"pages", stats.PagesFetched, "fragments", stats.Fragments, "dropped", stats.Dropped,
		"matched", stats.Matched, "delivered", stats.Delivered)
	return stats, nil
}

func (p *Pipeline) processFragment(ctx context.Context, f models.Filter, frag scraper.Fragment, stats *RunStats) error {
	now := p.now()
	incoming, err := normalizer.Normalize(frag, now)
	if err != nil {
		if errors.Is(err, normalizer.ErrMissingRequiredField) {
			stats.Dropped++
			slog.Debug("Dropping unnormalizable fragment", "url", frag.URL, "error", err)
			return nil
		}
		return fmt.Errorf("normalize fragment %q: %w", frag.URL, err)
	}

	previous, err := p.listings.GetListing(ctx, incoming.ExternalID)
	if err != nil {
		return fmt.Errorf("load listing %s: %w", incoming.ExternalID, err)
	}

	kind := Classify(incoming, previous)
	merged := merge(incoming, previous, now)

	switch kind {
	case models.ChangeNew:
		stats.New++
	case models.ChangeUnchanged:
		return p.saveListing(ctx, merged)
	default:
		stats.Changed++
	}

	if !matcher.Matches(f.Criteria, merged) {
		return p.saveListing(ctx, merged)
	}
	stats.Matched++

	// Dispatch before advancing stored state. If state advanced first, a
	// failed delivery would classify as unchanged on the next poll and the
	// notification would be lost instead of retried.
	status, err := p.dispatcher.Dispatch(ctx, f.OwnerID, merged, kind)
	switch status {
	case Delivered:
		stats.Delivered++
	case AlreadySent:
		stats.AlreadySent++
	case DispatchFailed:
		// Never aborts the run. Leaving the stored state behind makes the
		// next poll re-detect this change and retry.
		stats.FailedSends++
		slog.Warn("Notification dispatch failed", "filter", f.ID, "listing", merged.ExternalID, "error", err)
		return nil
	}
	return p.saveListing(ctx, merged)
}

func (p *Pipeline) saveListing(ctx context.Context, listing models.Listing) error {
	if err := p.listings.SaveListing(ctx, listing); err != nil {
		return fmt.Errorf("save listing %s: %w", listing.ExternalID, err)
	}
	return nil
}
