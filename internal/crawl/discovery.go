package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/masahif/kaitadoru/internal/catalog"
	"github.com/masahif/kaitadoru/internal/client"
	"github.com/masahif/kaitadoru/internal/metrics"
	"github.com/masahif/kaitadoru/internal/pagination"
	"github.com/masahif/kaitadoru/internal/storage"
)

// ErrHomeUnavailable marks a discovery pass that could not obtain a usable
// home payload. The session that hit it ends as failed; without the category
// tree there is no product universe to refresh.
var ErrHomeUnavailable = errors.New("home payload unavailable")

// DiscoveryStats summarizes one discovery pass over the category tree.
type DiscoveryStats struct {
	CategoriesFound  int
	PagesCrawled     int
	ProductsFound    int
	ProductsInserted int
	ProductsSkipped  int
	Errors           int
}

// Discovery walks the category tree and persists every product reference
// found on the listing pages of its leaves.
type Discovery struct {
	client    *client.Client
	store     storage.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	workers   int
	batchSize int
}

// NewDiscovery creates a discovery pass over the given client and store.
func NewDiscovery(c *client.Client, store storage.Store, m *metrics.Metrics, logger *slog.Logger, workers, batchSize int) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Discovery{
		client:    c,
		store:     store,
		metrics:   m,
		logger:    logger,
		workers:   workers,
		batchSize: batchSize,
	}
}

// categoryResult is one worker's outcome for a single leaf category.
type categoryResult struct {
	categoryID int64
	pages      int
	found      int
	inserted   int
	walkErr    error
	insertErr  error
}

// Run fetches the home payload, flattens the category tree and walks every
// leaf's listing pages concurrently. Per-category errors are counted, not
// fatal; only a context-level failure aborts the pass.
func (d *Discovery) Run(ctx context.Context, sessionID uuid.UUID) (DiscoveryStats, error) {
	var stats DiscoveryStats

	payload, _, err := d.client.Home(ctx)
	if err != nil {
		return stats, err
	}
	if payload == nil {
		stats.Errors++
		return stats, ErrHomeUnavailable
	}

	if _, inserted, err := d.store.StoreHome(ctx, sessionID, payload); err != nil {
		// Losing the raw home capture does not block discovery.
		d.logger.Warn("failed to store home payload", "error", err)
		stats.Errors++
	} else if inserted {
		d.metrics.IncStored("home")
	}

	tree, err := catalog.ParseHome(payload)
	if err != nil {
		stats.Errors++
		return stats, fmt.Errorf("%w: %w", ErrHomeUnavailable, err)
	}

	leaves := catalog.FlattenLeaves(tree)
	stats.CategoriesFound = len(leaves)
	d.logger.Info("category tree flattened", "leaf_categories", len(leaves))

	results := runPool(ctx, d.workers, leaves, func(ctx context.Context, leaf catalog.Category) categoryResult {
		return d.walkCategory(ctx, sessionID, leaf)
	})

	for _, r := range results {
		stats.PagesCrawled += r.pages
		stats.ProductsFound += r.found
		stats.ProductsInserted += r.inserted
		if r.walkErr != nil {
			d.logger.Warn("category walk failed", "category_id", r.categoryID, "error", r.walkErr)
			stats.Errors++
		}
		if r.insertErr != nil {
			d.logger.Warn("listing batch insert failed", "category_id", r.categoryID, "error", r.insertErr)
			stats.Errors++
		}
	}
	stats.ProductsSkipped = stats.ProductsFound - stats.ProductsInserted
	d.metrics.AddStored("listing", stats.ProductsInserted)

	d.logger.Info("discovery finished",
		"categories", stats.CategoriesFound,
		"pages", stats.PagesCrawled,
		"products_found", stats.ProductsFound,
		"products_inserted", stats.ProductsInserted,
		"errors", stats.Errors)
	return stats, ctx.Err()
}

// walkCategory walks one leaf's listing pages and submits its own product
// references in batches, so an insert failure stays attributed to the
// category it came from.
func (d *Discovery) walkCategory(ctx context.Context, sessionID uuid.UUID, leaf catalog.Category) categoryResult {
	fetch := func(ctx context.Context, page int) (json.RawMessage, *client.Metadata, error) {
		return d.client.ListingPage(ctx, leaf.ID, page)
	}
	info := func(payload json.RawMessage) (pagination.PageInfo, error) {
		refs, err := catalog.ParseListing(payload)
		if err != nil {
			return pagination.PageInfo{}, err
		}
		return pagination.PageInfo{Items: len(refs)}, nil
	}

	pages, err := pagination.WalkListing(ctx, fetch, info)
	result := categoryResult{categoryID: leaf.ID, pages: len(pages), walkErr: err}

	var refs []catalog.ProductRef
	for _, page := range pages {
		parsed, perr := catalog.ParseListing(page.Payload)
		if perr != nil {
			continue
		}
		refs = append(refs, parsed...)
	}
	result.found = len(refs)

	for start := 0; start < len(refs); start += d.batchSize {
		end := start + d.batchSize
		if end > len(refs) {
			end = len(refs)
		}
		n, err := d.store.BatchInsertListings(ctx, sessionID, refs[start:end])
		result.inserted += n
		if err != nil && result.insertErr == nil {
			result.insertErr = err
		}
	}
	return result
}
