// Package crawl orchestrates harvest sessions. Discovery refreshes the
// persisted product universe from the category tree; the incremental
// crawler reads that universe back, snapshots the details of every product
// in the brand allow-list, then archives the review pages of each snapshot.
// Phases run sequentially; within a phase a worker pool fans out over the
// work items.
package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/masahif/kaitadoru/internal/catalog"
	"github.com/masahif/kaitadoru/internal/client"
	"github.com/masahif/kaitadoru/internal/config"
	"github.com/masahif/kaitadoru/internal/metrics"
	"github.com/masahif/kaitadoru/internal/pagination"
	"github.com/masahif/kaitadoru/internal/storage"
)

// ErrNoProducts marks a session whose brand filter matched nothing; the
// session is recorded as failed because an empty universe almost always
// means discovery broke upstream.
var ErrNoProducts = errors.New("no products matched the brand filter")

// progressInterval is how many finished work items pass between progress
// log lines within a phase.
const progressInterval = 25

// Stats summarizes one incremental harvest session.
type Stats struct {
	SessionID string

	ProductsProcessed int
	ProductsChanged   int
	ProductsUnchanged int
	ProductsExcluded  int

	ReviewPagesStored  int
	ReviewPagesSkipped int

	// Errors counts the non-fatal failures the session absorbed: a lost
	// home capture, aborted review walks, failed review-page writes.
	Errors int

	Requests int64
	Duration time.Duration

	ProductDuration time.Duration
	ReviewDuration  time.Duration
}

// Crawler runs harvest sessions against one upstream source.
type Crawler struct {
	cfg      *config.Config
	client   *client.Client
	store    storage.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	brandIDs []int64

	// Latest-snapshot ids of unchanged products, so the review phase does
	// not repeat the lookup for products seen across sessions.
	snapshotCache *lru.Cache[int64, int64]
}

// New creates a Crawler. The brand allow-list is fixed for the crawler's
// lifetime.
func New(cfg *config.Config, c *client.Client, store storage.Store, m *metrics.Metrics, logger *slog.Logger, brandIDs []int64) (*Crawler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[int64, int64](4096)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &Crawler{
		cfg:           cfg,
		client:        c,
		store:         store,
		metrics:       m,
		logger:        logger,
		brandIDs:      brandIDs,
		snapshotCache: cache,
	}, nil
}

// productResult is one worker's outcome for a single product.
type productResult struct {
	productID  int64
	snapshotID int64
	changed    bool
	excluded   bool
}

// reviewResult is one worker's outcome for a single product's review walk.
type reviewResult struct {
	productID int64
	stored    int
	skipped   int
	failed    int // pages whose write failed
	err       error
}

// Run executes one full session. The session row always reaches a terminal
// status: completed on success, failed when the run aborts or the product
// universe is empty.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	sessionID, err := c.store.BeginSession(ctx, c.cfg.SourceName)
	if err != nil {
		return stats, fmt.Errorf("failed to begin session: %w", err)
	}
	stats.SessionID = sessionID.String()
	c.logger.Info("session started", "session_id", stats.SessionID, "source", c.cfg.SourceName)

	runErr := c.run(ctx, sessionID, &stats)

	stats.Requests = c.client.RequestCount()
	stats.Duration = time.Since(start)

	status := storage.StatusCompleted
	if runErr != nil {
		status = storage.StatusFailed
	}
	total := stats.ProductsChanged + stats.ReviewPagesStored
	skipped := stats.ProductsUnchanged + stats.ReviewPagesSkipped

	// Finalization is best effort on the failure path; the run error wins.
	endCtx := ctx
	if endCtx.Err() != nil {
		var cancel context.CancelFunc
		endCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := c.store.EndSession(endCtx, sessionID, status, total, skipped); err != nil {
		if runErr == nil {
			return stats, fmt.Errorf("failed to end session: %w", err)
		}
		c.logger.Warn("failed to finalize session", "session_id", stats.SessionID, "error", err)
	}

	c.logger.Info("session finished",
		"session_id", stats.SessionID,
		"status", string(status),
		"products_changed", stats.ProductsChanged,
		"products_unchanged", stats.ProductsUnchanged,
		"review_pages_stored", stats.ReviewPagesStored,
		"errors", stats.Errors,
		"requests", stats.Requests,
		"duration", stats.Duration.Round(time.Millisecond).String(),
		"product_duration", stats.ProductDuration.Round(time.Millisecond).String(),
		"review_duration", stats.ReviewDuration.Round(time.Millisecond).String())

	if stats.ProductsProcessed > 0 {
		snapshotted := stats.ProductsChanged + stats.ProductsUnchanged
		avgPages := 0.0
		if snapshotted > 0 {
			avgPages = float64(stats.ReviewPagesStored) / float64(snapshotted)
		}
		c.logger.Info("storage efficiency",
			"unchanged_ratio", fmt.Sprintf("%.2f", float64(stats.ProductsUnchanged)/float64(stats.ProductsProcessed)),
			"avg_review_pages_per_product", fmt.Sprintf("%.2f", avgPages),
			"review_duplicates_skipped", stats.ReviewPagesSkipped)
	}
	return stats, runErr
}

func (c *Crawler) run(ctx context.Context, sessionID uuid.UUID, stats *Stats) error {
	if err := c.homeStep(ctx, sessionID, stats); err != nil {
		return err
	}

	productIDs, err := c.store.ProductIDsByBrand(ctx, c.brandIDs)
	if err != nil {
		return fmt.Errorf("failed to select products by brand: %w", err)
	}
	if len(productIDs) == 0 {
		return ErrNoProducts
	}
	c.logger.Info("product universe selected", "products", len(productIDs), "brands", len(c.brandIDs))

	phaseStart := time.Now()
	snapshots, err := c.snapshotPhase(ctx, sessionID, productIDs, stats)
	stats.ProductDuration = time.Since(phaseStart)
	if err != nil {
		return err
	}

	phaseStart = time.Now()
	err = c.reviewPhase(ctx, sessionID, snapshots, stats)
	stats.ReviewDuration = time.Since(phaseStart)
	return err
}

// homeStep captures the home payload for provenance. Only the fetch matters
// for the session outcome: an unusable payload fails the run, a failed
// store of a usable payload is logged and counted.
func (c *Crawler) homeStep(ctx context.Context, sessionID uuid.UUID, stats *Stats) error {
	payload, _, err := c.client.Home(ctx)
	if err != nil {
		return fmt.Errorf("home fetch aborted: %w", err)
	}
	if payload == nil {
		stats.Errors++
		return ErrHomeUnavailable
	}
	if _, inserted, err := c.store.StoreHome(ctx, sessionID, payload); err != nil {
		c.logger.Warn("failed to store home payload", "error", err)
		stats.Errors++
	} else if inserted {
		c.metrics.IncStored("home")
	}
	return nil
}

// snapshotPhase fetches every product's detail payload and returns the
// product-to-snapshot mapping the review phase works from. Products whose
// fetch soft-fails, or whose unchanged payload has no resolvable prior
// snapshot, are excluded from the mapping.
func (c *Crawler) snapshotPhase(ctx context.Context, sessionID uuid.UUID, productIDs []int64, stats *Stats) (map[int64]int64, error) {
	var done atomic.Int64
	results := runPool(ctx, c.cfg.ProductWorkers, productIDs, func(ctx context.Context, productID int64) productResult {
		r := c.snapshotProduct(ctx, sessionID, productID)
		if n := done.Add(1); n%progressInterval == 0 {
			c.logger.Info("product progress", "done", n, "total", len(productIDs))
		}
		return r
	})

	snapshots := make(map[int64]int64, len(results))
	for _, r := range results {
		stats.ProductsProcessed++
		switch {
		case r.excluded:
			stats.ProductsExcluded++
		case r.changed:
			stats.ProductsChanged++
			snapshots[r.productID] = r.snapshotID
		default:
			stats.ProductsUnchanged++
			snapshots[r.productID] = r.snapshotID
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("product phase aborted: %w", err)
	}
	c.logger.Info("product phase finished",
		"processed", stats.ProductsProcessed,
		"changed", stats.ProductsChanged,
		"unchanged", stats.ProductsUnchanged,
		"excluded", stats.ProductsExcluded)
	return snapshots, nil
}

func (c *Crawler) snapshotProduct(ctx context.Context, sessionID uuid.UUID, productID int64) productResult {
	payload, _, err := c.client.ProductDetail(ctx, productID)
	if err != nil || payload == nil {
		if err != nil {
			c.logger.Warn("product fetch aborted", "product_id", productID, "error", err)
		} else {
			c.logger.Warn("product unavailable, excluded from this session", "product_id", productID)
		}
		return productResult{productID: productID, excluded: true}
	}

	snapshotID, changed, err := c.store.StoreProductSnapshot(ctx, sessionID, productID, payload)
	if err != nil {
		c.logger.Warn("failed to store product snapshot", "product_id", productID, "error", err)
		return productResult{productID: productID, excluded: true}
	}
	if changed {
		c.metrics.IncStored("product")
		c.snapshotCache.Add(productID, snapshotID)
		return productResult{productID: productID, snapshotID: snapshotID, changed: true}
	}

	// Unchanged: reviews still attach to the existing latest snapshot.
	if id, ok := c.snapshotCache.Get(productID); ok {
		return productResult{productID: productID, snapshotID: id}
	}
	id, found, err := c.store.LatestSnapshotID(ctx, productID)
	if err != nil || !found {
		c.logger.Warn("unchanged product has no resolvable snapshot, excluded",
			"product_id", productID, "error", err)
		return productResult{productID: productID, excluded: true}
	}
	c.snapshotCache.Add(productID, id)
	return productResult{productID: productID, snapshotID: id}
}

// reviewPhase walks and archives the review pages of every snapshotted
// product.
func (c *Crawler) reviewPhase(ctx context.Context, sessionID uuid.UUID, snapshots map[int64]int64, stats *Stats) error {
	productIDs := make([]int64, 0, len(snapshots))
	for id := range snapshots {
		productIDs = append(productIDs, id)
	}

	var done atomic.Int64
	results := runPool(ctx, c.cfg.ReviewWorkers, productIDs, func(ctx context.Context, productID int64) reviewResult {
		r := c.harvestReviews(ctx, sessionID, productID, snapshots[productID])
		if n := done.Add(1); n%progressInterval == 0 {
			c.logger.Info("review progress", "done", n, "total", len(productIDs))
		}
		return r
	})

	for _, r := range results {
		if r.err != nil {
			c.logger.Warn("review walk failed", "product_id", r.productID, "error", r.err)
			stats.Errors++
		}
		stats.Errors += r.failed
		stats.ReviewPagesStored += r.stored
		stats.ReviewPagesSkipped += r.skipped
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("review phase aborted: %w", err)
	}
	c.logger.Info("review phase finished",
		"products", len(productIDs),
		"pages_stored", stats.ReviewPagesStored,
		"pages_skipped", stats.ReviewPagesSkipped)
	return nil
}

func (c *Crawler) harvestReviews(ctx context.Context, sessionID uuid.UUID, productID, snapshotID int64) reviewResult {
	fetch := func(ctx context.Context, page int) (json.RawMessage, *client.Metadata, error) {
		return c.client.ReviewPage(ctx, productID, page)
	}
	info := func(payload json.RawMessage) (pagination.PageInfo, error) {
		pi, err := catalog.ParseReviewPage(payload)
		if err != nil {
			return pagination.PageInfo{}, err
		}
		return pagination.PageInfo{Items: pi.ReviewCount, DeclaredTotal: pi.DeclaredTotal}, nil
	}

	pages, err := pagination.WalkReviews(ctx, fetch, info, pagination.ReviewOptions{
		PageSize: c.cfg.ReviewPageSize,
		MaxPages: c.cfg.MaxReviewPages,
	})
	result := reviewResult{productID: productID, err: err}

	for _, page := range pages {
		inserted, serr := c.store.StoreReviewPage(ctx, sessionID, productID, snapshotID, page.Number, page.Payload)
		if serr != nil {
			c.logger.Warn("failed to store review page",
				"product_id", productID, "page", page.Number, "error", serr)
			result.failed++
			continue
		}
		if inserted {
			c.metrics.IncStored("review")
			result.stored++
		} else {
			result.skipped++
		}
	}
	return result
}
