// Package storage provides data persistence for the harvester. It owns the
// incremental-snapshot comparison: callers hand it raw payloads and it
// decides, by content hash, whether anything new needs to be stored. Two
// backends implement the same contract: SQLite for single-host deployments
// and Postgres for shared ones.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/masahif/kaitadoru/internal/catalog"
	"github.com/masahif/kaitadoru/internal/config"
)

// SessionStatus is the lifecycle state of a crawl session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Store is the persistence collaborator. All upserts are idempotent and
// keyed by content; duplicate submissions report "not inserted" rather
// than erroring. Safe for concurrent use by many workers.
type Store interface {
	// BeginSession creates a crawl session tagged with the source name.
	// Every subsequent write carries the session id for provenance.
	BeginSession(ctx context.Context, sourceName string) (uuid.UUID, error)
	// EndSession records the terminal status and aggregate counts.
	EndSession(ctx context.Context, id uuid.UUID, status SessionStatus, totalItems, skippedItems int) error

	// StoreHome upserts a raw home/category payload keyed by content.
	// Returns (id, true) on insert, (0, false) on duplicate.
	StoreHome(ctx context.Context, sessionID uuid.UUID, payload []byte) (int64, bool, error)

	// BatchInsertListings upserts product references discovered on listing
	// pages and returns the count actually inserted, excluding duplicates.
	BatchInsertListings(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error)

	// ProductIDsByBrand returns the distinct persisted product IDs whose
	// brand is in the allow-list.
	ProductIDsByBrand(ctx context.Context, brandIDs []int64) ([]int64, error)

	// StoreProductSnapshot creates a new snapshot only when the payload
	// content differs from the product's most recent snapshot. Returns
	// (snapshotID, true) on change, (0, false) on no change.
	StoreProductSnapshot(ctx context.Context, sessionID uuid.UUID, productID int64, payload []byte) (int64, bool, error)

	// LatestSnapshotID returns the most recent snapshot id for a product,
	// or false when the product has never been snapshotted.
	LatestSnapshotID(ctx context.Context, productID int64) (int64, bool, error)

	// StoreReviewPage upserts one review page keyed by (product, snapshot,
	// page number, content). Returns true on insert, false on duplicate.
	StoreReviewPage(ctx context.Context, sessionID uuid.UUID, productID, snapshotID int64, pageNumber int, payload []byte) (bool, error)

	Close() error
}

// Open constructs the backend selected by the configuration.
func Open(cfg config.Storage) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// contentHash returns the hex SHA-256 of the compacted payload, so that
// formatting differences between fetches of identical content do not defeat
// deduplication.
func contentHash(payload []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		sum := sha256.Sum256(payload)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(compact.Bytes())
	return hex.EncodeToString(sum[:])
}
