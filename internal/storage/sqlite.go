package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/masahif/kaitadoru/internal/catalog"
	"github.com/masahif/kaitadoru/internal/retry"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db         *sql.DB
	sourceName string
	writeRetry retry.Policy
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts between workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{
		db: db,
		writeRetry: retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Linear(100 * time.Millisecond),
		},
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000", // 30 second timeout for locks
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginSession creates a crawl session row and remembers the source name
// for subsequent writes.
func (s *SQLiteStore) BeginSession(ctx context.Context, sourceName string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_sessions (session_id, source_name, status)
		VALUES (?, ?, 'running')
	`, id.String(), sourceName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin session: %w", err)
	}
	s.sourceName = sourceName
	return id, nil
}

// EndSession records the terminal status and aggregate counts.
func (s *SQLiteStore) EndSession(ctx context.Context, id uuid.UUID, status SessionStatus, totalItems, skippedItems int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_sessions
		SET status = ?, finished_at = CURRENT_TIMESTAMP, total_items = ?, skipped_items = ?
		WHERE session_id = ?
	`, string(status), totalItems, skippedItems, id.String())
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("unknown session %s", id)
	}
	return nil
}

// StoreHome inserts the home payload unless an identical one is already
// stored.
func (s *SQLiteStore) StoreHome(ctx context.Context, sessionID uuid.UUID, payload []byte) (int64, bool, error) {
	hash := contentHash(payload)

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO home_api (session_id, source_name, data, data_hash)
		VALUES (?, ?, ?, ?)
	`, sessionID.String(), s.sourceName, string(payload), hash)
	if err != nil {
		return 0, false, fmt.Errorf("failed to store home payload: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to store home payload: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to store home payload: %w", err)
	}
	return id, true, nil
}

// BatchInsertListings inserts product references in batches of batchSize,
/// ignoring duplicates within the session. Fallback tiers: a single multi-row
// statement, then per-row inserts inside one transaction, then individual
// autocommit inserts, so one bad row cannot sink its neighbours.
func (s *SQLiteStore) BatchInsertListings(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	const batchSize = 100
	inserted := 0
	for start := 0; start < len(refs); start += batchSize {
		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		n, err := s.insertListingMultiRow(ctx, sessionID, batch)
		if err != nil {
			n, err = s.insertListingBatch(ctx, sessionID, batch)
		}
		if err != nil {
			n, err = s.insertListingRows(ctx, sessionID, batch)
			if err != nil {
				return inserted + n, err
			}
		}
		inserted += n
	}
	return inserted, nil
}

func (s *SQLiteStore) insertListingMultiRow(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT OR IGNORE INTO listing_api (session_id, source_name, product_id, brand_id) VALUES `)
	args := make([]any, 0, len(refs)*4)
	for i, ref := range refs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, sessionID.String(), s.sourceName, ref.ProductID, brandArg(ref.BrandID))
	}

	res, err := s.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert listing batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to insert listing batch: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) insertListingBatch(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO listing_api (session_id, source_name, product_id, brand_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, ref := range refs {
		res, err := stmt.ExecContext(ctx, sessionID.String(), s.sourceName, ref.ProductID, brandArg(ref.BrandID))
		if err != nil {
			return 0, fmt.Errorf("failed to insert product %d: %w", ref.ProductID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit listing batch: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) insertListingRows(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	inserted := 0
	var firstErr error
	for _, ref := range refs {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO listing_api (session_id, source_name, product_id, brand_id)
			VALUES (?, ?, ?, ?)
		`, sessionID.String(), s.sourceName, ref.ProductID, brandArg(ref.BrandID))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to insert product %d: %w", ref.ProductID, err)
			}
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, firstErr
}

func brandArg(brandID *int64) any {
	if brandID == nil {
		return nil
	}
	return *brandID
}

// ProductIDsByBrand returns the distinct persisted product IDs whose brand
// is in the allow-list, in ascending order.
func (s *SQLiteStore) ProductIDsByBrand(ctx context.Context, brandIDs []int64) ([]int64, error) {
	if len(brandIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(brandIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(brandIDs))
	for i, id := range brandIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT product_id FROM listing_api
		WHERE brand_id IN (%s)
		ORDER BY product_id
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products by brand: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StoreProductSnapshot appends a snapshot only when the payload content
// differs from the product's most recent one.
func (s *SQLiteStore) StoreProductSnapshot(ctx context.Context, sessionID uuid.UUID, productID int64, payload []byte) (int64, bool, error) {
	hash := contentHash(payload)

	var snapshotID int64
	var changed bool
	err := s.writeRetry.Do(ctx, func() error {
		var latestHash string
		err := s.db.QueryRowContext(ctx, `
			SELECT data_hash FROM product_api
			WHERE product_id = ? ORDER BY id DESC LIMIT 1
		`, productID).Scan(&latestHash)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// First snapshot for this product.
		case err != nil:
			return err
		case latestHash == hash:
			snapshotID, changed = 0, false
			return nil
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO product_api (session_id, source_name, product_id, data, data_hash)
			VALUES (?, ?, ?, ?, ?)
		`, sessionID.String(), s.sourceName, productID, string(payload), hash)
		if err != nil {
			return err
		}
		snapshotID, err = res.LastInsertId()
		changed = err == nil
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to store snapshot for product %d: %w", productID, err)
	}
	return snapshotID, changed, nil
}

// LatestSnapshotID returns the most recent snapshot id for a product.
func (s *SQLiteStore) LatestSnapshotID(ctx context.Context, productID int64) (int64, bool, error) {
	var id int64
	var found bool
	err := s.writeRetry.Do(ctx, func() error {
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM product_api
			WHERE product_id = ? ORDER BY id DESC LIMIT 1
		`, productID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up latest snapshot for product %d: %w", productID, err)
	}
	return id, found, nil
}

// StoreReviewPage inserts one review page unless an identical one is
// already stored for the same snapshot and page number.
func (s *SQLiteStore) StoreReviewPage(ctx context.Context, sessionID uuid.UUID, productID, snapshotID int64, pageNumber int, payload []byte) (bool, error) {
	hash := contentHash(payload)

	var inserted bool
	err := s.writeRetry.Do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO review_api
				(session_id, source_name, product_id, product_snapshot_id, page_number, data, data_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sessionID.String(), s.sourceName, productID, snapshotID, pageNumber, string(payload), hash)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to store review page %d for product %d: %w", pageNumber, productID, err)
	}
	return inserted, nil
}
