package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/masahif/kaitadoru/internal/catalog"
	"github.com/masahif/kaitadoru/internal/retry"
)

// PostgresStore implements Store on a shared Postgres database, for
// deployments where several hosts write into one catalog archive.
type PostgresStore struct {
	db         *sql.DB
	sourceName string
	writeRetry retry.Policy
}

// NewPostgresStore connects to the database named by the DSN and runs the
// embedded migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{
		db: db,
		writeRetry: retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Linear(100 * time.Millisecond),
		},
	}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// BeginSession creates a crawl session row and remembers the source name
// for subsequent writes.
func (s *PostgresStore) BeginSession(ctx context.Context, sourceName string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_sessions (session_id, source_name, status)
		VALUES ($1, $2, 'running')
	`, id, sourceName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin session: %w", err)
	}
	s.sourceName = sourceName
	return id, nil
}

// EndSession records the terminal status and aggregate counts.
func (s *PostgresStore) EndSession(ctx context.Context, id uuid.UUID, status SessionStatus, totalItems, skippedItems int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_sessions
		SET status = $1, finished_at = now(), total_items = $2, skipped_items = $3
		WHERE session_id = $4
	`, string(status), totalItems, skippedItems, id)
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
func (s *PostgresStore) StoreHome(ctx context.Context, sessionID uuid.UUID, payload []byte) (int64, bool, error) {
	hash := contentHash(payload)

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO home_api (session_id, source_name, data, data_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (data_hash) DO NOTHING
		RETURNING id
	`, sessionID, s.sourceName, string(payload), hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to store home payload: %w", err)
	}
	return id, true, nil
}

// BatchInsertListings bulk-loads product references, ignoring duplicates
// within the session. Fallback tiers: COPY through a staging table, then a
// single multi-row insert, then individual autocommit inserts, so one bad
// row cannot sink its neighbours.
func (s *PostgresStore) BatchInsertListings(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	n, err := s.copyListings(ctx, sessionID, refs)
	if err == nil {
		return n, nil
	}
	if n, err := s.insertListingMultiRow(ctx, sessionID, refs); err == nil {
		return n, nil
	}
	return s.insertListingRows(ctx, sessionID, refs)
}

func (s *PostgresStore) copyListings(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// COPY into a temp table, then merge so duplicates are ignored.
	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE listing_stage
			(session_id UUID, source_name TEXT, product_id BIGINT, brand_id BIGINT)
		ON COMMIT DROP
	`); err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("listing_stage", "session_id", "source_name", "product_id", "brand_id"))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, sessionID, s.sourceName, ref.ProductID, brandArg(ref.BrandID)); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("failed to stage product %d: %w", ref.ProductID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return 0, fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close copy: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO listing_api (session_id, source_name, product_id, brand_id)
		SELECT DISTINCT ON (product_id) session_id, source_name, product_id, brand_id
		FROM listing_stage
		ON CONFLICT (session_id, product_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to merge listing batch: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to merge listing batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit listing batch: %w", err)
	}
	return int(inserted), nil
}

// listingValuesClause renders the numbered placeholder tuples for a
// multi-row listing insert of n references.
func listingValuesClause(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", i*4+1, i*4+2, i*4+3, i*4+4)
	}
	return sb.String()
}

func (s *PostgresStore) insertListingMultiRow(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	args := make([]any, 0, len(refs)*4)
	for _, ref := range refs {
		args = append(args, sessionID, s.sourceName, ref.ProductID, brandArg(ref.BrandID))
	}

	// A product id repeated within the batch makes ON CONFLICT reject the
	// whole statement; the per-row tier below absorbs that case.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO listing_api (session_id, source_name, product_id, brand_id)
		VALUES `+listingValuesClause(len(refs))+`
		ON CONFLICT (session_id, product_id) DO NOTHING
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert listing batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to insert listing batch: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) insertListingRows(ctx context.Context, sessionID uuid.UUID, refs []catalog.ProductRef) (int, error) {
	inserted := 0
	var firstErr error
	for _, ref := range refs {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO listing_api (session_id, source_name, product_id, brand_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, product_id) DO NOTHING
		`, sessionID, s.sourceName, ref.ProductID, brandArg(ref.BrandID))
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

// ProductIDsByBrand returns the distinct persisted product IDs whose brand
// is in the allow-list, in ascending order.
func (s *PostgresStore) ProductIDsByBrand(ctx context.Context, brandIDs []int64) ([]int64, error) {
	if len(brandIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT product_id FROM listing_api
		WHERE brand_id = ANY($1)
		ORDER BY product_id
	`, pq.Array(brandIDs))
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
func (s *PostgresStore) StoreProductSnapshot(ctx context.Context, sessionID uuid.UUID, productID int64, payload []byte) (int64, bool, error) {
	hash := contentHash(payload)

	var snapshotID int64
	var changed bool
	err := s.writeRetry.Do(ctx, func() error {
		var latestHash string
		err := s.db.QueryRowContext(ctx, `
			SELECT data_hash FROM product_api
			WHERE product_id = $1 ORDER BY id DESC LIMIT 1
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

		err = s.db.QueryRowContext(ctx, `
			INSERT INTO product_api (session_id, source_name, product_id, data, data_hash)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, sessionID, s.sourceName, productID, string(payload), hash).Scan(&snapshotID)
		changed = err == nil
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to store snapshot for product %d: %w", productID, err)
	}
	return snapshotID, changed, nil
}

// LatestSnapshotID returns the most recent snapshot id for a product.
func (s *PostgresStore) LatestSnapshotID(ctx context.Context, productID int64) (int64, bool, error) {
	var id int64
	var found bool
	err := s.writeRetry.Do(ctx, func() error {
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM product_api
			WHERE product_id = $1 ORDER BY id DESC LIMIT 1
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
func (s *PostgresStore) StoreReviewPage(ctx context.Context, sessionID uuid.UUID, productID, snapshotID int64, pageNumber int, payload []byte) (bool, error) {
	hash := contentHash(payload)

	var inserted bool
	err := s.writeRetry.Do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO review_api
				(session_id, source_name, product_id, product_snapshot_id, page_number, data, data_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (product_id, product_snapshot_id, page_number, data_hash) DO NOTHING
		`, sessionID, s.sourceName, productID, snapshotID, pageNumber, string(payload), hash)
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
