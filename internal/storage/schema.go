package storage

const schemaSQL = `
-- One row per orchestrator run. Writes during a run are tagged with the
-- session id for provenance; the row gains a terminal status at the end.
CREATE TABLE IF NOT EXISTS crawl_sessions (
    session_id TEXT PRIMARY KEY,
    source_name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME,
    total_items INTEGER NOT NULL DEFAULT 0,
    skipped_items INTEGER NOT NULL DEFAULT 0
);

-- Raw home/category payloads, deduplicated by content hash.
CREATE TABLE IF NOT EXISTS home_api (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    source_name TEXT NOT NULL,
    data TEXT NOT NULL,
    data_hash TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Product references discovered on listing pages. A product may appear in
-- many sessions; within one session it is stored once.
CREATE TABLE IF NOT EXISTS listing_api (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    source_name TEXT NOT NULL,
    product_id INTEGER NOT NULL,
    brand_id INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_listing_brand ON listing_api(brand_id);
CREATE INDEX IF NOT EXISTS idx_listing_product ON listing_api(product_id);

-- Versioned product-detail captures. A row is appended only when the
-- content hash differs from the product's most recent snapshot; the row id
-- is the snapshot id that review pages reference.
CREATE TABLE IF NOT EXISTS product_api (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    source_name TEXT NOT NULL,
    product_id INTEGER NOT NULL,
    data TEXT NOT NULL,
    data_hash TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_product_latest ON product_api(product_id, id DESC);

-- Full review page payloads, owned by the product snapshot that was
-- current when the page was fetched.
CREATE TABLE IF NOT EXISTS review_api (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    source_name TEXT NOT NULL,
    product_id INTEGER NOT NULL,
    product_snapshot_id INTEGER NOT NULL,
    page_number INTEGER NOT NULL,
    data TEXT NOT NULL,
    data_hash TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(product_id, product_snapshot_id, page_number, data_hash)
);

CREATE INDEX IF NOT EXISTS idx_review_product ON review_api(product_id);
`
