package store

// Schema is the complete DDL for the njuskalohr persisted state.
const Schema = `
CREATE TABLE IF NOT EXISTS scraped_stores (
    id                  INTEGER PRIMARY KEY,
    url                 TEXT UNIQUE NOT NULL,
    results             TEXT,
    is_valid            INTEGER NOT NULL,
    is_automoto         INTEGER,
    new_vehicle_count   INTEGER NOT NULL DEFAULT 0,
    used_vehicle_count  INTEGER NOT NULL DEFAULT 0,
    test_vehicle_count  INTEGER NOT NULL DEFAULT 0,
    total_vehicle_count INTEGER NOT NULL DEFAULT 0,
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_scraped_stores_url ON scraped_stores(url);

CREATE TABLE IF NOT EXISTS store_snapshots (
    id           INTEGER PRIMARY KEY,
    url          TEXT NOT NULL,
    scraped_at   TEXT NOT NULL,
    active_new   INTEGER NOT NULL,
    active_used  INTEGER NOT NULL,
    active_test  INTEGER NOT NULL,
    active_total INTEGER NOT NULL,
    delta_new    INTEGER NOT NULL,
    delta_used   INTEGER NOT NULL,
    delta_test   INTEGER NOT NULL,
    delta_total  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_store_snapshots_url_time ON store_snapshots(url, scraped_at DESC);
`
