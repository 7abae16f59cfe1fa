// Package store is the persistence layer for the store registry (C1)
// and the append-only snapshot ledger (C2). It owns the single embedded
// SQLite database that is the sole source of truth for both tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store... (see types.go). DB is the persistence handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the njuskalohr SQLite database at path and
// applies the schema.
func Open(path string) (*DB, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// timeLayout is RFC 3339 with a fixed nine-digit fraction, so stored
// timestamps compare and sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// IsEmpty reports whether the registry has no rows at all.
func (d *DB) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scraped_stores`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: count: %w", err)
	}
	return n == 0, nil
}

// NewestUpdatedAt returns the most recent updated_at across the
// registry, or the zero time if the registry is empty.
func (d *DB) NewestUpdatedAt(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM scraped_stores`).Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: newest updated_at: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, raw.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return t, nil
}

// SeedNew inserts any URLs not already present with defaults
// (is_valid=true, is_automoto=NULL, counts=0). Returns the count of
// rows actually inserted.
func (d *DB) SeedNew(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	inserted := 0
	err := runTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO scraped_stores
				(url, results, is_valid, is_automoto, new_vehicle_count,
				 used_vehicle_count, test_vehicle_count, total_vehicle_count,
				 created_at, updated_at)
			VALUES (?, '', 1, NULL, 0, 0, 0, 0, ?, ?)
			ON CONFLICT(url) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(timeLayout)
		for _, u := range urls {
			res, err := stmt.ExecContext(ctx, u, now, now)
			if err != nil {
				return fmt.Errorf("insert %s: %w", u, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListToScrape returns known store URLs ordered by updated_at ascending
// (least-recently-scraped first, NULL/oldest first), truncated to limit
// when limit > 0.
func (d *DB) ListToScrape(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT url FROM scraped_stores ORDER BY updated_at ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list to scrape: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("store: scan url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// PersistVisit is the single-transaction write for one store visit: it
// updates the existing C1 registry row (a URL with no registry row is not
// inserted) and, when the visit was valid, appends a
// C2 snapshot row with deltas computed against the prior snapshot for
// the same URL. An invalid visit updates only is_valid/updated_at and
// appends no snapshot (see SPEC_FULL.md Open Questions).
func (d *DB) PersistVisit(ctx context.Context, url string, outcome Outcome) (Snapshot, error) {
	var snap Snapshot
	now := time.Now().UTC()
	nowStr := now.Format(timeLayout)

	err := runTx(ctx, d.db, func(tx *sql.Tx) error {
		if !outcome.IsValid {
			_, err := tx.ExecContext(ctx, `
				UPDATE scraped_stores SET is_valid = 0, updated_at = ?
				WHERE url = ?
			`, nowStr, url)
			if err != nil {
				return fmt.Errorf("mark invalid: %w", err)
			}
			return nil
		}

		total := outcome.Total()
		_, err := tx.ExecContext(ctx, `
			UPDATE scraped_stores SET
				is_valid = 1,
				is_automoto = ?,
				new_vehicle_count = ?,
				used_vehicle_count = ?,
				test_vehicle_count = ?,
				total_vehicle_count = ?,
				updated_at = ?
			WHERE url = ?
		`, boolToInt(outcome.IsAutomoto), outcome.New, outcome.Used, outcome.Test, total, nowStr, url)
		if err != nil {
			return fmt.Errorf("upsert outcome: %w", err)
		}

		prev, err := lastSnapshot(ctx, tx, url)
		if err != nil {
			return fmt.Errorf("read prior snapshot: %w", err)
		}

		snap = Snapshot{
			URL:         url,
			ScrapedAt:   now,
			ActiveNew:   outcome.New,
			ActiveUsed:  outcome.Used,
			ActiveTest:  outcome.Test,
			ActiveTotal: total,
		}
		if prev != nil {
			snap.DeltaNew = outcome.New - prev.ActiveNew
			snap.DeltaUsed = outcome.Used - prev.ActiveUsed
			snap.DeltaTest = outcome.Test - prev.ActiveTest
			snap.DeltaTotal = total - prev.ActiveTotal
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_snapshots
				(url, scraped_at, active_new, active_used, active_test, active_total,
				 delta_new, delta_used, delta_test, delta_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, snap.URL, snap.ScrapedAt.Format(timeLayout), snap.ActiveNew, snap.ActiveUsed,
			snap.ActiveTest, snap.ActiveTotal, snap.DeltaNew, snap.DeltaUsed,
			snap.DeltaTest, snap.DeltaTotal)
		if err != nil {
			return fmt.Errorf("append snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// lastSnapshot returns the most recent snapshot row for url, or nil if
// none exists yet. Must run inside the same transaction as the append
// that follows it, per the invariant that the ledger is the single
// source of truth for deltas (no caching).
func lastSnapshot(ctx context.Context, tx *sql.Tx, url string) (*Snapshot, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT active_new, active_used, active_test, active_total
		FROM store_snapshots
		WHERE url = ?
		ORDER BY scraped_at DESC, id DESC
		LIMIT 1
	`, url)

	var s Snapshot
	err := row.Scan(&s.ActiveNew, &s.ActiveUsed, &s.ActiveTest, &s.ActiveTotal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStore fetches a single registry row by URL.
func (d *DB) GetStore(ctx context.Context, url string) (Store, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT url, results, is_valid, is_automoto, new_vehicle_count,
		       used_vehicle_count, test_vehicle_count, total_vehicle_count,
		       created_at, updated_at
		FROM scraped_stores WHERE url = ?
	`, url)

	var s Store
	var isValidInt int
	var isAutomoto sql.NullInt64
	var createdAt, updatedAt string
	err := row.Scan(&s.URL, &s.Results, &isValidInt, &isAutomoto, &s.NewVehicleCount,
		&s.UsedVehicleCount, &s.TestVehicleCount, &s.TotalVehicleCount,
		&createdAt, &updatedAt)
	if err != nil {
		return Store{}, fmt.Errorf("store: get store: %w", err)
	}

	s.IsValid = isValidInt != 0
	if isAutomoto.Valid {
		b := isAutomoto.Int64 != 0
		s.IsAutomoto = &b
	}
	s.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return Store{}, fmt.Errorf("store: parse created_at: %w", err)
	}
	s.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return Store{}, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return s, nil
}

// LatestSnapshots returns every snapshot row with scraped_at at or after
// since, oldest first.
func (d *DB) LatestSnapshots(ctx context.Context, since time.Time) ([]Snapshot, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT url, scraped_at, active_new, active_used, active_test, active_total,
		       delta_new, delta_used, delta_test, delta_total
		FROM store_snapshots
		WHERE scraped_at >= ?
		ORDER BY scraped_at ASC
	`, since.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("store: latest snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var scrapedAt string
		if err := rows.Scan(&s.URL, &scrapedAt, &s.ActiveNew, &s.ActiveUsed, &s.ActiveTest,
			&s.ActiveTotal, &s.DeltaNew, &s.DeltaUsed, &s.DeltaTest, &s.DeltaTotal); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		s.ScrapedAt, err = time.Parse(timeLayout, scrapedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse scraped_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
