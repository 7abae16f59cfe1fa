package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const maxRetries = 3

// isBusy reports whether err indicates a SQLite BUSY condition. SQLite's
// C driver doesn't expose a typed sentinel for this, so string matching
// is the only option available.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx executes fn inside a transaction, making up to 3 attempts in
// total on SQLITE_BUSY and waiting 100ms, then 200ms, between them.
func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusy(err) || i == maxRetries-1 {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(100*(i+1))*time.Millisecond); err != nil {
			return fmt.Errorf("store: context cancelled during retry: %w", err)
		}
	}
	return fmt.Errorf("store: retry exhausted: %w", lastErr)
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
