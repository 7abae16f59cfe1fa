package store

import "testing"

// OpenMemory opens an in-memory database for tests and registers
// cleanup to close it.
func OpenMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store: open memory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
