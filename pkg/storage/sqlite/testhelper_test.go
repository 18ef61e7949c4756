package sqlite

import (
	"fmt"
	"net/url"
	"testing"
	"time"
)

// setupTestDB creates a shared in-memory database named after the test.
// WAL mode does not apply to in-memory databases.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", url.PathEscape(t.Name()), dsnPragmas)

	db, err := openDSN(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	err = RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
}
