// Package sqlite persists builds, installations and queue entries in a SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB holds separate connections for writing and reading.
// SQLite allows a single writer, so the writer pool is limited to one connection.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

const dsnPragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"

// Open the database at path with WAL mode enabled and apply all migrations
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s", path, dsnPragmas)

	db, err := openDSN(dsn)
	if err != nil {
		return nil, err
	}
	db.path = path

	err = RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openDSN(dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	err = writer.Ping()
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	err = reader.Ping()
	if err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{
		Writer: writer,
		Reader: reader,
		path:   dsn,
	}, nil
}

// Close both connections, returns the first error
func (db *DB) Close() error {
	var firstErr error

	err := db.Reader.Close()
	if err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	err = db.Writer.Close()
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
