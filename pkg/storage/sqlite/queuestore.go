package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/heathcliff26/buildhook/pkg/queue"
)

var _ queue.Store = (*QueueStore)(nil)

// QueueStore keeps queue partitions in the queue_items table, ordered by row id
type QueueStore struct {
	db *DB
}

func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Push(ctx context.Context, key string, data []byte) (int64, error) {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO queue_items (queue_key, data) VALUES (?, ?)`, key, data)
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}

	var n int64
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE queue_key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("commit queue item: %w", err)
	}
	return n, nil
}

func (s *QueueStore) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id int64
	var data []byte
	err = tx.QueryRowContext(ctx, `SELECT id, data FROM queue_items WHERE queue_key = ? ORDER BY id LIMIT 1`, key).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select queue head: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return nil, false, fmt.Errorf("delete queue head: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, false, fmt.Errorf("commit queue pop: %w", err)
	}
	return data, true, nil
}

func (s *QueueStore) Len(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE queue_key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return n, nil
}

func (s *QueueStore) Remove(ctx context.Context, key string, match func([]byte) bool) (int, error) {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `SELECT id, data FROM queue_items WHERE queue_key = ? ORDER BY id`, key)
	if err != nil {
		return 0, fmt.Errorf("query queue items: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		var data []byte
		err = rows.Scan(&id, &data)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan queue item: %w", err)
		}
		if match(data) {
			ids = append(ids, id)
		}
	}
	rows.Close()
	err = rows.Err()
	if err != nil {
		return 0, fmt.Errorf("iterate queue items: %w", err)
	}

	for _, id := range ids {
		_, err = tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
		if err != nil {
			return 0, fmt.Errorf("delete queue item %d: %w", id, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("commit queue purge: %w", err)
	}
	return len(ids), nil
}
