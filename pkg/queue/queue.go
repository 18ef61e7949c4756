// Package queue buffers build triggers between webhook receipt and processing.
//
// The queue has three independently ordered partitions. Triggers wait in the
// inbox until a consumer pops them, processed triggers are copied into the
// success or error partition for inspection.
//
// Delivery is at-least-once only up to the pop: an item that was popped but
// neither acknowledged nor rolled back (e.g. the consumer crashed) is gone.
// There is no visibility timeout. Consumers that need stronger guarantees have
// to keep their own acknowledgment window around Pop.
//
// Rollback appends the item to the tail of the inbox. A failed item loses its
// original position and is retried after everything that arrived in between.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/heathcliff26/buildhook/pkg/trigger"
)

type Partition string

const (
	Inbox   Partition = "inbox"
	Success Partition = "success"
	Error   Partition = "error"
)

var Partitions = []Partition{Inbox, Success, Error}

// ErrUnavailable wraps every failure of the underlying storage
var ErrUnavailable = errors.New("queue storage unavailable")

// Store is a durable list per key with push to tail and pop from head.
type Store interface {
	// Append data to the tail of the list, returns the new length
	Push(ctx context.Context, key string, data []byte) (int64, error)
	// Remove and return the head of the list, ok is false when the list is empty
	Pop(ctx context.Context, key string) (data []byte, ok bool, err error)
	Len(ctx context.Context, key string) (int64, error)
	// Delete all entries for which match returns true, returns the number of deleted entries
	Remove(ctx context.Context, key string, match func(data []byte) bool) (int, error)
}

// Item is the immutable queue representation of a trigger
type Item struct {
	ID         string               `json:"id"`
	Partition  Partition            `json:"partition"`
	Trigger    trigger.BuildTrigger `json:"trigger"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	// Number of failed processing attempts so far
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
	// Length of the partition after the push, 1 means the item is next
	Position int64 `json:"-"`
}

type Queue struct {
	store Store
	key   string
	now   func() time.Time
}

// Create a new queue on top of store, key is used as the base name of the partitions
func New(store Store, key string) *Queue {
	return &Queue{
		store: store,
		key:   key,
		now:   time.Now,
	}
}

// Return the storage key of a partition: "<key>", "<key>_success" and "<key>_error"
func (q *Queue) Key(p Partition) string {
	if p == Inbox {
		return q.key
	}
	return q.key + "_" + string(p)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (q *Queue) push(ctx context.Context, item Item) (Item, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return Item{}, fmt.Errorf("failed to marshal queue item: %w", err)
	}

	pos, err := q.store.Push(ctx, q.Key(item.Partition), data)
	if err != nil {
		return Item{}, unavailable("push", err)
	}
	item.Position = pos
	return item, nil
}

// Push a trigger to the tail of a partition
func (q *Queue) Push(ctx context.Context, p Partition, t trigger.BuildTrigger) (Item, error) {
	return q.push(ctx, Item{
		ID:         uuid.NewString(),
		Partition:  p,
		Trigger:    t,
		EnqueuedAt: q.now().UTC(),
	})
}

// Pop the oldest item of a partition, ok is false if the partition is empty
func (q *Queue) Pop(ctx context.Context, p Partition) (Item, bool, error) {
	data, ok, err := q.store.Pop(ctx, q.Key(p))
	if err != nil {
		return Item{}, false, unavailable("pop", err)
	}
	if !ok {
		return Item{}, false, nil
	}

	var item Item
	err = json.Unmarshal(data, &item)
	if err != nil {
		return Item{}, false, fmt.Errorf("failed to unmarshal queue item: %w", err)
	}
	return item, true, nil
}

// Push a failed item back to the tail of the inbox with the attempt counted.
// The item is retried after all items that are currently waiting.
func (q *Queue) Rollback(ctx context.Context, item Item, cause error) (Item, error) {
	item.Partition = Inbox
	item.Attempts++
	if cause != nil {
		item.LastError = cause.Error()
	}
	item.EnqueuedAt = q.now().UTC()
	return q.push(ctx, item)
}

// Record a processed item in the success partition
func (q *Queue) MarkSuccess(ctx context.Context, item Item) error {
	item.Partition = Success
	_, err := q.push(ctx, item)
	return err
}

// Record a failed item in the error partition for manual inspection
func (q *Queue) MarkError(ctx context.Context, item Item, cause error) error {
	item.Partition = Error
	if cause != nil {
		item.LastError = cause.Error()
	}
	_, err := q.push(ctx, item)
	return err
}

// Record a delivery that never made it into the inbox, e.g. because it could not be normalized
func (q *Queue) Reject(ctx context.Context, t trigger.BuildTrigger, cause error) (Item, error) {
	item := Item{
		ID:         uuid.NewString(),
		Partition:  Error,
		Trigger:    t,
		EnqueuedAt: q.now().UTC(),
	}
	if cause != nil {
		item.LastError = cause.Error()
	}
	return q.push(ctx, item)
}

// Number of items waiting in a partition
func (q *Queue) Len(ctx context.Context, p Partition) (int64, error) {
	n, err := q.store.Len(ctx, q.Key(p))
	if err != nil {
		return 0, unavailable("len", err)
	}
	return n, nil
}

// Remove all items of a partition whose trigger matches.
// Entries that can not be decoded are kept.
func (q *Queue) Purge(ctx context.Context, p Partition, match func(trigger.BuildTrigger) bool) (int, error) {
	n, err := q.store.Remove(ctx, q.Key(p), func(data []byte) bool {
		var item Item
		if json.Unmarshal(data, &item) != nil {
			return false
		}
		return match(item.Trigger)
	})
	if err != nil {
		return n, unavailable("purge", err)
	}
	return n, nil
}
