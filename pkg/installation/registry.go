// Package installation tracks which repositories a GitHub App installation grants access to.
package installation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/heathcliff26/buildhook/pkg/trigger"
)

const (
	ActionCreated = "created"
	ActionDeleted = "deleted"
	ActionAdded   = "added"
	ActionRemoved = "removed"
)

// Store persists installations and their (installation, repository) memberships.
// All mutations are idempotent.
type Store interface {
	Create(ctx context.Context, id, senderID int64) error
	Delete(ctx context.Context, id int64) error
	AddRepositories(ctx context.Context, id int64, repos []trigger.Repository) error
	RemoveRepositories(ctx context.Context, id int64, repoIDs []int64) error
	Repositories(ctx context.Context, id int64) ([]trigger.Repository, error)
}

// Registry applies installation changes. Changes to the same installation are serialized.
type Registry struct {
	store Store

	lock  sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		locks: make(map[int64]*keyLock),
	}
}

func (r *Registry) acquire(id int64) *keyLock {
	r.lock.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &keyLock{}
		r.locks[id] = l
	}
	l.refs++
	r.lock.Unlock()

	l.Lock()
	return l
}

func (r *Registry) release(id int64, l *keyLock) {
	l.Unlock()

	r.lock.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, id)
	}
	r.lock.Unlock()
}

// Apply an installation change to the store
func (r *Registry) Apply(ctx context.Context, change trigger.InstallationChange) error {
	if change.ID <= 0 {
		return fmt.Errorf("invalid installation id %d", change.ID)
	}

	l := r.acquire(change.ID)
	defer r.release(change.ID, l)

	if change.Deleted {
		slog.Info("Removing installation", slog.Int64("installation", change.ID))
		return r.store.Delete(ctx, change.ID)
	}

	if change.Action == ActionCreated {
		err := r.store.Create(ctx, change.ID, change.SenderID)
		if err != nil {
			return fmt.Errorf("failed to create installation %d: %w", change.ID, err)
		}
	}

	if len(change.Added) > 0 {
		slog.Info("Adding repositories to installation", slog.Int64("installation", change.ID), slog.Int("count", len(change.Added)))
		err := r.store.AddRepositories(ctx, change.ID, change.Added)
		if err != nil {
			return fmt.Errorf("failed to add repositories to installation %d: %w", change.ID, err)
		}
	}

	if len(change.Removed) > 0 {
		ids := make([]int64, 0, len(change.Removed))
		for _, repo := range change.Removed {
			ids = append(ids, repo.ID)
		}
		slog.Info("Removing repositories from installation", slog.Int64("installation", change.ID), slog.Int("count", len(ids)))
		err := r.store.RemoveRepositories(ctx, change.ID, ids)
		if err != nil {
			return fmt.Errorf("failed to remove repositories from installation %d: %w", change.ID, err)
		}
	}

	return nil
}

// Check if the installation has access to the repository
func (r *Registry) Contains(ctx context.Context, id, repoID int64) (bool, error) {
	repos, err := r.store.Repositories(ctx, id)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(repos, func(repo trigger.Repository) bool {
		return repo.ID == repoID
	}), nil
}

func (r *Registry) Repositories(ctx context.Context, id int64) ([]trigger.Repository, error) {
	return r.store.Repositories(ctx, id)
}
