package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/heathcliff26/buildhook/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return NewRedisStoreFromClient(rdb), mr
}

func testStores(t *testing.T) map[string]Store {
	redisStore, _ := newRedisTestStore(t)
	return map[string]Store{
		"Memory": NewMemoryStore(),
		"Redis":  redisStore,
	}
}

func commitTrigger(commit string) trigger.BuildTrigger {
	return trigger.BuildTrigger{
		Provider:  trigger.ProviderGithub,
		EventType: "push",
		RepoID:    "1",
		RefKind:   trigger.RefKindBranch,
		RefName:   "main",
		CommitID:  commit,
	}
}

func mustPop(t *testing.T, q *Queue, p Partition) Item {
	t.Helper()

	item, ok, err := q.Pop(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok, "Partition should not be empty")
	return item
}

func TestKeys(t *testing.T) {
	assert := assert.New(t)

	q := New(NewMemoryStore(), "webhooks")
	assert.Equal("webhooks", q.Key(Inbox))
	assert.Equal("webhooks_success", q.Key(Success))
	assert.Equal("webhooks_error", q.Key(Error))
}

func TestFIFO(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			q := New(store, "webhooks")

			for i, commit := range []string{"i1", "i2", "i3"} {
				item, err := q.Push(ctx, Inbox, commitTrigger(commit))
				require.NoError(t, err)
				assert.Equal(int64(i+1), item.Position)
				assert.NotEmpty(item.ID)
			}

			for _, commit := range []string{"i1", "i2", "i3"} {
				assert.Equal(commit, mustPop(t, q, Inbox).Trigger.CommitID)
			}

			_, ok, err := q.Pop(ctx, Inbox)
			assert.NoError(err)
			assert.False(ok, "Queue should be empty")
		})
	}
}

func TestRollback(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			q := New(store, "webhooks")

			for _, commit := range []string{"i1", "i2", "i3"} {
				_, err := q.Push(ctx, Inbox, commitTrigger(commit))
				require.NoError(t, err)
			}

			i1 := mustPop(t, q, Inbox)
			i2 := mustPop(t, q, Inbox)
			assert.Equal("i2", i2.Trigger.CommitID)

			rolled, err := q.Rollback(ctx, i1, errors.New("worker failed"))
			require.NoError(t, err)
			assert.Equal(1, rolled.Attempts)
			assert.Equal("worker failed", rolled.LastError)
			assert.Equal(0, i1.Attempts, "Rollback must not modify the original item")

			next := mustPop(t, q, Inbox)
			assert.Equal("i3", next.Trigger.CommitID)

			retried := mustPop(t, q, Inbox)
			assert.Equal("i1", retried.Trigger.CommitID)
			assert.Equal(i1.ID, retried.ID)
			assert.Equal(1, retried.Attempts)
		})
	}
}

func TestPartitions(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			q := New(store, "webhooks")

			_, err := q.Push(ctx, Inbox, commitTrigger("ok"))
			require.NoError(t, err)
			_, err = q.Push(ctx, Inbox, commitTrigger("bad"))
			require.NoError(t, err)

			require.NoError(t, q.MarkSuccess(ctx, mustPop(t, q, Inbox)))
			require.NoError(t, q.MarkError(ctx, mustPop(t, q, Inbox), errors.New("exhausted")))
			_, err = q.Reject(ctx, trigger.BuildTrigger{EventType: "push", RawPayload: []byte("{")}, errors.New("malformed"))
			require.NoError(t, err)

			for p, expected := range map[Partition]int64{Inbox: 0, Success: 1, Error: 2} {
				n, err := q.Len(ctx, p)
				assert.NoError(err)
				assert.Equal(expected, n, "Partition %s", p)
			}

			success := mustPop(t, q, Success)
			assert.Equal(Success, success.Partition)
			assert.Equal("ok", success.Trigger.CommitID)

			failed := mustPop(t, q, Error)
			assert.Equal(Error, failed.Partition)
			assert.Equal("exhausted", failed.LastError)

			rejected := mustPop(t, q, Error)
			assert.Equal("malformed", rejected.LastError)
			assert.Equal([]byte("{"), rejected.Trigger.RawPayload)
		})
	}
}

func TestPurge(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			q := New(store, "webhooks")

			feature := commitTrigger("f1")
			feature.RefName = "feature"
			for _, tr := range []trigger.BuildTrigger{commitTrigger("m1"), feature, commitTrigger("m2")} {
				_, err := q.Push(ctx, Inbox, tr)
				require.NoError(t, err)
			}

			n, err := q.Purge(ctx, Inbox, func(tr trigger.BuildTrigger) bool {
				return tr.Branch() == "feature"
			})
			assert.NoError(err)
			assert.Equal(1, n)

			assert.Equal("m1", mustPop(t, q, Inbox).Trigger.CommitID)
			assert.Equal("m2", mustPop(t, q, Inbox).Trigger.CommitID)
		})
	}
}

func TestUnavailable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store, mr := newRedisTestStore(t)
	q := New(store, "webhooks")
	mr.Close()

	_, err := q.Push(ctx, Inbox, commitTrigger("i1"))
	assert.ErrorIs(err, ErrUnavailable)

	_, _, err = q.Pop(ctx, Inbox)
	assert.ErrorIs(err, ErrUnavailable)

	_, err = q.Len(ctx, Inbox)
	assert.ErrorIs(err, ErrUnavailable)
}

func TestPopCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := New(store, "webhooks")

	_, err := store.Push(ctx, q.Key(Inbox), []byte("not json"))
	require.NoError(t, err)

	_, ok, err := q.Pop(ctx, Inbox)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.False(t, ok)
}
