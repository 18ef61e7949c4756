package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/heathcliff26/buildhook/pkg/build"
	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/heathcliff26/buildhook/pkg/installation"
	"github.com/heathcliff26/buildhook/pkg/queue"
	"github.com/heathcliff26/buildhook/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuildStore struct {
	lock      sync.Mutex
	builds    map[int64]build.Build
	nextID    int64
	insertErr error
}

func newFakeBuildStore() *fakeBuildStore {
	return &fakeBuildStore{builds: map[int64]build.Build{}}
}

func (s *fakeBuildStore) Insert(_ context.Context, b *build.Build) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	for _, existing := range s.builds {
		if existing.DedupKey == b.DedupKey {
			return build.ErrDuplicate
		}
	}
	s.nextID++
	b.ID = s.nextID
	s.builds[b.ID] = *b
	return nil
}

func (s *fakeBuildStore) FindByDedupKey(_ context.Context, key string) (build.Build, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, b := range s.builds {
		if b.DedupKey == key {
			return b, nil
		}
	}
	return build.Build{}, build.ErrNotFound
}

func (s *fakeBuildStore) UpdateStatus(_ context.Context, id int64, status build.Status) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	b, ok := s.builds[id]
	if !ok {
		return build.ErrNotFound
	}
	b.Status = status
	s.builds[id] = b
	return nil
}

func (s *fakeBuildStore) SetCheckRunID(_ context.Context, id, checkRunID int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	b, ok := s.builds[id]
	if !ok {
		return build.ErrNotFound
	}
	b.CheckRunID = checkRunID
	s.builds[id] = b
	return nil
}

func (s *fakeBuildStore) DeleteByBranch(_ context.Context, provider trigger.Provider, repoID, branch string) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var n int64
	for id, b := range s.builds {
		if b.Provider == provider && b.RepoID == repoID && b.Branch == branch && b.TagName == "" {
			delete(s.builds, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeBuildStore) all() []build.Build {
	s.lock.Lock()
	defer s.lock.Unlock()

	var builds []build.Build
	for _, b := range s.builds {
		builds = append(builds, b)
	}
	return builds
}

type fakeReporter struct {
	checkRunID int64
	err        error
	reported   []build.Build
}

func (r *fakeReporter) BuildQueued(_ context.Context, b build.Build) (int64, error) {
	r.reported = append(r.reported, b)
	return r.checkRunID, r.err
}

type testEnv struct {
	queue         *queue.Queue
	builds        *fakeBuildStore
	reporter      *fakeReporter
	installations *installation.Registry
	consumer      *Consumer
}

func newTestEnv(maxAttempts int) *testEnv {
	env := &testEnv{
		queue:         queue.New(queue.NewMemoryStore(), "webhooks"),
		builds:        newFakeBuildStore(),
		reporter:      &fakeReporter{},
		installations: installation.NewRegistry(installation.NewMemoryStore()),
	}
	cfg := config.DefaultConfig().Queue
	cfg.MaxAttempts = maxAttempts
	env.consumer = New(env.queue, env.builds, env.reporter, env.installations, cfg, nil)
	return env
}

func (e *testEnv) push(t *testing.T, tr trigger.BuildTrigger) {
	t.Helper()
	_, err := e.queue.Push(context.Background(), queue.Inbox, tr)
	require.NoError(t, err)
}

func (e *testEnv) process(t *testing.T) {
	t.Helper()
	ok, err := e.consumer.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "Inbox should not be empty")
}

func (e *testEnv) partitionLen(t *testing.T, p queue.Partition) int64 {
	t.Helper()
	n, err := e.queue.Len(context.Background(), p)
	require.NoError(t, err)
	return n
}

func pushTrigger(branch, commit string) trigger.BuildTrigger {
	return trigger.BuildTrigger{
		Provider:     trigger.ProviderGithub,
		EventType:    "push",
		RepoID:       "1",
		RepoFullName: "octo/repo",
		RefKind:      trigger.RefKindBranch,
		Ref:          "refs/heads/" + branch,
		RefName:      branch,
		CommitID:     commit,
	}
}

// Pull request against base
func prTrigger(base, commit string, number int) trigger.BuildTrigger {
	return trigger.BuildTrigger{
		Provider:          trigger.ProviderGithub,
		EventType:         "pull_request",
		RepoID:            "1",
		RepoFullName:      "octo/repo",
		RefKind:           trigger.RefKindPullRequest,
		RefName:           base,
		CommitID:          commit,
		PullRequestNumber: number,
		Action:            "opened",
	}
}

func TestDeleteBranchMatchesStoredBuilds(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)

	env.push(t, prTrigger("feature", "p1", 5))
	env.process(t)
	require.Len(t, env.builds.all(), 1)

	tag := pushTrigger("v1", "t1")
	tag.EventType = "tag"
	tag.RefKind = trigger.RefKindTag
	tag.BaseBranch = "feature"

	env.push(t, trigger.BuildTrigger{
		Provider:  trigger.ProviderGithub,
		EventType: "delete",
		RepoID:    "1",
		RefKind:   trigger.RefKindBranch,
		RefName:   "feature",
	})
	env.push(t, prTrigger("feature", "p2", 6))
	env.push(t, tag)
	env.process(t)

	assert.Empty(env.builds.all(), "Pull request builds against the deleted base are removed")
	assert.Equal(int64(1), env.partitionLen(t, queue.Inbox), "Queued pull requests are purged like stored ones, tags are kept")

	env.process(t)
	builds := env.builds.all()
	require.Len(t, builds, 1)
	assert.Equal("v1", builds[0].TagName)
}

const synchronizePayload = `{
	"action": "synchronize",
	"number": 42,
	"pull_request": {
		"number": 42,
		"title": "Add login",
		"updated_at": "2024-01-01T10:00:00Z",
		"user": {"login": "octocat"},
		"head": {"sha": "abc123", "ref": "feature"},
		"base": {"ref": "main", "repo": {"id": 7, "full_name": "a/b"}}
	},
	"repository": {"id": 7, "full_name": "a/b"},
	"installation": {"id": 99}
}`

func TestPullRequestEndToEnd(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)
	env.reporter.checkRunID = 555

	res, err := trigger.NewNormalizer().Normalize(trigger.ProviderGithubApp, "pull_request", []byte(synchronizePayload))
	require.NoError(t, err)
	require.False(t, res.NoOp)

	tr := res.Trigger
	assert.Equal(trigger.RefKindPullRequest, tr.RefKind)
	assert.Equal(42, tr.PullRequestNumber)
	assert.Equal("abc123", tr.CommitID)
	assert.Equal("main", tr.RefName)
	assert.Equal("synchronize", tr.Action)

	env.push(t, tr)
	env.process(t)

	builds := env.builds.all()
	require.Len(t, builds, 1)
	b := builds[0]
	assert.Equal(build.StatusPending, b.Status)
	assert.Equal("main", b.Branch)
	assert.Equal("abc123", b.CommitID)
	assert.Equal(42, b.PullRequestNumber)
	assert.Equal(int64(99), b.InstallationID)
	assert.Equal(int64(555), b.CheckRunID)

	require.Len(t, env.reporter.reported, 1)
	assert.Equal(int64(1), env.partitionLen(t, queue.Success))
	assert.Zero(env.partitionLen(t, queue.Inbox))
}

func TestDuplicateDelivery(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)

	tr := pushTrigger("main", "abc")
	env.push(t, tr)
	redelivered := tr
	redelivered.DeliveryID = "second"
	env.push(t, redelivered)

	env.process(t)
	env.process(t)

	assert.Len(env.builds.all(), 1)
	assert.Len(env.reporter.reported, 1, "Duplicates must not be reported again")
	assert.Equal(int64(2), env.partitionLen(t, queue.Success))
}

func TestPullRequestActions(t *testing.T) {
	tMatrix := map[string]bool{
		"opened":      true,
		"synchronize": true,
		"reopened":    true,
		"closed":      false,
		"labeled":     false,
	}

	for action, buildable := range tMatrix {
		t.Run(action, func(t *testing.T) {
			env := newTestEnv(3)
			env.push(t, trigger.BuildTrigger{
				Provider:          trigger.ProviderGithubApp,
				EventType:         "pull_request",
				RepoID:            "7",
				RefKind:           trigger.RefKindPullRequest,
				RefName:           "main",
				PullRequestNumber: 42,
				Action:            action,
				CommitID:          "abc123",
			})
			env.process(t)

			if buildable {
				assert.Len(t, env.builds.all(), 1)
			} else {
				assert.Empty(t, env.builds.all())
			}
		})
	}
}

func TestAuditAndNonBuildable(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)

	env.push(t, trigger.BuildTrigger{Provider: trigger.ProviderGithub, EventType: "ping", RefKind: trigger.RefKindNone, Audit: true})
	env.push(t, trigger.BuildTrigger{Provider: trigger.ProviderGithub, EventType: "push", RefKind: trigger.RefKindBranch, RefName: "main"})
	env.process(t)
	env.process(t)

	assert.Empty(env.builds.all())
	assert.Empty(env.reporter.reported)
	assert.Equal(int64(2), env.partitionLen(t, queue.Success))
}

func TestInstallationChange(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)
	ctx := context.Background()

	added := trigger.BuildTrigger{
		Provider:  trigger.ProviderGithubApp,
		EventType: "installation_repositories",
		Installation: &trigger.InstallationChange{
			ID: 99, Action: "added", Added: []trigger.Repository{{ID: 7, FullName: "a/b"}},
		},
	}
	removed := added
	removed.Installation = &trigger.InstallationChange{
		ID: 99, Action: "removed", Removed: []trigger.Repository{{ID: 7, FullName: "a/b"}},
	}

	env.push(t, added)
	env.process(t)
	ok, err := env.installations.Contains(ctx, 99, 7)
	require.NoError(t, err)
	assert.True(ok)

	env.push(t, removed)
	env.push(t, removed)
	env.process(t)
	env.process(t)

	ok, err = env.installations.Contains(ctx, 99, 7)
	require.NoError(t, err)
	assert.False(ok)
	assert.Equal(int64(3), env.partitionLen(t, queue.Success))
}

func TestDeleteBranchInvalidates(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)

	env.push(t, pushTrigger("feature", "f1"))
	env.process(t)
	require.Len(t, env.builds.all(), 1)

	env.push(t, trigger.BuildTrigger{
		Provider:  trigger.ProviderGithub,
		EventType: "delete",
		RepoID:    "1",
		RefKind:   trigger.RefKindBranch,
		Ref:       "feature",
		RefName:   "feature",
	})
	env.push(t, pushTrigger("feature", "f2"))
	env.push(t, prTrigger("feature", "p1", 5))
	env.push(t, pushTrigger("main", "m1"))

	env.process(t)

	assert.Empty(env.builds.all(), "Builds of the deleted branch should be removed")
	assert.Equal(int64(1), env.partitionLen(t, queue.Inbox), "Only the main trigger should remain")

	env.process(t)
	builds := env.builds.all()
	require.Len(t, builds, 1)
	assert.Equal("main", builds[0].Branch)
}

func TestRollbackAndExhaust(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(2)
	env.builds.insertErr = errors.New("database is locked")

	env.push(t, pushTrigger("main", "abc"))
	env.push(t, pushTrigger("main", "def"))

	env.process(t)
	assert.Equal(int64(2), env.partitionLen(t, queue.Inbox), "Failed item should be rolled back")

	env.builds.insertErr = nil
	env.process(t)
	assert.Len(env.builds.all(), 1, "Second item is processed before the rolled back one")

	env.builds.insertErr = errors.New("database is locked")
	env.process(t)
	assert.Zero(env.partitionLen(t, queue.Inbox))
	assert.Equal(int64(1), env.partitionLen(t, queue.Error), "Exhausted item should be moved to the error partition")

	failed, ok, err := env.queue.Pop(context.Background(), queue.Error)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal("abc", failed.Trigger.CommitID)
	assert.Equal(2, failed.Attempts)
	assert.Equal("failed to create build: database is locked", failed.LastError)
}

func TestExhaustMarksBuildErrored(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(1)

	tr := pushTrigger("main", "abc")
	env.consumer.builds = &ambiguousInsertStore{fakeBuildStore: env.builds}

	env.push(t, tr)
	env.process(t)

	got, err := env.builds.FindByDedupKey(context.Background(), tr.DedupKey())
	require.NoError(t, err)
	assert.Equal(build.StatusErrored, got.Status)
	assert.Equal(int64(1), env.partitionLen(t, queue.Error))
}

// Stores the build but reports a failure, like a connection lost after commit
type ambiguousInsertStore struct {
	*fakeBuildStore
}

func (s *ambiguousInsertStore) Insert(ctx context.Context, b *build.Build) error {
	err := s.fakeBuildStore.Insert(ctx, b)
	if err != nil {
		return err
	}
	return errors.New("connection reset")
}

func TestCheckRunIDFailureKeepsBuild(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)
	env.reporter.checkRunID = 1

	tr := pushTrigger("main", "abc")
	env.consumer.builds = &failingCheckRunStore{fakeBuildStore: env.builds}

	env.push(t, tr)
	env.process(t)

	got, err := env.builds.FindByDedupKey(context.Background(), tr.DedupKey())
	require.NoError(t, err)
	assert.Equal(build.StatusPending, got.Status)
	assert.Zero(got.CheckRunID)
	assert.Equal(int64(1), env.partitionLen(t, queue.Success))
	assert.Zero(env.partitionLen(t, queue.Inbox), "The item must not be retried")
	assert.Zero(env.partitionLen(t, queue.Error))
}

// Stores builds but fails to save check run ids
type failingCheckRunStore struct {
	*fakeBuildStore
}

func (s *failingCheckRunStore) SetCheckRunID(context.Context, int64, int64) error {
	return errors.New("disk full")
}

func TestReporterFailureIsBestEffort(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(3)
	env.reporter.err = errors.New("github unavailable")

	env.push(t, pushTrigger("main", "abc"))
	env.process(t)

	assert.Len(env.builds.all(), 1)
	assert.Equal(int64(1), env.partitionLen(t, queue.Success))
}

func TestProcessNextEmpty(t *testing.T) {
	env := newTestEnv(3)

	ok, err := env.consumer.ProcessNext(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(3)
	env.push(t, pushTrigger("main", "abc"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- env.consumer.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(env.builds.all()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Consumer did not stop")
	}
}
