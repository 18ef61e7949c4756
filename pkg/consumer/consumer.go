// Package consumer turns queued triggers into builds.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/heathcliff26/buildhook/pkg/build"
	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/heathcliff26/buildhook/pkg/metrics"
	"github.com/heathcliff26/buildhook/pkg/queue"
	"github.com/heathcliff26/buildhook/pkg/trigger"
)

type Result string

const (
	ResultBuilt        Result = "built"
	ResultDuplicate    Result = "duplicate"
	ResultSkipped      Result = "skipped"
	ResultAudited      Result = "audited"
	ResultInvalidated  Result = "invalidated"
	ResultInstallation Result = "installation"
	ResultRetried      Result = "retried"
	ResultFailed       Result = "failed"
)

// Pull request actions that result in a build
var buildablePullRequestActions = []string{"opened", "synchronize", "reopened"}

type BuildStore interface {
	Insert(ctx context.Context, b *build.Build) error
	FindByDedupKey(ctx context.Context, key string) (build.Build, error)
	UpdateStatus(ctx context.Context, id int64, status build.Status) error
	SetCheckRunID(ctx context.Context, id, checkRunID int64) error
	DeleteByBranch(ctx context.Context, provider trigger.Provider, repoID, branch string) (int64, error)
}

type StatusReporter interface {
	BuildQueued(ctx context.Context, b build.Build) (int64, error)
}

type InstallationRegistry interface {
	Apply(ctx context.Context, change trigger.InstallationChange) error
}

// Consumer pops triggers from the inbox one at a time.
type Consumer struct {
	queue         *queue.Queue
	builds        BuildStore
	reporter      StatusReporter
	installations InstallationRegistry
	recorder      metrics.Recorder

	maxAttempts  int
	pollInterval time.Duration
}

func New(q *queue.Queue, builds BuildStore, reporter StatusReporter, installations InstallationRegistry, cfg config.QueueConfig, recorder metrics.Recorder) *Consumer {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = config.DEFAULT_MAX_ATTEMPTS
	}
	pollInterval := cfg.PollInterval.Duration
	if pollInterval <= 0 {
		pollInterval = config.DEFAULT_POLL_INTERVAL
	}
	return &Consumer{
		queue:         q,
		builds:        builds,
		reporter:      reporter,
		installations: installations,
		recorder:      recorder,
		maxAttempts:   maxAttempts,
		pollInterval:  pollInterval,
	}
}

// Process items until the context is canceled. Sleeps for the poll interval when the inbox is empty.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("Starting trigger consumer", slog.Int("maxAttempts", c.maxAttempts), slog.String("pollInterval", c.pollInterval.String()))

	for {
		processed, err := c.ProcessNext(ctx)
		if err != nil {
			slog.Error("Failed to process queue", "err", err)
		}
		if processed && err == nil {
			continue
		}

		c.updateQueueLength(ctx)
		select {
		case <-ctx.Done():
			slog.Info("Stopping trigger consumer")
			return nil
		case <-time.After(c.pollInterval):
		}
	}
}

// Process the oldest item of the inbox. Returns false if the inbox was empty.
// Failures of the item itself are handled by rollback, only queue errors are returned.
func (c *Consumer) ProcessNext(ctx context.Context) (bool, error) {
	item, ok, err := c.queue.Pop(ctx, queue.Inbox)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	logger := slog.With(slog.String("item", item.ID), slog.String("event", item.Trigger.EventType), slog.String("provider", string(item.Trigger.Provider)))

	res, err := c.handle(ctx, item.Trigger)
	if err == nil {
		logger.Info("Processed trigger", slog.String("result", string(res)))
		c.recorder.IncConsumerResult(string(res))
		return true, c.queue.MarkSuccess(ctx, item)
	}

	attempts := item.Attempts + 1
	if attempts < c.maxAttempts {
		logger.Warn("Failed to process trigger, rolling back", slog.Int("attempt", attempts), "err", err)
		c.recorder.IncConsumerResult(string(ResultRetried))
		_, rollbackErr := c.queue.Rollback(ctx, item, err)
		return true, rollbackErr
	}

	logger.Error("Failed to process trigger, giving up", slog.Int("attempt", attempts), "err", err)
	c.recorder.IncConsumerResult(string(ResultFailed))
	c.markBuildErrored(ctx, item.Trigger)
	item.Attempts = attempts
	return true, c.queue.MarkError(ctx, item, err)
}

func (c *Consumer) handle(ctx context.Context, t trigger.BuildTrigger) (Result, error) {
	if t.Installation != nil {
		err := c.installations.Apply(ctx, *t.Installation)
		if err != nil {
			return "", fmt.Errorf("failed to apply installation change: %w", err)
		}
		return ResultInstallation, nil
	}

	if t.Audit {
		return ResultAudited, nil
	}

	if trigger.EventType(t.EventType) == trigger.EventDelete && t.RefKind == trigger.RefKindBranch {
		return c.invalidateBranch(ctx, t)
	}

	if !t.Buildable() {
		return ResultSkipped, nil
	}
	if t.RefKind == trigger.RefKindPullRequest && !slices.Contains(buildablePullRequestActions, t.Action) {
		return ResultSkipped, nil
	}

	return c.createBuild(ctx, t)
}

func (c *Consumer) createBuild(ctx context.Context, t trigger.BuildTrigger) (Result, error) {
	_, err := c.builds.FindByDedupKey(ctx, t.DedupKey())
	if err == nil {
		return ResultDuplicate, nil
	}
	if !errors.Is(err, build.ErrNotFound) {
		return "", fmt.Errorf("failed to check for existing build: %w", err)
	}

	b := build.FromTrigger(t)
	err = c.builds.Insert(ctx, &b)
	if errors.Is(err, build.ErrDuplicate) {
		return ResultDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create build: %w", err)
	}
	slog.Info("Created build", slog.Int64("build", b.ID), slog.String("repo", b.RepoFullName), slog.String("branch", b.Branch), slog.String("commit", b.CommitID))

	checkRunID, err := c.reporter.BuildQueued(ctx, b)
	if err != nil {
		slog.Warn("Failed to report queued build", slog.Int64("build", b.ID), "err", err)
		return ResultBuilt, nil
	}
	if checkRunID != 0 {
		// A retry would only find the duplicate, so the id is logged for manual repair
		err = c.builds.SetCheckRunID(ctx, b.ID, checkRunID)
		if err != nil {
			slog.Error("Failed to save check run id", slog.Int64("build", b.ID), slog.Int64("checkRun", checkRunID), "err", err)
		}
	}
	return ResultBuilt, nil
}

// Remove all builds of a deleted branch together with triggers for it still waiting in the inbox.
// Pull requests count as builds of their base branch, tags are kept.
func (c *Consumer) invalidateBranch(ctx context.Context, t trigger.BuildTrigger) (Result, error) {
	branch := t.RefName
	deleted, err := c.builds.DeleteByBranch(ctx, t.Provider, t.RepoID, branch)
	if err != nil {
		return "", fmt.Errorf("failed to delete builds of branch %s: %w", branch, err)
	}

	purged, err := c.queue.Purge(ctx, queue.Inbox, func(queued trigger.BuildTrigger) bool {
		return queued.Provider == t.Provider && queued.RepoID == t.RepoID &&
			queued.Buildable() && queued.RefKind != trigger.RefKindTag && queued.Branch() == branch
	})
	if err != nil {
		return "", fmt.Errorf("failed to purge queued triggers of branch %s: %w", branch, err)
	}

	slog.Info("Invalidated deleted branch", slog.String("repo", t.RepoFullName), slog.String("branch", branch), slog.Int64("builds", deleted), slog.Int("queued", purged))
	return ResultInvalidated, nil
}

func (c *Consumer) markBuildErrored(ctx context.Context, t trigger.BuildTrigger) {
	if !t.Buildable() {
		return
	}
	b, err := c.builds.FindByDedupKey(ctx, t.DedupKey())
	if err != nil {
		return
	}
	err = c.builds.UpdateStatus(ctx, b.ID, build.StatusErrored)
	if err != nil {
		slog.Warn("Failed to mark build as errored", slog.Int64("build", b.ID), "err", err)
	}
}

func (c *Consumer) updateQueueLength(ctx context.Context) {
	for _, p := range queue.Partitions {
		n, err := c.queue.Len(ctx, p)
		if err != nil {
			return
		}
		c.recorder.SetQueueLength(string(p), n)
	}
}
