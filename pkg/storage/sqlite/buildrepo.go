package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/heathcliff26/buildhook/pkg/build"
	"github.com/heathcliff26/buildhook/pkg/trigger"
)

// BuildRepo stores builds in the builds table
type BuildRepo struct {
	db  *DB
	now func() time.Time
}

func NewBuildRepo(db *DB) *BuildRepo {
	return &BuildRepo{db: db, now: time.Now}
}

const buildColumns = `id, provider, installation_id, repo_id, repo_full_name, event_type, ref, branch, tag_name,
	commit_id, commit_message, compare_url, committer_name, committer_email, committer_username,
	pull_request_number, action, status, check_run_id, event_time, request_raw, dedup_key, created_at, updated_at`

// Insert a new build and set its ID and timestamps.
// Returns build.ErrDuplicate if a build with the same dedup key exists.
func (r *BuildRepo) Insert(ctx context.Context, b *build.Build) error {
	const query = `
		INSERT INTO builds (provider, installation_id, repo_id, repo_full_name, event_type, ref, branch, tag_name,
			commit_id, commit_message, compare_url, committer_name, committer_email, committer_username,
			pull_request_number, action, status, check_run_id, event_time, request_raw, dedup_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	now := r.now().UTC()
	res, err := r.db.Writer.ExecContext(ctx, query,
		string(b.Provider), b.InstallationID, b.RepoID, b.RepoFullName, b.EventType, b.Ref, b.Branch, b.TagName,
		b.CommitID, b.CommitMessage, b.CompareURL, b.Committer.Name, b.Committer.Email, b.Committer.Username,
		b.PullRequestNumber, b.Action, string(b.Status), b.CheckRunID, formatTime(b.EventTime), b.RequestRaw, b.DedupKey,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert build %s: %w", b.DedupKey, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert build %s: %w", b.DedupKey, err)
	}
	if n == 0 {
		return build.ErrDuplicate
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get id of build %s: %w", b.DedupKey, err)
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

// Get a build by id
func (r *BuildRepo) Get(ctx context.Context, id int64) (build.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// Find the build created for a dedup key
func (r *BuildRepo) FindByDedupKey(ctx context.Context, key string) (build.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE dedup_key = ?`
	return r.getOne(ctx, query, key)
}

func (r *BuildRepo) getOne(ctx context.Context, query string, arg any) (build.Build, error) {
	b, err := scanBuild(r.db.Reader.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return build.Build{}, build.ErrNotFound
	}
	if err != nil {
		return build.Build{}, fmt.Errorf("get build: %w", err)
	}
	return b, nil
}

// List builds of a repository, newest first
func (r *BuildRepo) ListByRepo(ctx context.Context, provider trigger.Provider, repoID string) ([]build.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE provider = ? AND repo_id = ? ORDER BY id DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(provider), repoID)
	if err != nil {
		return nil, fmt.Errorf("query builds for repo %s: %w", repoID, err)
	}
	defer rows.Close()

	var builds []build.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, b)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}
	return builds, nil
}

func (r *BuildRepo) UpdateStatus(ctx context.Context, id int64, status build.Status) error {
	const query = `UPDATE builds SET status = ?, updated_at = ? WHERE id = ?`
	return r.update(ctx, query, string(status), formatTime(r.now()), id)
}

func (r *BuildRepo) SetCheckRunID(ctx context.Context, id, checkRunID int64) error {
	const query = `UPDATE builds SET check_run_id = ?, updated_at = ? WHERE id = ?`
	return r.update(ctx, query, checkRunID, formatTime(r.now()), id)
}

func (r *BuildRepo) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update build: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update build: %w", err)
	}
	if n == 0 {
		return build.ErrNotFound
	}
	return nil
}

// Delete all builds of a branch, returns the number of deleted builds
func (r *BuildRepo) DeleteByBranch(ctx context.Context, provider trigger.Provider, repoID, branch string) (int64, error) {
	const query = `DELETE FROM builds WHERE provider = ? AND repo_id = ? AND branch = ? AND tag_name = ''`

	res, err := r.db.Writer.ExecContext(ctx, query, string(provider), repoID, branch)
	if err != nil {
		return 0, fmt.Errorf("delete builds of branch %s: %w", branch, err)
	}
	return res.RowsAffected()
}

func scanBuild(s scanner) (build.Build, error) {
	var b build.Build
	var provider, status string
	var eventTime, createdAt, updatedAt sql.NullString

	err := s.Scan(
		&b.ID, &provider, &b.InstallationID, &b.RepoID, &b.RepoFullName, &b.EventType, &b.Ref, &b.Branch, &b.TagName,
		&b.CommitID, &b.CommitMessage, &b.CompareURL, &b.Committer.Name, &b.Committer.Email, &b.Committer.Username,
		&b.PullRequestNumber, &b.Action, &status, &b.CheckRunID, &eventTime, &b.RequestRaw, &b.DedupKey, &createdAt, &updatedAt,
	)
	if err != nil {
		return build.Build{}, err
	}
	b.Provider = trigger.Provider(provider)
	b.Status = build.Status(status)

	b.EventTime, err = parseTime(eventTime)
	if err != nil {
		return build.Build{}, fmt.Errorf("parse event_time: %w", err)
	}
	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return build.Build{}, fmt.Errorf("parse created_at: %w", err)
	}
	b.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return build.Build{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return b, nil
}
