package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/heathcliff26/buildhook/pkg/installation"
	"github.com/heathcliff26/buildhook/pkg/trigger"
)

var _ installation.Store = (*InstallationRepo)(nil)

// InstallationRepo stores installations and their repositories as (installation_id, repo_id) rows
type InstallationRepo struct {
	db  *DB
	now func() time.Time
}

func NewInstallationRepo(db *DB) *InstallationRepo {
	return &InstallationRepo{db: db, now: time.Now}
}

func (r *InstallationRepo) Create(ctx context.Context, id, senderID int64) error {
	const query = `
		INSERT INTO installations (installation_id, sender_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (installation_id) DO UPDATE SET sender_id = excluded.sender_id
	`
	_, err := r.db.Writer.ExecContext(ctx, query, id, senderID, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("insert installation %d: %w", id, err)
	}
	return nil
}

// Delete the installation, the repositories are removed by cascade
func (r *InstallationRepo) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM installations WHERE installation_id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete installation %d: %w", id, err)
	}
	return nil
}

// Add repositories to the installation, creating it if it is unknown
func (r *InstallationRepo) AddRepositories(ctx context.Context, id int64, repos []trigger.Repository) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const ensureQuery = `INSERT INTO installations (installation_id, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`
	_, err = tx.ExecContext(ctx, ensureQuery, id, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("ensure installation %d: %w", id, err)
	}

	const insertQuery = `
		INSERT INTO installation_repositories (installation_id, repo_id, full_name) VALUES (?, ?, ?)
		ON CONFLICT (installation_id, repo_id) DO UPDATE SET full_name = excluded.full_name
	`
	for _, repo := range repos {
		_, err = tx.ExecContext(ctx, insertQuery, id, repo.ID, repo.FullName)
		if err != nil {
			return fmt.Errorf("add repository %d to installation %d: %w", repo.ID, id, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit repositories of installation %d: %w", id, err)
	}
	return nil
}

func (r *InstallationRepo) RemoveRepositories(ctx context.Context, id int64, repoIDs []int64) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `DELETE FROM installation_repositories WHERE installation_id = ? AND repo_id = ?`
	for _, repoID := range repoIDs {
		_, err = tx.ExecContext(ctx, query, id, repoID)
		if err != nil {
			return fmt.Errorf("remove repository %d from installation %d: %w", repoID, id, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit repositories of installation %d: %w", id, err)
	}
	return nil
}

// List the repositories of an installation ordered by id
func (r *InstallationRepo) Repositories(ctx context.Context, id int64) ([]trigger.Repository, error) {
	const query = `SELECT repo_id, full_name FROM installation_repositories WHERE installation_id = ? ORDER BY repo_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query repositories of installation %d: %w", id, err)
	}
	defer rows.Close()

	var repos []trigger.Repository
	for rows.Next() {
		var repo trigger.Repository
		err = rows.Scan(&repo.ID, &repo.FullName)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, repo)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return repos, nil
}
