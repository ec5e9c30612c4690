package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mergelab/cmine/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS repos (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	remotes JSON NOT NULL,
	branch TEXT NOT NULL,
	mined INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS merge_scenarios (
	repo_id TEXT NOT NULL,
	ms_id TEXT NOT NULL,
	doc JSON NOT NULL,
	PRIMARY KEY (repo_id, ms_id)
);

CREATE TABLE IF NOT EXISTS conflict_sources (
	repo_id TEXT NOT NULL,
	ms_id TEXT NOT NULL,
	paths TEXT NOT NULL,
	doc JSON NOT NULL,
	PRIMARY KEY (repo_id, ms_id, paths)
);
`

// SQLiteStore implements Store on a SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite store: empty database path")
	}
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==================== Repositories ====================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*models.RepoMeta, error) {
	meta := &models.RepoMeta{}
	var remotes string
	if err := row.Scan(&meta.ID, &meta.Name, &remotes, &meta.Branch, &meta.Mined); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(remotes), &meta.Remotes); err != nil {
		return nil, fmt.Errorf("unmarshal remotes: %w", err)
	}
	return meta, nil
}

// GetRepo retrieves a repository by name. Returns ErrNotFound if missing.
func (s *SQLiteStore) GetRepo(ctx context.Context, name string) (*models.RepoMeta, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name, remotes, branch, mined FROM repos WHERE name = ?", name)
	meta, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repo %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get repo %s: %w", name, err)
	}
	return meta, nil
}

// ListRepos returns every repository ordered by name.
func (s *SQLiteStore) ListRepos(ctx context.Context) ([]*models.RepoMeta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, remotes, branch, mined FROM repos ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []*models.RepoMeta
	for rows.Next() {
		meta, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		repos = append(repos, meta)
	}
	return repos, rows.Err()
}

// InsertRepo stores a new repository record and returns its generated id.
// Returns ErrConflict if a repository with the same name exists.
func (s *SQLiteStore) InsertRepo(ctx context.Context, meta *models.RepoMeta) (string, error) {
	if err := validate(meta); err != nil {
		return "", err
	}
	remotes := meta.Remotes
	if remotes == nil {
		remotes = []string{}
	}
	data, err := json.Marshal(remotes)
	if err != nil {
		return "", fmt.Errorf("marshal remotes: %w", err)
	}

	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO repos (id, name, remotes, branch, mined) VALUES (?, ?, ?, ?, ?) ON CONFLICT(name) DO NOTHING",
		id, meta.Name, string(data), meta.Branch, int(meta.Mined))
	if err != nil {
		return "", fmt.Errorf("insert repo %s: %w", meta.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("repo %s: %w", meta.Name, ErrConflict)
	}
	return id, nil
}

// UpdateRepoStatus sets the mining status of a repository.
func (s *SQLiteStore) UpdateRepoStatus(ctx context.Context, id string, status models.MineStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE repos SET mined = ? WHERE id = ?", int(status), id)
	if err != nil {
		return fmt.Errorf("update repo %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repo id %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRepo removes a repository record. Deleting a missing repository is a
// no-op.
func (s *SQLiteStore) DeleteRepo(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM repos WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete repo %s: %w", name, err)
	}
	return nil
}

// ==================== Merge Scenarios ====================

// InsertMergeScenario stores a scenario. Returns ErrConflict if the scenario
// is already stored for the repository.
func (s *SQLiteStore) InsertMergeScenario(ctx context.Context, ms *models.ConflictMergeScenario) error {
	if err := validate(ms); err != nil {
		return err
	}
	data, err := json.Marshal(ms)
	if err != nil {
		return fmt.Errorf("marshal merge scenario: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO merge_scenarios (repo_id, ms_id, doc) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		ms.RepoID, ms.MSID(), string(data))
	if err != nil {
		return fmt.Errorf("insert merge scenario %s: %w", ms.MSID(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("merge scenario %s: %w", ms.MSID(), ErrConflict)
	}
	return nil
}

// ListMergeScenarios returns the scenarios of a repository ordered by ms_id.
func (s *SQLiteStore) ListMergeScenarios(ctx context.Context, repoID string) ([]*models.ConflictMergeScenario, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM merge_scenarios WHERE repo_id = ? ORDER BY ms_id", repoID)
	if err != nil {
		return nil, fmt.Errorf("list merge scenarios: %w", err)
	}
	defer rows.Close()

	var out []*models.ConflictMergeScenario
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan merge scenario: %w", err)
		}
		ms := &models.ConflictMergeScenario{}
		if err := json.Unmarshal([]byte(doc), ms); err != nil {
			return nil, fmt.Errorf("unmarshal merge scenario: %w", err)
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// DeleteMergeScenarios removes every scenario of a repository.
func (s *SQLiteStore) DeleteMergeScenarios(ctx context.Context, repoID string) (int, error) {
	return s.deleteByRepo(ctx, "merge_scenarios", repoID)
}

// ==================== Conflict Sources ====================

// InsertConflictSources stores a batch of sources in one transaction.
func (s *SQLiteStore) InsertConflictSources(ctx context.Context, sources []*models.ConflictSource) error {
	if err := validateSources(sources); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO conflict_sources (repo_id, ms_id, paths, doc) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, cs := range sources {
		data, err := json.Marshal(cs)
		if err != nil {
			return fmt.Errorf("marshal conflict source: %w", err)
		}
		res, err := stmt.ExecContext(ctx, cs.RepoID, cs.MSID, cs.Paths.Key(), string(data))
		if err != nil {
			return fmt.Errorf("insert conflict source %s: %w", cs.Paths.Resolved(), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("conflict source %s in %s: %w", cs.Paths.Resolved(), cs.MSID, ErrConflict)
		}
	}
	return tx.Commit()
}

// ListConflictSources returns the sources of a scenario, or of the whole
// repository when msID is empty.
func (s *SQLiteStore) ListConflictSources(ctx context.Context, repoID, msID string) ([]*models.ConflictSource, error) {
	query := "SELECT doc FROM conflict_sources WHERE repo_id = ? ORDER BY ms_id, paths"
	args := []any{repoID}
	if msID != "" {
		query = "SELECT doc FROM conflict_sources WHERE repo_id = ? AND ms_id = ? ORDER BY paths"
		args = append(args, msID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflict sources: %w", err)
	}
	defer rows.Close()

	var out []*models.ConflictSource
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan conflict source: %w", err)
		}
		cs := &models.ConflictSource{}
		if err := json.Unmarshal([]byte(doc), cs); err != nil {
			return nil, fmt.Errorf("unmarshal conflict source: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// DeleteConflictSources removes every source of a repository.
func (s *SQLiteStore) DeleteConflictSources(ctx context.Context, repoID string) (int, error) {
	return s.deleteByRepo(ctx, "conflict_sources", repoID)
}

func (s *SQLiteStore) deleteByRepo(ctx context.Context, table, repoID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE repo_id = ?", repoID)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return int(n), nil
}
