// Package miner drives a mining run: it walks a repository for conflicting
// merge scenarios, extracts and classifies their conflict blocks, and
// persists the results with compensating rollback on failure.
package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/mergelab/cmine/internal/gitrepo"
	"github.com/mergelab/cmine/internal/models"
	"github.com/mergelab/cmine/internal/store"
)

// Repository is the read-only view of a git repository the miner consumes.
type Repository interface {
	Name() string
	Remotes() ([]string, error)
	Branch() (string, error)
	WalkConflicts(ctx context.Context, limit int, fn func(*models.ConflictMergeScenario) error) error
	ReadFile(commit, path string) (string, error)
}

// TextMerger performs the per-file three-way text merge.
type TextMerger = gitrepo.FileMerger

// Opener opens the repository at path.
type Opener func(path string) (Repository, error)

// Miner mines repositories into a store.
type Miner struct {
	store  store.Store
	merger TextMerger
	logger *slog.Logger
	open   Opener
}

// Option configures a Miner.
type Option func(*Miner)

// WithOpener replaces the function used to open repository paths.
func WithOpener(open Opener) Option {
	return func(m *Miner) { m.open = open }
}

// New returns a Miner writing to st. Repositories opened by path use merger
// both to confirm path conflicts and to produce the conflict text.
func New(st store.Store, merger TextMerger, logger *slog.Logger, opts ...Option) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Miner{
		store:  st,
		merger: merger,
		logger: logger,
	}
	m.open = func(path string) (Repository, error) {
		r, err := gitrepo.Open(path, gitrepo.WithMerger(merger), gitrepo.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MineRepo mines up to limit conflicting merge scenarios of repo (limit <= 0
// means all). A repository already marked DONE or MINING is skipped without
// writes. Any failure after the repository record is created rolls back
// every record written for it.
func (m *Miner) MineRepo(ctx context.Context, repo Repository, limit int) error {
	name := repo.Name()
	log := m.logger.With("repo", name)

	existing, err := m.store.GetRepo(ctx, name)
	switch {
	case err == nil:
		if existing.Mined == models.StatusDone || existing.Mined == models.StatusMining {
			log.Info("mine status is terminal, skipped", "status", existing.Mined.String())
			return nil
		}
		if existing.Mined.IsLegal() {
			log.Warn("mining never started, deleting record and re-mining", "status", existing.Mined.String())
		} else {
			log.Warn("mine status is illegal, deleting record and re-mining", "status", existing.Mined.String())
		}
		if err := m.rollback(ctx, name, existing.ID); err != nil {
			return fmt.Errorf("delete stale record of %s: %w", name, err)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return fmt.Errorf("look up %s: %w", name, err)
	}

	remotes, err := repo.Remotes()
	if err != nil {
		return fmt.Errorf("read remotes of %s: %w", name, err)
	}
	branch, err := repo.Branch()
	if err != nil {
		return fmt.Errorf("read branch of %s: %w", name, err)
	}

	id, err := m.store.InsertRepo(ctx, &models.RepoMeta{
		Name:    name,
		Remotes: remotes,
		Branch:  branch,
		Mined:   models.StatusMining,
	})
	if err != nil {
		return fmt.Errorf("insert record of %s: %w", name, err)
	}
	log = log.With("repo_id", id)
	log.Info("mining repository", "branch", branch, "limit", limit)

	found, err := m.mine(ctx, repo, id, limit, log)
	if err == nil {
		err = m.store.UpdateRepoStatus(ctx, id, models.StatusDone)
	}
	if err != nil {
		log.Error("mining failed, rolling back", "error", err)
		if rbErr := m.rollback(context.WithoutCancel(ctx), name, id); rbErr != nil {
			log.Error("rollback incomplete", "error", rbErr)
		}
		return fmt.Errorf("mine %s: %w", name, err)
	}

	log.Info("mining done", "scenarios", found)
	return nil
}

// mine walks the repository and persists every scenario and its sources.
func (m *Miner) mine(ctx context.Context, repo Repository, repoID string, limit int, log *slog.Logger) (int, error) {
	found := 0
	err := repo.WalkConflicts(ctx, limit, func(ms *models.ConflictMergeScenario) error {
		ms.RepoID = repoID
		msLog := log.With("ms_id", ms.MSID())
		msLog.Info("conflict merge scenario found", "files", len(ms.Files))
		if ms.Base == "" {
			msLog.Warn("merge scenario has no base commit")
		}

		if err := m.store.InsertMergeScenario(ctx, ms); err != nil {
			return fmt.Errorf("store scenario %s: %w", ms.MSID(), err)
		}
		found++

		sources, err := m.conflictSources(ctx, repo, ms, msLog)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			msLog.Warn("no conflict source found")
			return nil
		}
		if err := m.store.InsertConflictSources(ctx, sources); err != nil {
			return fmt.Errorf("store conflict sources of %s: %w", ms.MSID(), err)
		}
		return nil
	})
	return found, err
}

// rollback deletes everything written for the repository. It keeps going
// after a failed step and reports every failure.
func (m *Miner) rollback(ctx context.Context, name, repoID string) error {
	var result *multierror.Error

	if n, err := m.store.DeleteConflictSources(ctx, repoID); err != nil {
		result = multierror.Append(result, fmt.Errorf("delete conflict sources: %w", err))
	} else {
		m.logger.Debug("rolled back conflict sources", "repo", name, "count", n)
	}
	if n, err := m.store.DeleteMergeScenarios(ctx, repoID); err != nil {
		result = multierror.Append(result, fmt.Errorf("delete merge scenarios: %w", err))
	} else {
		m.logger.Debug("rolled back merge scenarios", "repo", name, "count", n)
	}
	if err := m.store.DeleteRepo(ctx, name); err != nil {
		result = multierror.Append(result, fmt.Errorf("delete repo record: %w", err))
	}

	return result.ErrorOrNil()
}
