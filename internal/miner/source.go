package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mergelab/cmine/internal/classify"
	"github.com/mergelab/cmine/internal/conflict"
	"github.com/mergelab/cmine/internal/gitrepo"
	"github.com/mergelab/cmine/internal/models"
)

// conflictSources extracts the conflict sources of every file of ms. Files
// that merge cleanly or yield no blocks are left out.
func (m *Miner) conflictSources(ctx context.Context, repo Repository, ms *models.ConflictMergeScenario, log *slog.Logger) ([]*models.ConflictSource, error) {
	var sources []*models.ConflictSource
	for _, paths := range ms.Files {
		cs, err := m.conflictSource(ctx, repo, ms, paths, log.With("path", paths.Resolved()))
		if err != nil {
			return nil, err
		}
		if cs != nil {
			sources = append(sources, cs)
		}
	}
	return sources, nil
}

func (m *Miner) conflictSource(ctx context.Context, repo Repository, ms *models.ConflictMergeScenario, paths models.PathMapping, log *slog.Logger) (*models.ConflictSource, error) {
	read := func(commit, path string) (string, error) {
		if commit == "" || path == "" {
			return "", nil
		}
		content, err := repo.ReadFile(commit, path)
		switch {
		case err == nil:
			return content, nil
		case errors.Is(err, gitrepo.ErrPathNotFound):
			log.Debug("path missing at commit, using empty content", "commit", commit)
			return "", nil
		case errors.Is(err, gitrepo.ErrBlobDecode):
			log.Warn("blob is not text, using empty content", "commit", commit)
			return "", nil
		default:
			return "", err
		}
	}

	var ours, theirs, base, merged string
	for _, side := range []struct {
		dst          *string
		commit, path string
	}{
		{&ours, ms.Ours, paths.Ours},
		{&theirs, ms.Theirs, paths.Theirs},
		{&base, ms.Base, paths.Ancestor},
		{&merged, ms.Merged, paths.Resolved()},
	} {
		content, err := read(side.commit, side.path)
		if err != nil {
			return nil, fmt.Errorf("read %s at %s: %w", side.path, side.commit, err)
		}
		*side.dst = content
	}

	res, err := m.merger.MergeFile(ctx,
		gitrepo.MergeFileInput{Path: paths.Ancestor, Content: base},
		gitrepo.MergeFileInput{Path: paths.Ours, Content: ours},
		gitrepo.MergeFileInput{Path: paths.Theirs, Content: theirs},
		gitrepo.DefaultMergeFileOptions(ms.Base, ms.Ours, ms.Theirs),
	)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", paths.Resolved(), err)
	}
	if res.Automergeable {
		log.Warn("conflicting path merges cleanly, skipped")
		return nil, nil
	}

	conflictLines := conflict.SplitLines(res.Content)
	blocks := conflict.ParseBlocks(conflictLines)
	log.Debug("parsed merge output", "reported", res.Conflicts, "blocks", len(blocks))
	if len(blocks) == 0 {
		log.Warn("no conflict blocks in merge output")
		return nil, nil
	}
	conflict.Align(conflictLines, conflict.SplitLines(merged), blocks)
	for i := range blocks {
		blocks[i].Labels = classify.Classify(blocks[i])
	}
	log.Debug("conflict source extracted", "blocks", len(blocks))

	return &models.ConflictSource{
		RepoID:    ms.RepoID,
		MSID:      ms.MSID(),
		Paths:     paths,
		Ours:      ours,
		Theirs:    theirs,
		Base:      base,
		Merged:    merged,
		Conflicts: blocks,
	}, nil
}
