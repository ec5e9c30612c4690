package miner

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// MineRepos mines every repository path with at most workers running at once
// (runtime.NumCPU() when workers <= 0). A failing repository does not stop the
// others; all failures are returned together.
func (m *Miner) MineRepos(ctx context.Context, paths []string, limit, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(workers)

	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, path := range paths {
		g.Go(func() error {
			if err := m.minePath(ctx, path, limit); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return result.ErrorOrNil()
}

func (m *Miner) minePath(ctx context.Context, path string, limit int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	repo, err := m.open(path)
	if err != nil {
		m.logger.Error("cannot open repository", "path", path, "error", err)
		return err
	}
	if err := m.MineRepo(ctx, repo, limit); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
