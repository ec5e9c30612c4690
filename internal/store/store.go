// Package store persists mining results. Every driver implements Store over
// three logical collections: repos, merge_scenarios and conflict_sources.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mergelab/cmine/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid record")
)

// Driver names accepted by Open.
const (
	DriverBbolt  = "bbolt"
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Store defines the contract for mining persistence. Implementations are
// safe for concurrent use by workers writing distinct repositories.
type Store interface {
	// Repositories
	GetRepo(ctx context.Context, name string) (*models.RepoMeta, error)
	ListRepos(ctx context.Context) ([]*models.RepoMeta, error)
	InsertRepo(ctx context.Context, meta *models.RepoMeta) (string, error)
	UpdateRepoStatus(ctx context.Context, id string, status models.MineStatus) error
	DeleteRepo(ctx context.Context, name string) error

	// Merge scenarios
	InsertMergeScenario(ctx context.Context, ms *models.ConflictMergeScenario) error
	ListMergeScenarios(ctx context.Context, repoID string) ([]*models.ConflictMergeScenario, error)
	DeleteMergeScenarios(ctx context.Context, repoID string) (int, error)

	// Conflict sources. An empty msID lists every source of the repository.
	InsertConflictSources(ctx context.Context, sources []*models.ConflictSource) error
	ListConflictSources(ctx context.Context, repoID, msID string) ([]*models.ConflictSource, error)
	DeleteConflictSources(ctx context.Context, repoID string) (int, error)

	// Close releases resources.
	Close() error
}

// Options selects and configures a driver.
type Options struct {
	Driver   string
	Path     string // bbolt and sqlite database file
	URI      string // mongo connection string
	Database string // mongo database name
}

// Open connects to the store described by opts. The bbolt driver is used
// when no driver is named.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverBbolt, "":
		return NewBboltStore(opts.Path)
	case DriverSQLite:
		return NewSQLiteStore(opts.Path)
	case DriverMongo:
		return NewMongoStore(ctx, opts.URI, opts.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

type validator interface {
	Validate() error
}

func validate(v validator) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func validateSources(sources []*models.ConflictSource) error {
	for _, cs := range sources {
		if err := validate(cs); err != nil {
			return err
		}
	}
	return nil
}
