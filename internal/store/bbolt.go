package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/mergelab/cmine/internal/models"
)

var (
	bucketRepos     = []byte("repos")
	bucketRepoIndex = []byte("repo_index") // maps repo id -> repo name
	bucketScenarios = []byte("merge_scenarios")
	bucketSources   = []byte("conflict_sources")
)

// keySep separates the components of composite keys. Commit ids, uuids and
// paths never contain it.
const keySep = "\x00"

// BboltStore implements Store on an embedded bbolt database file.
type BboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("bbolt store: empty database path")
	}
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRepos, bucketRepoIndex, bucketScenarios, bucketSources} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ==================== Repositories ====================

// GetRepo retrieves a repository by name. Returns ErrNotFound if missing.
func (s *BboltStore) GetRepo(_ context.Context, name string) (*models.RepoMeta, error) {
	var meta *models.RepoMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRepos).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("repo %s: %w", name, ErrNotFound)
		}
		meta = &models.RepoMeta{}
		return json.Unmarshal(data, meta)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// ListRepos returns every repository ordered by name.
func (s *BboltStore) ListRepos(_ context.Context) ([]*models.RepoMeta, error) {
	var repos []*models.RepoMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepos).ForEach(func(_, v []byte) error {
			meta := &models.RepoMeta{}
			if err := json.Unmarshal(v, meta); err != nil {
				return fmt.Errorf("unmarshal repo: %w", err)
			}
			repos = append(repos, meta)
			return nil
		})
	})
	return repos, err
}

// InsertRepo stores a new repository record and returns its generated id.
// Returns ErrConflict if a repository with the same name exists.
func (s *BboltStore) InsertRepo(_ context.Context, meta *models.RepoMeta) (string, error) {
	if err := validate(meta); err != nil {
		return "", err
	}
	rec := *meta
	rec.ID = uuid.NewString()

	err := s.db.Update(func(tx *bolt.Tx) error {
		repos := tx.Bucket(bucketRepos)
		if repos.Get([]byte(rec.Name)) != nil {
			return fmt.Errorf("repo %s: %w", rec.Name, ErrConflict)
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal repo: %w", err)
		}
		if err := repos.Put([]byte(rec.Name), data); err != nil {
			return err
		}
		return tx.Bucket(bucketRepoIndex).Put([]byte(rec.ID), []byte(rec.Name))
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// UpdateRepoStatus sets the mining status of a repository.
func (s *BboltStore) UpdateRepoStatus(_ context.Context, id string, status models.MineStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name := tx.Bucket(bucketRepoIndex).Get([]byte(id))
		if name == nil {
			return fmt.Errorf("repo id %s: %w", id, ErrNotFound)
		}
		repos := tx.Bucket(bucketRepos)
		data := repos.Get(name)
		if data == nil {
			return fmt.Errorf("repo %s: %w", name, ErrNotFound)
		}
		meta := &models.RepoMeta{}
		if err := json.Unmarshal(data, meta); err != nil {
			return fmt.Errorf("unmarshal repo: %w", err)
		}
		meta.Mined = status
		updated, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal repo: %w", err)
		}
		return repos.Put(name, updated)
	})
}

// DeleteRepo removes a repository record. Deleting a missing repository is a
// no-op.
func (s *BboltStore) DeleteRepo(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		repos := tx.Bucket(bucketRepos)
		data := repos.Get([]byte(name))
		if data == nil {
			return nil
		}
		meta := &models.RepoMeta{}
		if err := json.Unmarshal(data, meta); err != nil {
			return fmt.Errorf("unmarshal repo: %w", err)
		}
		if err := tx.Bucket(bucketRepoIndex).Delete([]byte(meta.ID)); err != nil {
			return err
		}
		return repos.Delete([]byte(name))
	})
}

// ==================== Merge Scenarios ====================

func scenarioKey(repoID, msID string) []byte {
	return []byte(repoID + keySep + msID)
}

func sourceKey(cs *models.ConflictSource) []byte {
	return []byte(cs.RepoID + keySep + cs.MSID + keySep + cs.Paths.Key())
}

func repoPrefix(repoID string) []byte {
	return []byte(repoID + keySep)
}

// InsertMergeScenario stores a scenario. Returns ErrConflict if the scenario
// is already stored for the repository.
func (s *BboltStore) InsertMergeScenario(_ context.Context, ms *models.ConflictMergeScenario) error {
	if err := validate(ms); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScenarios)
		key := scenarioKey(ms.RepoID, ms.MSID())
		if b.Get(key) != nil {
			return fmt.Errorf("merge scenario %s: %w", ms.MSID(), ErrConflict)
		}
		data, err := json.Marshal(ms)
		if err != nil {
			return fmt.Errorf("marshal merge scenario: %w", err)
		}
		return b.Put(key, data)
	})
}

// ListMergeScenarios returns the scenarios of a repository ordered by ms_id.
func (s *BboltStore) ListMergeScenarios(_ context.Context, repoID string) ([]*models.ConflictMergeScenario, error) {
	var out []*models.ConflictMergeScenario
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx.Bucket(bucketScenarios), repoPrefix(repoID), func(v []byte) error {
			ms := &models.ConflictMergeScenario{}
			if err := json.Unmarshal(v, ms); err != nil {
				return fmt.Errorf("unmarshal merge scenario: %w", err)
			}
			out = append(out, ms)
			return nil
		})
	})
	return out, err
}

// DeleteMergeScenarios removes every scenario of a repository.
func (s *BboltStore) DeleteMergeScenarios(_ context.Context, repoID string) (int, error) {
	return s.deletePrefix(bucketScenarios, repoPrefix(repoID))
}

// ==================== Conflict Sources ====================

// InsertConflictSources stores a batch of sources in one transaction.
func (s *BboltStore) InsertConflictSources(_ context.Context, sources []*models.ConflictSource) error {
	if err := validateSources(sources); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		for _, cs := range sources {
			key := sourceKey(cs)
			if b.Get(key) != nil {
				return fmt.Errorf("conflict source %s in %s: %w", cs.Paths.Resolved(), cs.MSID, ErrConflict)
			}
			data, err := json.Marshal(cs)
			if err != nil {
				return fmt.Errorf("marshal conflict source: %w", err)
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListConflictSources returns the sources of a scenario, or of the whole
// repository when msID is empty.
func (s *BboltStore) ListConflictSources(_ context.Context, repoID, msID string) ([]*models.ConflictSource, error) {
	prefix := repoPrefix(repoID)
	if msID != "" {
		prefix = []byte(repoID + keySep + msID + keySep)
	}
	var out []*models.ConflictSource
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx.Bucket(bucketSources), prefix, func(v []byte) error {
			cs := &models.ConflictSource{}
			if err := json.Unmarshal(v, cs); err != nil {
				return fmt.Errorf("unmarshal conflict source: %w", err)
			}
			out = append(out, cs)
			return nil
		})
	})
	return out, err
}

// DeleteConflictSources removes every source of a repository.
func (s *BboltStore) DeleteConflictSources(_ context.Context, repoID string) (int, error) {
	return s.deletePrefix(bucketSources, repoPrefix(repoID))
}

// ==================== Helpers ====================

func scanPrefix(b *bolt.Bucket, prefix []byte, fn func(v []byte) error) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *BboltStore) deletePrefix(bucket, prefix []byte) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		n = len(keys)
		return nil
	})
	return n, err
}
