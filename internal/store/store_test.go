package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mergelab/cmine/internal/models"
)

// newTestStore creates a store of the given driver in a temp directory.
func newTestStore(t *testing.T, driver string) Store {
	t.Helper()
	opts := Options{Driver: driver, Path: filepath.Join(t.TempDir(), "test.db")}
	if driver == DriverMongo {
		uri := os.Getenv("CMINE_TEST_MONGO_URI")
		if uri == "" {
			t.Skip("CMINE_TEST_MONGO_URI not set")
		}
		opts.URI = uri
		opts.Database = fmt.Sprintf("cmine_test_%s", uuid.NewString()[:8])
	}
	st, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// forEachDriver runs fn once per driver as a subtest.
func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for _, driver := range []string{DriverBbolt, DriverSQLite, DriverMongo} {
		t.Run(driver, func(t *testing.T) {
			fn(t, newTestStore(t, driver))
		})
	}
}

func testScenario(repoID, merged string) *models.ConflictMergeScenario {
	return &models.ConflictMergeScenario{
		RepoID: repoID,
		Ours:   "1111111111111111111111111111111111111111",
		Theirs: "2222222222222222222222222222222222222222",
		Base:   "3333333333333333333333333333333333333333",
		Merged: merged,
		Files:  []models.PathMapping{{Ancestor: "a.go", Ours: "a.go", Theirs: "a.go"}},
	}
}

func testSource(repoID, msID, path string) *models.ConflictSource {
	return &models.ConflictSource{
		RepoID: repoID,
		MSID:   msID,
		Paths:  models.PathMapping{Ancestor: path, Ours: path, Theirs: path},
		Ours:   "x\n",
		Theirs: "y\n",
		Base:   "z\n",
		Merged: "x\n",
		Conflicts: []models.ConflictBlock{{
			Index:     0,
			Ours:      []string{"x"},
			Base:      []string{"z"},
			Theirs:    []string{"y"},
			Merged:    []string{"x"},
			Labels:    []string{"ours", "complex_conflict"},
			StartLine: 1,
			EndLine:   7,
		}},
	}
}

// ==================== Open Tests ====================

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "redis"})
	assert.Error(t, err)
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cmine.db")
	st, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	defer st.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: DriverSQLite})
	assert.Error(t, err)
	_, err = Open(context.Background(), Options{Driver: DriverMongo})
	assert.Error(t, err)
}

// ==================== Repo Tests ====================

func TestStore_RepoLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		_, err := st.GetRepo(ctx, "project")
		assert.ErrorIs(t, err, ErrNotFound)

		id, err := st.InsertRepo(ctx, &models.RepoMeta{
			Name:    "project",
			Remotes: []string{"https://example.com/project.git"},
			Branch:  "main",
			Mined:   models.StatusMining,
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := st.GetRepo(ctx, "project")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "main", got.Branch)
		assert.Equal(t, []string{"https://example.com/project.git"}, got.Remotes)
		assert.Equal(t, models.StatusMining, got.Mined)

		require.NoError(t, st.UpdateRepoStatus(ctx, id, models.StatusDone))
		got, err = st.GetRepo(ctx, "project")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDone, got.Mined)

		require.NoError(t, st.DeleteRepo(ctx, "project"))
		_, err = st.GetRepo(ctx, "project")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting twice is a no-op
		assert.NoError(t, st.DeleteRepo(ctx, "project"))
	})
}

func TestStore_InsertRepoDuplicate(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		_, err := st.InsertRepo(ctx, &models.RepoMeta{Name: "project"})
		require.NoError(t, err)

		_, err = st.InsertRepo(ctx, &models.RepoMeta{Name: "project"})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestStore_InsertRepoInvalid(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		_, err := st.InsertRepo(context.Background(), &models.RepoMeta{})
		assert.ErrorIs(t, err, ErrInvalid)
		assert.ErrorIs(t, err, models.ErrInvalidRecord)
	})
}

func TestStore_UpdateRepoStatusMissing(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		err := st.UpdateRepoStatus(context.Background(), "0123456789abcdef01234567", models.StatusDone)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListRepos(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			_, err := st.InsertRepo(ctx, &models.RepoMeta{Name: name})
			require.NoError(t, err)
		}

		repos, err := st.ListRepos(ctx)
		require.NoError(t, err)
		require.Len(t, repos, 3)
		assert.Equal(t, "alpha", repos[0].Name)
		assert.Equal(t, "mid", repos[1].Name)
		assert.Equal(t, "zeta", repos[2].Name)
	})
}

// ==================== Merge Scenario Tests ====================

func TestStore_MergeScenarios(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		a := testScenario("repo-a", "4444444444444444444444444444444444444444")
		b := testScenario("repo-a", "5555555555555555555555555555555555555555")
		other := testScenario("repo-b", "4444444444444444444444444444444444444444")

		for _, ms := range []*models.ConflictMergeScenario{b, a, other} {
			require.NoError(t, st.InsertMergeScenario(ctx, ms))
		}
		assert.ErrorIs(t, st.InsertMergeScenario(ctx, a), ErrConflict)

		got, err := st.ListMergeScenarios(ctx, "repo-a")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, a.MSID(), got[0].MSID())
		assert.Equal(t, b.MSID(), got[1].MSID())
		assert.Equal(t, a.Files, got[0].Files)

		n, err := st.DeleteMergeScenarios(ctx, "repo-a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err = st.ListMergeScenarios(ctx, "repo-a")
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = st.ListMergeScenarios(ctx, "repo-b")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestStore_InsertMergeScenarioInvalid(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ms := testScenario("repo-a", "4444444444444444444444444444444444444444")
		ms.Files = nil
		assert.ErrorIs(t, st.InsertMergeScenario(context.Background(), ms), ErrInvalid)
	})
}

// ==================== Conflict Source Tests ====================

func TestStore_ConflictSources(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.InsertConflictSources(ctx, []*models.ConflictSource{
			testSource("repo-a", "ms-1", "b.go"),
			testSource("repo-a", "ms-1", "a.go"),
			testSource("repo-a", "ms-2", "a.go"),
			testSource("repo-b", "ms-1", "a.go"),
		}))

		got, err := st.ListConflictSources(ctx, "repo-a", "ms-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a.go", got[0].Paths.Ours)
		assert.Equal(t, "b.go", got[1].Paths.Ours)
		assert.Equal(t, []string{"ours", "complex_conflict"}, got[0].Conflicts[0].Labels)
		assert.Equal(t, 7, got[0].Conflicts[0].EndLine)

		all, err := st.ListConflictSources(ctx, "repo-a", "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		n, err := st.DeleteConflictSources(ctx, "repo-a")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		all, err = st.ListConflictSources(ctx, "repo-b", "")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestStore_InsertConflictSourcesRejectsInvalidBatch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		bad := testSource("repo-a", "ms-1", "b.go")
		bad.Conflicts = nil

		err := st.InsertConflictSources(ctx, []*models.ConflictSource{testSource("repo-a", "ms-1", "a.go"), bad})
		assert.ErrorIs(t, err, ErrInvalid)

		got, err := st.ListConflictSources(ctx, "repo-a", "")
		require.NoError(t, err)
		assert.Empty(t, got, "nothing from a rejected batch is stored")
	})
}

func TestStore_InsertConflictSourcesEmpty(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		assert.NoError(t, st.InsertConflictSources(context.Background(), nil))
	})
}

func TestGetRepo_NonIntegerStatus(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		switch s := st.(type) {
		case *BboltStore:
			require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket(bucketRepos).Put([]byte("legacy"),
					[]byte(`{"id":"old","name":"legacy","remotes":[],"branch":"main","mined":"DONE"}`))
			}))
		case *SQLiteStore:
			_, err := s.db.ExecContext(ctx,
				"INSERT INTO repos (id, name, remotes, branch, mined) VALUES ('old', 'legacy', '[]', 'main', 'DONE')")
			require.NoError(t, err)
		case *MongoStore:
			_, err := s.repos.InsertOne(ctx, bson.M{
				"name": "legacy", "remotes": bson.A{}, "branch": "main", "mined": "DONE",
			})
			require.NoError(t, err)
		}

		meta, err := st.GetRepo(ctx, "legacy")
		require.NoError(t, err)
		assert.Equal(t, models.StatusMalformed, meta.Mined)
		assert.False(t, meta.Mined.IsLegal())

		repos, err := st.ListRepos(ctx)
		require.NoError(t, err)
		require.Len(t, repos, 1)
		assert.Equal(t, models.StatusMalformed, repos[0].Mined)
	})
}
