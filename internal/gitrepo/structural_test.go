package gitrepo

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergelab/cmine/internal/models"
)

// diverge commits base, then one commit on each side, and returns the three
// commit objects.
func diverge(tr *testRepo, base map[string]string, ours, theirs func()) (o, th, b *object.Commit) {
	tr.t.Helper()
	bh := tr.commit(base)
	tr.checkout("theirs", true)
	theirs()
	tr.checkout("master", false)
	ours()

	load := func(ref string) *object.Commit {
		r, err := tr.repo.Reference(plumbing.NewBranchReferenceName(ref), true)
		require.NoError(tr.t, err)
		c, err := tr.repo.CommitObject(r.Hash())
		require.NoError(tr.t, err)
		return c
	}
	bc, err := tr.repo.CommitObject(bh)
	require.NoError(tr.t, err)
	return load("master"), load("theirs"), bc
}

// ==================== MergeCommits Tests ====================

func TestMergeCommits_ModifyDelete(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, base := diverge(tr,
		map[string]string{"a.txt": "a\n"},
		func() { tr.commit(map[string]string{"a.txt": "changed\n"}) },
		func() { tr.commit(nil, "a.txt") },
	)

	m := &fakeMerger{}
	files, err := tr.open(m).MergeCommits(context.Background(), ours, theirs, base)
	require.NoError(t, err)
	assert.Equal(t, []models.PathMapping{{Ancestor: "a.txt", Ours: "a.txt"}}, files)
	assert.Empty(t, m.paths)
}

func TestMergeCommits_DeleteModify(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, base := diverge(tr,
		map[string]string{"a.txt": "a\n"},
		func() { tr.commit(nil, "a.txt") },
		func() { tr.commit(map[string]string{"a.txt": "changed\n"}) },
	)

	files, err := tr.open(&fakeMerger{}).MergeCommits(context.Background(), ours, theirs, base)
	require.NoError(t, err)
	assert.Equal(t, []models.PathMapping{{Ancestor: "a.txt", Theirs: "a.txt"}}, files)
}

func TestMergeCommits_BothDeletedIsClean(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, base := diverge(tr,
		map[string]string{"a.txt": "a\n", "keep.txt": "k\n"},
		func() { tr.commit(nil, "a.txt") },
		func() { tr.commit(nil, "a.txt") },
	)

	files, err := tr.open(&fakeMerger{}).MergeCommits(context.Background(), ours, theirs, base)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMergeCommits_AddAdd(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, base := diverge(tr,
		map[string]string{"a.txt": "a\n"},
		func() { tr.commit(map[string]string{"new.txt": "ours\n"}) },
		func() { tr.commit(map[string]string{"new.txt": "theirs\n"}) },
	)

	m := &fakeMerger{}
	files, err := tr.open(m).MergeCommits(context.Background(), ours, theirs, base)
	require.NoError(t, err)
	assert.Equal(t, []models.PathMapping{{Ours: "new.txt", Theirs: "new.txt"}}, files)
	assert.Equal(t, []string{"new.txt"}, m.paths)
}

func TestMergeCommits_SameChangeIsClean(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, base := diverge(tr,
		map[string]string{"a.txt": "a\n"},
		func() { tr.commit(map[string]string{"a.txt": "same\n"}) },
		func() { tr.commit(map[string]string{"a.txt": "same\n"}) },
	)

	m := &fakeMerger{}
	files, err := tr.open(m).MergeCommits(context.Background(), ours, theirs, base)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, m.paths)
}

func TestMergeCommits_BinaryConflictsWithoutTextMerge(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, base := diverge(tr,
		map[string]string{"img.bin": "\x00base"},
		func() { tr.commit(map[string]string{"img.bin": "\x00ours"}) },
		func() { tr.commit(map[string]string{"img.bin": "\x00theirs"}) },
	)

	m := &fakeMerger{automergeable: true}
	files, err := tr.open(m).MergeCommits(context.Background(), ours, theirs, base)
	require.NoError(t, err)
	assert.Equal(t, []models.PathMapping{{Ancestor: "img.bin", Ours: "img.bin", Theirs: "img.bin"}}, files)
	assert.Empty(t, m.paths)
}

func TestMergeCommits_SortedByPath(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, base := diverge(tr,
		map[string]string{"z.txt": "z\n", "a/b.txt": "b\n", "m.txt": "m\n"},
		func() { tr.commit(map[string]string{"z.txt": "1\n", "a/b.txt": "1\n", "m.txt": "1\n"}) },
		func() { tr.commit(map[string]string{"z.txt": "2\n", "a/b.txt": "2\n", "m.txt": "2\n"}) },
	)

	files, err := tr.open(&fakeMerger{}).MergeCommits(context.Background(), ours, theirs, base)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a/b.txt", files[0].Ours)
	assert.Equal(t, "m.txt", files[1].Ours)
	assert.Equal(t, "z.txt", files[2].Ours)
}

func TestMergeCommits_NoBase(t *testing.T) {
	tr := newTestRepo(t)
	ours, theirs, _ := diverge(tr,
		map[string]string{"a.txt": "a\n"},
		func() { tr.commit(map[string]string{"a.txt": "ours\n"}) },
		func() { tr.commit(map[string]string{"a.txt": "theirs\n"}) },
	)

	files, err := tr.open(&fakeMerger{}).MergeCommits(context.Background(), ours, theirs, nil)
	require.NoError(t, err)
	assert.Equal(t, []models.PathMapping{{Ours: "a.txt", Theirs: "a.txt"}}, files)
}

// ==================== detectPathConflict Tests ====================

func TestDetectPathConflict(t *testing.T) {
	file := func(h string, mode filemode.FileMode) *treeFile {
		return &treeFile{name: "p", hash: plumbing.NewHash(h), mode: mode}
	}
	base := file("01", filemode.Regular)
	ours := file("02", filemode.Regular)
	theirs := file("03", filemode.Regular)

	typ, ok := detectPathConflict(&pathChange{before: base, after: ours}, &pathChange{before: base, after: theirs})
	assert.True(t, ok)
	assert.Equal(t, ConflictModifyModify, typ)

	typ, ok = detectPathConflict(&pathChange{after: ours}, &pathChange{after: theirs})
	assert.True(t, ok)
	assert.Equal(t, ConflictAddAdd, typ)

	typ, ok = detectPathConflict(&pathChange{before: base}, &pathChange{before: base, after: theirs})
	assert.True(t, ok)
	assert.Equal(t, ConflictDeleteModify, typ)

	typ, ok = detectPathConflict(&pathChange{before: base, after: ours}, &pathChange{before: base})
	assert.True(t, ok)
	assert.Equal(t, ConflictModifyDelete, typ)

	_, ok = detectPathConflict(&pathChange{before: base, after: ours}, &pathChange{before: base, after: ours})
	assert.False(t, ok)

	sub := file("04", filemode.Submodule)
	_, ok = detectPathConflict(&pathChange{before: base, after: sub}, &pathChange{before: base, after: theirs})
	assert.False(t, ok, "submodules are ignored")
}
