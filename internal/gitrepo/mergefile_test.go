package gitrepo

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func TestMergeFileArgs(t *testing.T) {
	args := mergeFileArgs(DefaultMergeFileOptions("b", "o", "t"), "O", "B", "T")
	assert.Equal(t, []string{
		"merge-file", "-p", "--marker-size=7", "--diff3",
		"-L", "o", "-L", "b", "-L", "t", "O", "B", "T",
	}, args)

	opts := MergeFileOptions{Favor: FavorUnion, Style: StyleMerge}
	args = mergeFileArgs(opts, "O", "B", "T")
	assert.Contains(t, args, "--union")
	assert.Contains(t, args, "--marker-size=7")
	assert.NotContains(t, args, "--diff3")
}

func TestCLIMerger_Conflict(t *testing.T) {
	requireGit(t)

	m := NewCLIMerger("")
	res, err := m.MergeFile(context.Background(),
		MergeFileInput{Path: "a.txt", Content: "a\nb\nc\n"},
		MergeFileInput{Path: "a.txt", Content: "a\nX\nc\n"},
		MergeFileInput{Path: "a.txt", Content: "a\nY\nc\n"},
		DefaultMergeFileOptions("base", "ours", "theirs"),
	)
	require.NoError(t, err)
	assert.False(t, res.Automergeable)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, "a\n<<<<<<< ours\nX\n||||||| base\nb\n=======\nY\n>>>>>>> theirs\nc\n", res.Content)
}

func TestCLIMerger_Clean(t *testing.T) {
	requireGit(t)

	m := NewCLIMerger("git")
	res, err := m.MergeFile(context.Background(),
		MergeFileInput{Content: "a\nb\nc\nd\ne\n"},
		MergeFileInput{Content: "A\nb\nc\nd\ne\n"},
		MergeFileInput{Content: "a\nb\nc\nd\nE\n"},
		DefaultMergeFileOptions("base", "ours", "theirs"),
	)
	require.NoError(t, err)
	assert.True(t, res.Automergeable)
	assert.Equal(t, "A\nb\nc\nd\nE\n", res.Content)
}

func TestCLIMerger_MissingBinary(t *testing.T) {
	m := &CLIMerger{GitPath: "/nonexistent/git"}
	_, err := m.MergeFile(context.Background(), MergeFileInput{}, MergeFileInput{}, MergeFileInput{}, DefaultMergeFileOptions("", "", ""))
	assert.Error(t, err)
}

func TestWalkConflicts_WithGitMerger(t *testing.T) {
	requireGit(t)

	tr := newTestRepo(t)
	tr.commit(map[string]string{"a.txt": "line1\nline2\nline3\n"})
	conflictingMerge(tr, "feature", "line1\nresolved\nline3\n")

	r, err := Open(tr.dir)
	require.NoError(t, err)
	scenarios := collect(t, r, 0)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "a.txt", scenarios[0].Files[0].Ours)
}
