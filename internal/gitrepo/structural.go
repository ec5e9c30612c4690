package gitrepo

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/samber/lo"

	"github.com/mergelab/cmine/internal/models"
)

// ConflictType identifies how both sides touched a conflicting path.
type ConflictType string

const (
	ConflictModifyModify ConflictType = "modify-modify" // Both modified differently
	ConflictDeleteModify ConflictType = "delete-modify" // Ours deleted, theirs modified
	ConflictModifyDelete ConflictType = "modify-delete" // Ours modified, theirs deleted
	ConflictAddAdd       ConflictType = "add-add"       // Both added with different content
)

// treeFile is one side of a path: the blob it points at and its mode.
type treeFile struct {
	name string
	hash plumbing.Hash
	mode filemode.FileMode
}

// pathChange is the change of one path between the base tree and a side.
// before is nil for additions, after is nil for deletions.
type pathChange struct {
	before *treeFile
	after  *treeFile
}

// MergeCommits performs a structural three-way merge of ours and theirs over
// base (nil when the histories are unrelated) and returns the paths that
// conflict, sorted by path.
func (r *Repository) MergeCommits(ctx context.Context, ours, theirs, base *object.Commit) ([]models.PathMapping, error) {
	var baseTree *object.Tree
	if base != nil {
		t, err := base.Tree()
		if err != nil {
			return nil, fmt.Errorf("load base tree %s: %w", base.Hash, err)
		}
		baseTree = t
	}
	oursTree, err := ours.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree %s: %w", ours.Hash, err)
	}
	theirsTree, err := theirs.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree %s: %w", theirs.Hash, err)
	}

	oursChanges, err := changedPaths(ctx, baseTree, oursTree)
	if err != nil {
		return nil, err
	}
	theirsChanges, err := changedPaths(ctx, baseTree, theirsTree)
	if err != nil {
		return nil, err
	}

	paths := lo.Filter(lo.Keys(oursChanges), func(p string, _ int) bool {
		_, ok := theirsChanges[p]
		return ok
	})
	slices.Sort(paths)

	files := []models.PathMapping{}
	for _, path := range paths {
		oc, tc := oursChanges[path], theirsChanges[path]
		typ, ok := detectPathConflict(oc, tc)
		if !ok {
			continue
		}
		if typ == ConflictAddAdd || typ == ConflictModifyModify {
			clean, err := r.mergesCleanly(ctx, oc.before, oc.after, tc.after)
			if err != nil {
				return nil, err
			}
			if clean {
				continue
			}
		}
		r.logger.Debug("path conflict", "path", path, "type", string(typ))
		files = append(files, models.PathMapping{
			Ancestor: nameOf(oc.before),
			Ours:     nameOf(oc.after),
			Theirs:   nameOf(tc.after),
		})
	}
	return files, nil
}

// detectPathConflict reports whether a path changed on both sides in a way
// that needs resolving, and how.
func detectPathConflict(ours, theirs *pathChange) (ConflictType, bool) {
	// Both changed to the same content
	if hashOf(ours.after) == hashOf(theirs.after) {
		return "", false
	}
	for _, f := range []*treeFile{ours.before, ours.after, theirs.after} {
		if f != nil && f.mode == filemode.Submodule {
			return "", false
		}
	}

	switch {
	case ours.before == nil:
		return ConflictAddAdd, true
	case ours.after == nil:
		return ConflictDeleteModify, true
	case theirs.after == nil:
		return ConflictModifyDelete, true
	default:
		return ConflictModifyModify, true
	}
}

// mergesCleanly runs the text merger over a path changed on both sides.
// Binary content never merges cleanly.
func (r *Repository) mergesCleanly(ctx context.Context, base, ours, theirs *treeFile) (bool, error) {
	inputs := make([]MergeFileInput, 3)
	for i, f := range []*treeFile{base, ours, theirs} {
		if f == nil {
			continue
		}
		content, binary, err := r.blobText(f)
		if err != nil {
			return false, err
		}
		if binary {
			return false, nil
		}
		inputs[i] = MergeFileInput{Path: f.name, Content: content}
	}

	res, err := r.merger.MergeFile(ctx, inputs[0], inputs[1], inputs[2], DefaultMergeFileOptions("base", "ours", "theirs"))
	if err != nil {
		return false, fmt.Errorf("merge %s: %w", ours.name, err)
	}
	return res.Automergeable, nil
}

func (r *Repository) blobText(f *treeFile) (string, bool, error) {
	blob, err := r.repo.BlobObject(f.hash)
	if err != nil {
		return "", false, fmt.Errorf("load blob %s: %w", f.hash, err)
	}
	content, err := fileText(object.NewFile(f.name, f.mode, blob))
	if err != nil {
		if isDecodeError(err) {
			return "", true, nil
		}
		return "", false, err
	}
	return content, false, nil
}

// changedPaths diffs two trees and indexes the changes by path.
func changedPaths(ctx context.Context, from, to *object.Tree) (map[string]*pathChange, error) {
	changes, err := object.DiffTreeContext(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	out := make(map[string]*pathChange, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("diff action: %w", err)
		}
		pc := &pathChange{}
		if action != merkletrie.Insert {
			pc.before = entryFile(ch.From)
		}
		if action != merkletrie.Delete {
			pc.after = entryFile(ch.To)
		}
		out[pathOf(pc)] = pc
	}
	return out, nil
}

func entryFile(e object.ChangeEntry) *treeFile {
	return &treeFile{name: e.Name, hash: e.TreeEntry.Hash, mode: e.TreeEntry.Mode}
}

func pathOf(pc *pathChange) string {
	if pc.after != nil {
		return pc.after.name
	}
	return pc.before.name
}

func hashOf(f *treeFile) plumbing.Hash {
	if f == nil {
		return plumbing.ZeroHash
	}
	return f.hash
}

func nameOf(f *treeFile) string {
	if f == nil {
		return ""
	}
	return f.name
}
