package models

import (
	"fmt"
	"strings"
)

// PathMapping names one conflicting file on each side of a merge.
// An empty string means the file is absent on that side (add/delete conflicts).
type PathMapping struct {
	Ancestor string `json:"ancestor,omitempty" bson:"ancestor,omitempty"`
	Ours     string `json:"ours,omitempty" bson:"ours,omitempty"`
	Theirs   string `json:"theirs,omitempty" bson:"theirs,omitempty"`
}

// Present returns how many sides carry the file.
func (p PathMapping) Present() int {
	n := 0
	for _, s := range []string{p.Ancestor, p.Ours, p.Theirs} {
		if s != "" {
			n++
		}
	}
	return n
}

// Resolved returns the path used to read the file from the merge commit.
func (p PathMapping) Resolved() string {
	switch {
	case p.Ours != "":
		return p.Ours
	case p.Theirs != "":
		return p.Theirs
	default:
		return p.Ancestor
	}
}

// Key returns a stable identity for the mapping, used in store keys.
func (p PathMapping) Key() string {
	return p.Ancestor + "|" + p.Ours + "|" + p.Theirs
}

// ConflictMergeScenario is a merge commit whose first two parents conflict.
// All four hashes are full commit ids; Base is empty for unrelated histories.
type ConflictMergeScenario struct {
	RepoID string        `json:"repo_id" bson:"repo_id"`
	Ours   string        `json:"ours" bson:"ours"`
	Theirs string        `json:"theirs" bson:"theirs"`
	Base   string        `json:"base" bson:"base"`
	Merged string        `json:"merged" bson:"merged"`
	Files  []PathMapping `json:"files" bson:"files"`
}

// MSID returns the natural key of the scenario: the 8-character prefixes of
// ours, theirs, base and merged joined by dashes.
func (ms *ConflictMergeScenario) MSID() string {
	return MSID(ms.Ours, ms.Theirs, ms.Base, ms.Merged)
}

// MSID derives a scenario id from the four commit hashes.
func MSID(ours, theirs, base, merged string) string {
	return strings.Join([]string{first8(ours), first8(theirs), first8(base), first8(merged)}, "-")
}

func first8(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// String implements fmt.Stringer for log output.
func (ms *ConflictMergeScenario) String() string {
	return fmt.Sprintf("%s (%d files)", ms.MSID(), len(ms.Files))
}

// Validate checks the record before it reaches a store.
func (ms *ConflictMergeScenario) Validate() error {
	if ms == nil {
		return fmt.Errorf("%w: nil merge scenario", ErrInvalidRecord)
	}
	if ms.RepoID == "" {
		return fmt.Errorf("%w: merge scenario without repo id", ErrInvalidRecord)
	}
	if ms.Ours == "" || ms.Theirs == "" || ms.Merged == "" {
		return fmt.Errorf("%w: merge scenario %s is missing a commit hash", ErrInvalidRecord, ms.MSID())
	}
	if len(ms.Files) == 0 {
		return fmt.Errorf("%w: merge scenario %s has no conflicting files", ErrInvalidRecord, ms.MSID())
	}
	for _, f := range ms.Files {
		if f.Present() == 0 {
			return fmt.Errorf("%w: merge scenario %s has an empty path mapping", ErrInvalidRecord, ms.MSID())
		}
	}
	return nil
}
