package models

import "fmt"

// ConflictBlock is one <<<<<<< ... >>>>>>> region of a conflicting file,
// together with the slice of the committed file that resolved it.
type ConflictBlock struct {
	Index     int      `json:"index" bson:"index"`
	Ours      []string `json:"ours" bson:"ours"`
	Base      []string `json:"base" bson:"base"`
	Theirs    []string `json:"theirs" bson:"theirs"`
	Merged    []string `json:"merged" bson:"merged"`
	Labels    []string `json:"labels" bson:"labels"`
	StartLine int      `json:"start_line" bson:"start_line"` // 1-indexed, ours marker line
	EndLine   int      `json:"end_line" bson:"end_line"`     // 1-indexed, end marker line
}

// Validate checks the line range of the block.
func (cb *ConflictBlock) Validate() error {
	if cb.StartLine < 1 || cb.StartLine > cb.EndLine {
		return fmt.Errorf("%w: conflict block %d has range %d-%d", ErrInvalidRecord, cb.Index, cb.StartLine, cb.EndLine)
	}
	return nil
}

// ConflictSource is one conflicting file of a scenario: the raw content of
// every side and the conflict blocks found in it.
type ConflictSource struct {
	RepoID    string          `json:"repo_id" bson:"repo_id"`
	MSID      string          `json:"ms_id" bson:"ms_id"`
	Paths     PathMapping     `json:"paths" bson:"paths"`
	Ours      string          `json:"ours" bson:"ours"`
	Theirs    string          `json:"theirs" bson:"theirs"`
	Base      string          `json:"base" bson:"base"`
	Merged    string          `json:"merged" bson:"merged"`
	Conflicts []ConflictBlock `json:"conflicts" bson:"conflicts"`
}

// Validate checks the record before it reaches a store.
func (cs *ConflictSource) Validate() error {
	if cs == nil {
		return fmt.Errorf("%w: nil conflict source", ErrInvalidRecord)
	}
	if cs.RepoID == "" || cs.MSID == "" {
		return fmt.Errorf("%w: conflict source without repo or scenario id", ErrInvalidRecord)
	}
	if len(cs.Conflicts) == 0 {
		return fmt.Errorf("%w: conflict source %s has no conflict blocks", ErrInvalidRecord, cs.Paths.Resolved())
	}
	for i := range cs.Conflicts {
		if err := cs.Conflicts[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
