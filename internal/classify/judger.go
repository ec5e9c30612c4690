package classify

import (
	"strings"

	"github.com/mergelab/cmine/internal/models"
	"github.com/samber/lo"
)

// Label is a resolution class assigned to a conflict block.
type Label string

// Primary labels describe what the resolution was made of.
const (
	LabelUnresolved Label = "unresolved"
	LabelOurs       Label = "ours"
	LabelTheirs     Label = "theirs"
	LabelBase       Label = "base"
	LabelDeletion   Label = "deletion"
	LabelConcat     Label = "concat"
	LabelInterleave Label = "interleave"
	LabelNewCode    Label = "newcode"
	LabelUnknown    Label = "unknown"
)

// Secondary labels describe the shape of the conflict itself.
const (
	LabelStyleRelated      Label = "style_related"
	LabelBaseUnderutilized Label = "base_underutilized"
	LabelComplexConflict   Label = "complex_conflict"
)

var conflictMarkers = []string{"<<<<<<<", "|||||||", "=======", ">>>>>>>"}

// Judgement holds a block's sides in raw and deflated form.
type Judgement struct {
	Ours, Base, Theirs, Merged                 []string
	deflOurs, deflBase, deflTheirs, deflMerged string
}

// NewJudgement prepares a block for the rule tables.
func NewJudgement(cb models.ConflictBlock) *Judgement {
	return &Judgement{
		Ours:       cb.Ours,
		Base:       cb.Base,
		Theirs:     cb.Theirs,
		Merged:     cb.Merged,
		deflOurs:   DeflateLines(cb.Ours),
		deflBase:   DeflateLines(cb.Base),
		deflTheirs: DeflateLines(cb.Theirs),
		deflMerged: DeflateLines(cb.Merged),
	}
}

// Rule pairs a predicate with the label it assigns.
type Rule struct {
	Label Label
	Match func(j *Judgement) bool
}

// PrimaryRules is evaluated top to bottom; the first match wins.
var PrimaryRules = []Rule{
	{LabelUnresolved, (*Judgement).isUnresolved},
	{LabelOurs, func(j *Judgement) bool { return j.resolvedTo(j.deflOurs) }},
	{LabelTheirs, func(j *Judgement) bool { return j.resolvedTo(j.deflTheirs) }},
	{LabelBase, func(j *Judgement) bool { return j.resolvedTo(j.deflBase) }},
	{LabelDeletion, (*Judgement).isDeletion},
	{LabelConcat, (*Judgement).isConcat},
	{LabelInterleave, (*Judgement).isInterleave},
	{LabelNewCode, (*Judgement).hasNewCode},
}

// SecondaryRules is evaluated top to bottom; the first match wins.
var SecondaryRules = []Rule{
	{LabelStyleRelated, func(j *Judgement) bool { return j.deflOurs == j.deflTheirs }},
	{LabelBaseUnderutilized, func(j *Judgement) bool {
		return j.deflBase == j.deflOurs || j.deflBase == j.deflTheirs
	}},
}

// Judge returns the label of the first matching rule, or fallback.
func Judge(rules []Rule, j *Judgement, fallback Label) Label {
	for _, r := range rules {
		if r.Match(j) {
			return r.Label
		}
	}
	return fallback
}

// Classify returns exactly one primary and one secondary label for cb.
func Classify(cb models.ConflictBlock) []string {
	j := NewJudgement(cb)
	return []string{
		string(Judge(PrimaryRules, j, LabelUnknown)),
		string(Judge(SecondaryRules, j, LabelComplexConflict)),
	}
}

func (j *Judgement) isUnresolved() bool {
	return lo.SomeBy(j.Merged, func(line string) bool {
		return lo.SomeBy(conflictMarkers, func(marker string) bool {
			return strings.HasPrefix(line, marker)
		})
	})
}

// resolvedTo reports whether the merged text equals side. An empty
// resolution only counts when every side is empty too; otherwise it is a
// deletion.
func (j *Judgement) resolvedTo(side string) bool {
	if j.deflMerged == "" && !j.allSidesEmpty() {
		return false
	}
	return j.deflMerged == side
}

func (j *Judgement) allSidesEmpty() bool {
	return j.deflOurs == "" && j.deflBase == "" && j.deflTheirs == ""
}

func (j *Judgement) isDeletion() bool {
	return j.deflMerged == "" && !j.allSidesEmpty()
}

// isConcat checks whether the merged text is two sides glued together. The
// comparison only runs when some pair of non-empty sides has exactly the
// merged length.
func (j *Judgement) isConcat() bool {
	pairs := [][2]string{
		{j.deflOurs, j.deflTheirs},
		{j.deflOurs, j.deflBase},
		{j.deflTheirs, j.deflBase},
	}
	candidates := lo.Filter(pairs, func(p [2]string, _ int) bool {
		return p[0] != "" && p[1] != "" && len(p[0])+len(p[1]) == len(j.deflMerged)
	})
	return lo.SomeBy(candidates, func(p [2]string) bool {
		return p[0]+p[1] == j.deflMerged || p[1]+p[0] == j.deflMerged
	})
}

func (j *Judgement) sideLines() map[string]struct{} {
	set := make(map[string]struct{}, len(j.Ours)+len(j.Base)+len(j.Theirs))
	for _, side := range [][]string{j.Ours, j.Base, j.Theirs} {
		for _, line := range side {
			set[line] = struct{}{}
		}
	}
	return set
}

func (j *Judgement) isInterleave() bool {
	set := j.sideLines()
	return lo.EveryBy(j.Merged, func(line string) bool {
		_, ok := set[line]
		return ok
	})
}

func (j *Judgement) hasNewCode() bool {
	set := j.sideLines()
	return lo.SomeBy(j.Merged, func(line string) bool {
		_, ok := set[line]
		return !ok
	})
}
