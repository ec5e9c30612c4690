package conflict

import "github.com/mergelab/cmine/internal/models"

// goodEnoughRun stops an anchor scan once a match longer than this is found.
const goodEnoughRun = 5

// Align fills in Merged for every block by locating the lines around the
// block (its anchors) inside the committed file. Blocks must be in index
// order; a cursor into merged advances past each located block.
//
// The alignment is a heuristic: repeated anchor lines elsewhere in the file
// can pull a boundary to the wrong occurrence.
func Align(conflictLines, merged []string, blocks []models.ConflictBlock) {
	cursor := 0
	for i := range blocks {
		b := &blocks[i]
		prefix := conflictLines[:clamp(b.StartLine-1, 0, len(conflictLines))]
		suffix := conflictLines[clamp(b.EndLine, 0, len(conflictLines)):]

		start := alignLineScan(prefix, merged, false, cursor)
		end := alignLineScan(suffix, merged, true, start)
		cursor = end

		from := clamp(start+1, 0, len(merged))
		to := clamp(end, from, len(merged))
		b.Merged = merged[from:to]
	}
}

// alignLineScan returns the index in merged of the anchor's boundary line.
//
// For a prefix anchor the merged lines from start onwards are scanned from
// the end backwards and the result is the index of the last prefix line, or
// -1 when there is no prefix or it cannot be found. For a suffix anchor the
// lines after start are scanned forwards and the result is the index of the
// first suffix line, or len(merged) when there is no suffix or it cannot be
// found.
func alignLineScan(anchor, merged []string, isSuffix bool, start int) int {
	if len(anchor) == 0 {
		if isSuffix {
			return len(merged)
		}
		return -1
	}

	var pivot, source []string
	if isSuffix {
		pivot = anchor
		source = merged[clamp(start+1, 0, len(merged)):]
	} else {
		pivot = reversed(anchor)
		source = reversed(merged[clamp(start, 0, len(merged)):])
	}

	maxRun, loc := 0, -1
	for i := range source {
		if maxRun > goodEnoughRun {
			break
		}
		if source[i] != pivot[0] {
			continue
		}
		k := 0
		for k < len(pivot) && i+k < len(source) && source[i+k] == pivot[k] {
			k++
		}
		// Equal runs: the prefix scan keeps the later hit, which lies
		// closer to the cursor; the suffix scan keeps the first one.
		if k > maxRun || (!isSuffix && k == maxRun) {
			maxRun, loc = k, i
		}
	}

	if loc < 0 {
		if isSuffix {
			return len(merged)
		}
		return -1
	}
	if isSuffix {
		return clamp(start+1, 0, len(merged)) + loc
	}
	return len(merged) - loc - 1
}

func reversed(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[len(lines)-1-i] = l
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
