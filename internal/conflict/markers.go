// Package conflict parses diff3-style conflict text into blocks and locates
// each block's resolution inside the committed file.
package conflict

import (
	"strings"

	"github.com/mergelab/cmine/internal/models"
)

// MarkerSize is the width of every conflict marker.
const MarkerSize = 7

// Conflict markers for diff3 style output.
var (
	OursMarker   = strings.Repeat("<", MarkerSize)
	BaseMarker   = strings.Repeat("|", MarkerSize)
	TheirsMarker = strings.Repeat("=", MarkerSize)
	EndMarker    = strings.Repeat(">", MarkerSize)
)

// SplitLines splits text into lines without line terminators. A trailing
// newline does not produce an empty last line, and "\r\n" is accepted.
func SplitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

type segment int

const (
	outside segment = iota
	inOurs
	inBase
	inTheirs
)

// ParseBlocks extracts every conflict region of lines in file order.
// StartLine and EndLine are 1-indexed and include the marker lines. A region
// that is never closed by an end marker is dropped.
func ParseBlocks(lines []string) []models.ConflictBlock {
	blocks := []models.ConflictBlock{}
	state := outside
	var cur models.ConflictBlock
	segStart := 0

	for i, line := range lines {
		switch state {
		case outside:
			if strings.HasPrefix(line, OursMarker) {
				cur = models.ConflictBlock{
					Index:     len(blocks),
					StartLine: i + 1,
					Ours:      []string{},
					Base:      []string{},
					Theirs:    []string{},
				}
				state = inOurs
				segStart = i + 1
			}
		case inOurs:
			if strings.HasPrefix(line, BaseMarker) {
				cur.Ours = lines[segStart:i]
				state = inBase
				segStart = i + 1
			} else if strings.HasPrefix(line, TheirsMarker) {
				cur.Ours = lines[segStart:i]
				state = inTheirs
				segStart = i + 1
			}
		case inBase:
			if strings.HasPrefix(line, TheirsMarker) {
				cur.Base = lines[segStart:i]
				state = inTheirs
				segStart = i + 1
			}
		case inTheirs:
			if strings.HasPrefix(line, EndMarker) {
				cur.Theirs = lines[segStart:i]
				cur.EndLine = i + 1
				blocks = append(blocks, cur)
				state = outside
			}
		}
	}

	return blocks
}
