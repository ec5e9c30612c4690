package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Favor selects how the merger resolves conflicting hunks on its own.
type Favor int

const (
	FavorNormal Favor = iota
	FavorOurs
	FavorTheirs
	FavorUnion
)

// Style selects the conflict marker style.
type Style int

const (
	StyleMerge Style = iota
	StyleDiff3
)

// DefaultMarkerSize is the length of the conflict marker runs.
const DefaultMarkerSize = 7

// MergeFileInput is one side of a three-way file merge.
type MergeFileInput struct {
	Path    string
	Content string
}

// MergeFileOptions controls labels and marker output of a file merge.
type MergeFileOptions struct {
	AncestorLabel string
	OurLabel      string
	TheirLabel    string
	Favor         Favor
	Style         Style
	MarkerSize    int
}

// DefaultMergeFileOptions returns diff3-style options with the given labels.
func DefaultMergeFileOptions(ancestor, ours, theirs string) MergeFileOptions {
	return MergeFileOptions{
		AncestorLabel: ancestor,
		OurLabel:      ours,
		TheirLabel:    theirs,
		Favor:         FavorNormal,
		Style:         StyleDiff3,
		MarkerSize:    DefaultMarkerSize,
	}
}

// MergeFileResult is the outcome of a file merge. Content holds the merged
// text, with conflict markers when Automergeable is false.
type MergeFileResult struct {
	Automergeable bool
	Content       string
	Conflicts     int
}

// FileMerger performs a three-way text merge of a single file.
type FileMerger interface {
	MergeFile(ctx context.Context, ancestor, ours, theirs MergeFileInput, opts MergeFileOptions) (*MergeFileResult, error)
}

// CLIMerger merges files with `git merge-file`.
type CLIMerger struct {
	GitPath string
}

// NewCLIMerger returns a merger running the given git binary ("git" when empty).
func NewCLIMerger(gitPath string) *CLIMerger {
	if gitPath == "" {
		gitPath = "git"
	}
	return &CLIMerger{GitPath: gitPath}
}

// MergeFile implements FileMerger.
func (m *CLIMerger) MergeFile(ctx context.Context, ancestor, ours, theirs MergeFileInput, opts MergeFileOptions) (*MergeFileResult, error) {
	dir, err := os.MkdirTemp("", "cmine-merge-")
	if err != nil {
		return nil, fmt.Errorf("create merge dir: %w", err)
	}
	defer os.RemoveAll(dir)

	oursPath := filepath.Join(dir, "ours")
	basePath := filepath.Join(dir, "base")
	theirsPath := filepath.Join(dir, "theirs")
	for path, content := range map[string]string{
		oursPath:   ours.Content,
		basePath:   ancestor.Content,
		theirsPath: theirs.Content,
	} {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return nil, fmt.Errorf("write merge input: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, m.gitPath(), mergeFileArgs(opts, oursPath, basePath, theirsPath)...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		return &MergeFileResult{Automergeable: true, Content: stdout.String()}, nil
	}

	// merge-file exits with the number of conflicts, capped at 127; negative
	// or larger codes are failures.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 && code < 128 {
			return &MergeFileResult{Content: stdout.String(), Conflicts: code}, nil
		}
	}
	return nil, fmt.Errorf("git merge-file %s: %w: %s", ours.Path, err, strings.TrimSpace(stderr.String()))
}

func (m *CLIMerger) gitPath() string {
	if m.GitPath == "" {
		return "git"
	}
	return m.GitPath
}

func mergeFileArgs(opts MergeFileOptions, oursPath, basePath, theirsPath string) []string {
	size := opts.MarkerSize
	if size <= 0 {
		size = DefaultMarkerSize
	}
	args := []string{"merge-file", "-p", fmt.Sprintf("--marker-size=%d", size)}
	if opts.Style == StyleDiff3 {
		args = append(args, "--diff3")
	}
	switch opts.Favor {
	case FavorOurs:
		args = append(args, "--ours")
	case FavorTheirs:
		args = append(args, "--theirs")
	case FavorUnion:
		args = append(args, "--union")
	}
	return append(args,
		"-L", opts.OurLabel,
		"-L", opts.AncestorLabel,
		"-L", opts.TheirLabel,
		oursPath, basePath, theirsPath,
	)
}
