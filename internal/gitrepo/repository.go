// Package gitrepo reads git history for the miner: it walks the commit graph,
// detects merge commits whose parents conflict, and reads file contents.
package gitrepo

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Sentinel errors for file reads. Both are recoverable: callers substitute
// empty content for the side.
var (
	ErrPathNotFound = errors.New("path not found in commit")
	ErrBlobDecode   = errors.New("blob is binary or not valid utf-8")
)

// AccessError reports a path that cannot be opened as a git repository.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot open repository %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Repository is a read-only handle on a git repository.
type Repository struct {
	name   string
	repo   *git.Repository
	merger FileMerger
	logger *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithMerger sets the text merger used to confirm path conflicts.
func WithMerger(m FileMerger) Option {
	return func(r *Repository) { r.merger = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Open opens the repository at path. The path must be an existing directory
// holding either a worktree with a .git directory or a bare repository.
func Open(path string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}
	if !info.IsDir() {
		return nil, &AccessError{Path: path, Err: errors.New("not a directory")}
	}

	repo, err := git.PlainOpen(abs)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}

	r := &Repository{
		name:   repoName(abs),
		repo:   repo,
		merger: NewCLIMerger(""),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// repoName returns the directory name of the repository, dropping the .git
// suffix of bare repositories.
func repoName(abs string) string {
	base := filepath.Base(abs)
	if base == ".git" {
		return filepath.Base(filepath.Dir(abs))
	}
	return strings.TrimSuffix(base, ".git")
}

// Name returns the repository name used as the store key.
func (r *Repository) Name() string { return r.name }

// Remotes returns the URLs of every configured remote.
func (r *Repository) Remotes() ([]string, error) {
	remotes, err := r.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}
	urls := []string{}
	for _, rem := range remotes {
		urls = append(urls, rem.Config().URLs...)
	}
	return urls, nil
}

// Branch returns the short name of HEAD ("HEAD" when detached).
func (r *Repository) Branch() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Name().Short(), nil
}

// ReadFile returns the text of path at commit. It fails with ErrPathNotFound
// when the path does not exist there and with ErrBlobDecode when the blob is
// not text.
func (r *Repository) ReadFile(commit, path string) (string, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return "", fmt.Errorf("load commit %s: %w", commit, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return "", fmt.Errorf("load tree of %s: %w", commit, err)
	}
	f, err := tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
			return "", fmt.Errorf("%w: %s at %s", ErrPathNotFound, path, commit)
		}
		return "", fmt.Errorf("read %s at %s: %w", path, commit, err)
	}
	return fileText(f)
}

func fileText(f *object.File) (string, error) {
	binary, err := f.IsBinary()
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", f.Name, err)
	}
	if binary {
		return "", fmt.Errorf("%w: %s", ErrBlobDecode, f.Name)
	}
	content, err := f.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: %s", ErrBlobDecode, f.Name)
	}
	return content, nil
}

func isDecodeError(err error) bool {
	return errors.Is(err, ErrBlobDecode)
}
