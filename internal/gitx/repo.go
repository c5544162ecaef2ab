// Package gitx wraps go-git with the task-oriented repository operations the
// synchronization engine needs: branch bookkeeping, exact-tree commits built
// through plumbing, tree diffs and working tree materialization.
package gitx

import (
	"errors"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	// DefaultBranch is the branch a fresh mirror is created on.
	DefaultBranch = "main"

	defaultAuthorName  = "texsync"
	defaultAuthorEmail = "texsync@localhost"
)

// Repo is an open local repository rooted at a working directory.
type Repo struct {
	repo *git.Repository
	root string

	authorName  string
	authorEmail string

	// now is swappable for deterministic commit timestamps in tests.
	now func() time.Time
}

// Init creates a new repository at path with DefaultBranch checked out.
func Init(path string) (*Repo, error) {
	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch),
		},
	})
	if err != nil {
		return nil, wrapErr(err, "init repository at %s", path)
	}
	return newRepo(repo, path), nil
}

// Open opens an existing repository at path.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, wrapErr(ErrNotARepository, "open %s", path)
		}
		return nil, wrapErr(err, "open repository at %s", path)
	}
	return newRepo(repo, path), nil
}

// EnsureRepository opens the repository at path, initializing one if none
// exists yet.
func EnsureRepository(path string) (*Repo, error) {
	repo, err := Open(path)
	if err == nil {
		return repo, nil
	}
	if errors.Is(err, ErrNotARepository) {
		return Init(path)
	}
	return nil, err
}

func newRepo(repo *git.Repository, root string) *Repo {
	return &Repo{
		repo:        repo,
		root:        root,
		authorName:  defaultAuthorName,
		authorEmail: defaultAuthorEmail,
		now:         time.Now,
	}
}

// Root returns the working directory the repository is rooted at.
func (r *Repo) Root() string {
	return r.root
}

// SetAuthor overrides the signature used for commits created by the engine.
func (r *Repo) SetAuthor(name, email string) {
	r.authorName = name
	r.authorEmail = email
}

func (r *Repo) signature() object.Signature {
	return object.Signature{
		Name:  r.authorName,
		Email: r.authorEmail,
		When:  r.now(),
	}
}

// CurrentBranch returns the short name of the branch HEAD points at.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoCommits
		}
		return "", wrapErr(err, "resolve HEAD")
	}
	if !head.Name().IsBranch() {
		return "", errors.New("HEAD is detached")
	}
	return head.Name().Short(), nil
}

// HeadCommit returns the commit id the current branch points at.
func (r *Repo) HeadCommit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoCommits
		}
		return "", wrapErr(err, "resolve HEAD")
	}
	return head.Hash().String(), nil
}

// BranchHead returns the commit id the named branch points at.
func (r *Repo) BranchHead(name string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", wrapErr(ErrBranchMissing, "branch %s", name)
		}
		return "", wrapErr(err, "resolve branch %s", name)
	}
	return ref.Hash().String(), nil
}

// BranchExists reports whether the named local branch exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.BranchHead(name)
	return err == nil
}

// CreateBranchAt creates (or moves) the named branch to the given commit.
func (r *Repo) CreateBranchAt(name, commitID string) error {
	hash := plumbing.NewHash(commitID)
	if _, err := r.repo.CommitObject(hash); err != nil {
		return wrapErr(ErrCommitMissing, "create branch %s at %s", name, commitID)
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return wrapErr(err, "create branch %s", name)
	}
	return nil
}

// CommitExists reports whether the commit id resolves to a commit object.
func (r *Repo) CommitExists(commitID string) bool {
	if len(commitID) != 40 {
		return false
	}
	_, err := r.repo.CommitObject(plumbing.NewHash(commitID))
	return err == nil
}

// CommitMessage returns the message of the given commit.
func (r *Repo) CommitMessage(commitID string) (string, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return "", wrapErr(ErrCommitMissing, "commit %s", commitID)
	}
	return commit.Message, nil
}

// Checkout switches the working tree to the named branch. It refuses over
// uncommitted changes.
func (r *Repo) Checkout(name string) error {
	dirty, err := r.HasUncommittedChanges()
	if err != nil {
		return err
	}
	if dirty {
		return wrapErr(ErrDirtyWorkingTree, "checkout %s", name)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return wrapErr(err, "worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	}); err != nil {
		return wrapErr(err, "checkout %s", name)
	}
	return nil
}

// ResetHard moves the current branch and working tree to the given commit.
func (r *Repo) ResetHard(commitID string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return wrapErr(err, "worktree")
	}
	if err := wt.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: plumbing.NewHash(commitID),
	}); err != nil {
		return wrapErr(err, "reset to %s", commitID)
	}
	return nil
}
