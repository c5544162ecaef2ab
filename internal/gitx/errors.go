package gitx

import (
	"errors"
	"fmt"
)

// Sentinel errors for repository operations. All can be checked with
// errors.Is() regardless of the context wrapped around them.

// ErrNotARepository is returned when opening a path that holds no git
// repository.
var ErrNotARepository = errors.New("not a git repository")

// ErrBranchMissing is returned when operating on a branch that does not exist.
var ErrBranchMissing = errors.New("branch does not exist")

// ErrCommitMissing is returned when a commit id cannot be resolved in the
// object store.
var ErrCommitMissing = errors.New("commit does not exist")

// ErrDirtyWorkingTree is returned when an operation requiring a clean
// working tree is invoked over uncommitted changes. Operations refuse
// rather than overwrite.
var ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes")

// ErrNoCommits is returned when an operation needs at least one commit but
// the repository history is empty.
var ErrNoCommits = errors.New("repository has no commits")

// ErrUnsafePath is returned when a file path would resolve outside the
// repository root, such as an absolute path or one with a ".." segment.
var ErrUnsafePath = errors.New("path escapes the repository")

// wrapErr adds context while keeping sentinel checks working.
func wrapErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
