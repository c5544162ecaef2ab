package gitx

import (
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/texsync/texsync/internal/utils"
)

// HasUncommittedChanges reports whether the working tree differs from HEAD,
// including untracked files.
func (r *Repo) HasUncommittedChanges() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, wrapErr(err, "worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return false, wrapErr(err, "worktree status")
	}
	return !status.IsClean(), nil
}

// WriteFiles writes the given contents into the working directory, creating
// parent directories as needed. It does not stage anything. Paths that
// would land outside the repository root are rejected with ErrUnsafePath.
func (r *Repo) WriteFiles(files map[string][]byte) error {
	for path, content := range files {
		rel, err := safeRelPath(path)
		if err != nil {
			return err
		}
		abs := filepath.Join(r.root, filepath.FromSlash(rel))
		if err := utils.EnsureParent(abs); err != nil {
			return wrapErr(err, "create parent of %s", path)
		}
		if err := os.WriteFile(abs, content, 0o644); err != nil {
			return wrapErr(err, "write %s", path)
		}
	}
	return nil
}

// RemoveFiles deletes the given paths from the working directory. Missing
// paths are ignored. Empty parent directories are pruned.
func (r *Repo) RemoveFiles(paths []string) error {
	for _, path := range paths {
		rel, err := safeRelPath(path)
		if err != nil {
			return err
		}
		abs := filepath.Join(r.root, filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return wrapErr(err, "remove %s", path)
		}
		pruneEmptyDirs(r.root, filepath.Dir(abs))
	}
	return nil
}

// CommitWorkingTree stages everything and commits it on the current branch.
func (r *Repo) CommitWorkingTree(message string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", wrapErr(err, "worktree")
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", wrapErr(err, "stage changes")
	}

	sig := r.signature()
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:    &object.Signature{Name: sig.Name, Email: sig.Email, When: sig.When},
		Committer: &object.Signature{Name: sig.Name, Email: sig.Email, When: sig.When},
	})
	if err != nil {
		return "", wrapErr(err, "commit working tree")
	}
	return hash.String(), nil
}

func safeRelPath(path string) (string, error) {
	rel, err := utils.SafeRelPath(path)
	if err != nil {
		return "", wrapErr(ErrUnsafePath, "%q", path)
	}
	return rel, nil
}

func pruneEmptyDirs(root, dir string) {
	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
