package gitx

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// ChangeKind classifies a single path between two trees.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Change is one path-level difference between two commit trees.
type Change struct {
	Path string
	Kind ChangeKind
}

// DiffTrees computes the path-level differences between the trees of two
// commits, from a to b.
func (r *Repo) DiffTrees(a, b string) ([]Change, error) {
	treeA, err := r.commitTreeOf(a)
	if err != nil {
		return nil, err
	}
	treeB, err := r.commitTreeOf(b)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(treeA, treeB)
	if err != nil {
		return nil, wrapErr(err, "diff %s..%s", a, b)
	}

	result := make([]Change, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, wrapErr(err, "classify change")
		}
		switch action {
		case merkletrie.Insert:
			result = append(result, Change{Path: ch.To.Name, Kind: Added})
		case merkletrie.Delete:
			result = append(result, Change{Path: ch.From.Name, Kind: Removed})
		case merkletrie.Modify:
			result = append(result, Change{Path: ch.To.Name, Kind: Modified})
		}
	}
	return result, nil
}

func (r *Repo) commitTreeOf(commitID string) (*object.Tree, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, wrapErr(ErrCommitMissing, "commit %s", commitID)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, wrapErr(err, "tree of %s", commitID)
	}
	return tree, nil
}
