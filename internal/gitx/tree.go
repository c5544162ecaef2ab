package gitx

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// WriteTree commits the exact file set onto the named branch, with that
// branch's head as parent. Paths absent from files are removed. When
// the resulting tree is identical to the branch head's tree, no commit is
// created and the existing head id is returned. The working tree of the
// checked-out branch is never touched.
func (r *Repo) WriteTree(branch string, files map[string][]byte, message string) (string, error) {
	treeHash, err := r.writeTreeObject(files)
	if err != nil {
		return "", err
	}

	var parents []plumbing.Hash
	parentID, err := r.BranchHead(branch)
	switch {
	case err == nil:
		parent, cerr := r.repo.CommitObject(plumbing.NewHash(parentID))
		if cerr != nil {
			return "", wrapErr(cerr, "load branch head %s", parentID)
		}
		if parent.TreeHash == treeHash {
			// content unchanged, advance nothing
			return parentID, nil
		}
		parents = append(parents, parent.Hash)
	case errors.Is(err, ErrBranchMissing):
		// root commit for a fresh branch
	default:
		return "", err
	}

	return r.commitTree(branch, treeHash, message, parents)
}

// WriteMerge commits the file set onto the named branch as a merge commit
// with the given parents. Unlike WriteTree it always creates a commit, so
// the merge is recorded even when the tree matches one parent.
func (r *Repo) WriteMerge(branch string, files map[string][]byte, message string, parentIDs ...string) (string, error) {
	treeHash, err := r.writeTreeObject(files)
	if err != nil {
		return "", err
	}

	parents := make([]plumbing.Hash, 0, len(parentIDs))
	for _, id := range parentIDs {
		hash := plumbing.NewHash(id)
		if _, err := r.repo.CommitObject(hash); err != nil {
			return "", wrapErr(ErrCommitMissing, "merge parent %s", id)
		}
		parents = append(parents, hash)
	}

	return r.commitTree(branch, treeHash, message, parents)
}

// ReadTree returns the full path to content snapshot of a commit.
func (r *Repo) ReadTree(commitID string) (map[string][]byte, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, wrapErr(ErrCommitMissing, "commit %s", commitID)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, wrapErr(err, "tree of %s", commitID)
	}

	files := map[string][]byte{}
	err = tree.Files().ForEach(func(f *object.File) error {
		reader, err := f.Reader()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer reader.Close()

		content, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		files[f.Name] = content
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, "walk tree of %s", commitID)
	}
	return files, nil
}

func (r *Repo) commitTree(branch string, tree plumbing.Hash, message string, parents []plumbing.Hash) (string, error) {
	sig := r.signature()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", wrapErr(err, "encode commit")
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", wrapErr(err, "store commit")
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return "", wrapErr(err, "advance branch %s", branch)
	}
	return hash.String(), nil
}

func (r *Repo) writeBlob(content []byte) (plumbing.Hash, error) {
	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, wrapErr(err, "blob writer")
	}
	if _, err := writer.Write(content); err != nil {
		writer.Close()
		return plumbing.ZeroHash, wrapErr(err, "write blob")
	}
	if err := writer.Close(); err != nil {
		return plumbing.ZeroHash, wrapErr(err, "close blob")
	}

	return r.repo.Storer.SetEncodedObject(obj)
}

func (r *Repo) writeTreeObject(files map[string][]byte) (plumbing.Hash, error) {
	root := newTreeBuilder()
	for path, content := range files {
		rel, err := safeRelPath(path)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		blob, err := r.writeBlob(content)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		root.insert(rel, blob)
	}
	return root.write(r.repo.Storer)
}

// treeBuilder assembles nested git tree objects from flat slash paths.
type treeBuilder struct {
	blobs map[string]plumbing.Hash
	dirs  map[string]*treeBuilder
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{
		blobs: map[string]plumbing.Hash{},
		dirs:  map[string]*treeBuilder{},
	}
}

func (b *treeBuilder) insert(path string, blob plumbing.Hash) {
	name, rest, nested := strings.Cut(path, "/")
	if !nested {
		b.blobs[name] = blob
		return
	}
	dir, ok := b.dirs[name]
	if !ok {
		dir = newTreeBuilder()
		b.dirs[name] = dir
	}
	dir.insert(rest, blob)
}

func (b *treeBuilder) write(s storer.EncodedObjectStorer) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(b.blobs)+len(b.dirs))

	for name, hash := range b.blobs {
		entries = append(entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Regular,
			Hash: hash,
		})
	}
	for name, dir := range b.dirs {
		hash, err := dir.write(s)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Dir,
			Hash: hash,
		})
	}

	// git orders tree entries bytewise, with directories compared as if
	// their name had a trailing slash
	sort.Slice(entries, func(i, j int) bool {
		return treeEntrySortKey(entries[i]) < treeEntrySortKey(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := s.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, wrapErr(err, "encode tree")
	}
	return s.SetEncodedObject(obj)
}

func treeEntrySortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
