package gitx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Init(t.TempDir())
	require.NoError(t, err)
	return repo
}

// seedCommit writes files into the worktree and commits them.
func seedCommit(t *testing.T, repo *Repo, files map[string][]byte) string {
	t.Helper()
	require.NoError(t, repo.WriteFiles(files))
	id, err := repo.CommitWorkingTree("seed")
	require.NoError(t, err)
	return id
}

func TestOpenMissingRepository(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nothing"))
	assert.ErrorIs(t, err, ErrNotARepository)
}

func TestEnsureRepository(t *testing.T) {
	dir := t.TempDir()

	repo, err := EnsureRepository(dir)
	require.NoError(t, err)
	require.NotNil(t, repo)

	// second call opens the same repository
	again, err := EnsureRepository(dir)
	require.NoError(t, err)
	assert.Equal(t, repo.Root(), again.Root())
}

func TestCurrentBranchAndHead(t *testing.T) {
	repo := newTestRepo(t)

	// empty repository has no commits yet
	_, err := repo.HeadCommit()
	assert.ErrorIs(t, err, ErrNoCommits)

	id := seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})

	branch, err := repo.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, branch)

	head, err := repo.HeadCommit()
	require.NoError(t, err)
	assert.Equal(t, id, head)
}

func TestHasUncommittedChanges(t *testing.T) {
	repo := newTestRepo(t)
	seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})

	dirty, err := repo.HasUncommittedChanges()
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Root(), "b.tex"), []byte("new"), 0o644))

	dirty, err = repo.HasUncommittedChanges()
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestWriteTreeAdvancesBranch(t *testing.T) {
	repo := newTestRepo(t)
	initial := seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})
	require.NoError(t, repo.CreateBranchAt("track", initial))

	next, err := repo.WriteTree("track", map[string][]byte{
		"a.tex":       []byte("v2"),
		"sub/b.tex":   []byte("b"),
		"sub/c/d.tex": []byte("d"),
	}, "remote snapshot r2")
	require.NoError(t, err)
	assert.NotEqual(t, initial, next)

	head, err := repo.BranchHead("track")
	require.NoError(t, err)
	assert.Equal(t, next, head)

	files, err := repo.ReadTree(next)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"a.tex":       []byte("v2"),
		"sub/b.tex":   []byte("b"),
		"sub/c/d.tex": []byte("d"),
	}, files)

	msg, err := repo.CommitMessage(next)
	require.NoError(t, err)
	assert.Equal(t, "remote snapshot r2", msg)

	// the checked-out working tree is untouched by tracking commits
	content, err := os.ReadFile(filepath.Join(repo.Root(), "a.tex"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))
	assert.NoFileExists(t, filepath.Join(repo.Root(), "sub", "b.tex"))
}

func TestWriteTreeIdenticalContentIsNoOp(t *testing.T) {
	repo := newTestRepo(t)
	initial := seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})
	require.NoError(t, repo.CreateBranchAt("track", initial))

	same, err := repo.WriteTree("track", map[string][]byte{"a.tex": []byte("v1")}, "remote snapshot r2")
	require.NoError(t, err)
	assert.Equal(t, initial, same)
}

func TestWriteTreeRemovesAbsentPaths(t *testing.T) {
	repo := newTestRepo(t)
	initial := seedCommit(t, repo, map[string][]byte{
		"a.tex": []byte("v1"),
		"b.tex": []byte("v1"),
	})
	require.NoError(t, repo.CreateBranchAt("track", initial))

	next, err := repo.WriteTree("track", map[string][]byte{"a.tex": []byte("v1")}, "drop b")
	require.NoError(t, err)

	files, err := repo.ReadTree(next)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a.tex": []byte("v1")}, files)
}

func TestDiffTrees(t *testing.T) {
	repo := newTestRepo(t)
	first := seedCommit(t, repo, map[string][]byte{
		"keep.tex":   []byte("same"),
		"change.tex": []byte("old"),
		"gone.tex":   []byte("bye"),
	})
	require.NoError(t, repo.CreateBranchAt("track", first))

	second, err := repo.WriteTree("track", map[string][]byte{
		"keep.tex":   []byte("same"),
		"change.tex": []byte("new"),
		"fresh.tex":  []byte("hi"),
	}, "snapshot")
	require.NoError(t, err)

	changes, err := repo.DiffTrees(first, second)
	require.NoError(t, err)

	byPath := map[string]ChangeKind{}
	for _, ch := range changes {
		byPath[ch.Path] = ch.Kind
	}
	assert.Equal(t, map[string]ChangeKind{
		"change.tex": Modified,
		"gone.tex":   Removed,
		"fresh.tex":  Added,
	}, byPath)
}

func TestWriteMergeRecordsBothParents(t *testing.T) {
	repo := newTestRepo(t)
	base := seedCommit(t, repo, map[string][]byte{"a.tex": []byte("base")})
	require.NoError(t, repo.CreateBranchAt("track", base))

	remote, err := repo.WriteTree("track", map[string][]byte{"a.tex": []byte("remote")}, "snapshot")
	require.NoError(t, err)

	merged, err := repo.WriteMerge(DefaultBranch, map[string][]byte{"a.tex": []byte("remote")},
		"merge remote changes", base, remote)
	require.NoError(t, err)

	head, err := repo.BranchHead(DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, merged, head)

	files, err := repo.ReadTree(merged)
	require.NoError(t, err)
	assert.Equal(t, []byte("remote"), files["a.tex"])
}

func TestCheckoutRefusesDirtyTree(t *testing.T) {
	repo := newTestRepo(t)
	initial := seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})
	require.NoError(t, repo.CreateBranchAt("other", initial))

	require.NoError(t, os.WriteFile(filepath.Join(repo.Root(), "a.tex"), []byte("edited"), 0o644))

	err := repo.Checkout("other")
	assert.ErrorIs(t, err, ErrDirtyWorkingTree)
}

func TestResetHardRefreshesWorkingTree(t *testing.T) {
	repo := newTestRepo(t)
	seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})

	merged, err := repo.WriteMerge(DefaultBranch, map[string][]byte{"a.tex": []byte("v2")}, "merge")
	require.NoError(t, err)
	require.NoError(t, repo.ResetHard(merged))

	content, err := os.ReadFile(filepath.Join(repo.Root(), "a.tex"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestRemoveFilesPrunesEmptyDirs(t *testing.T) {
	repo := newTestRepo(t)
	seedCommit(t, repo, map[string][]byte{"sub/dir/a.tex": []byte("v1")})

	require.NoError(t, repo.RemoveFiles([]string{"sub/dir/a.tex"}))
	assert.NoDirExists(t, filepath.Join(repo.Root(), "sub"))
}

func TestCommitExists(t *testing.T) {
	repo := newTestRepo(t)
	id := seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})

	assert.True(t, repo.CommitExists(id))
	assert.False(t, repo.CommitExists("0123456789012345678901234567890123456789"))
	assert.False(t, repo.CommitExists("not-a-hash"))
}

func TestWriteFilesRejectsEscapingPaths(t *testing.T) {
	repo := newTestRepo(t)

	for _, path := range []string{"../escape.txt", "docs/../../escape.txt", "/etc/escape.txt", ".."} {
		err := repo.WriteFiles(map[string][]byte{path: []byte("x")})
		assert.ErrorIs(t, err, ErrUnsafePath, path)
	}

	// nothing landed next to the repository
	parent := filepath.Dir(repo.Root())
	assert.NoFileExists(t, filepath.Join(parent, "escape.txt"))
}

func TestRemoveFilesRejectsEscapingPaths(t *testing.T) {
	repo := newTestRepo(t)
	seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})

	outside := filepath.Join(filepath.Dir(repo.Root()), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	err := repo.RemoveFiles([]string{"../keep.txt"})
	assert.ErrorIs(t, err, ErrUnsafePath)
	assert.FileExists(t, outside)
}

func TestWriteTreeRejectsEscapingPaths(t *testing.T) {
	repo := newTestRepo(t)
	seedCommit(t, repo, map[string][]byte{"a.tex": []byte("v1")})

	_, err := repo.WriteTree(DefaultBranch, map[string][]byte{"../evil.tex": []byte("x")}, "snapshot")
	assert.ErrorIs(t, err, ErrUnsafePath)
}
