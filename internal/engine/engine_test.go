package engine

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texsync/texsync/internal/gitx"
	"github.com/texsync/texsync/internal/sharelatex"
	"github.com/texsync/texsync/internal/syncstate"
	"github.com/texsync/texsync/internal/vault"
)

const fakeServer = "https://latex.fake.test"

// fakeRemote is an in-memory stand-in for the remote service: a current
// file snapshot plus a monotonically increasing revision marker with
// optimistic concurrency on push.
type fakeRemote struct {
	serverURL  string
	revision   int
	files      map[string][]byte
	calls      int
	rejectPush bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		serverURL: fakeServer,
		revision:  1,
		files:     map[string][]byte{"a.tex": []byte("v1")},
	}
}

// edit simulates a concurrent collaborator change on the remote side.
func (f *fakeRemote) edit(path, content string) {
	f.files[path] = []byte(content)
	f.revision++
}

func (f *fakeRemote) rev() string {
	return fmt.Sprintf("r%d", f.revision)
}

func (f *fakeRemote) listing() *sharelatex.Project {
	paths := make([]string, 0, len(f.files))
	for p := range f.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	project := &sharelatex.Project{
		ID:       "p1",
		Name:     "thesis",
		Revision: f.rev(),
		Folders:  []sharelatex.FolderEntry{{Path: "/", ID: "root"}},
	}
	for _, p := range paths {
		project.Files = append(project.Files, sharelatex.FileEntry{
			Path:     p,
			ID:       "id-" + p,
			FolderID: "root",
			Kind:     sharelatex.KindDoc,
			Hash:     fmt.Sprintf("%x", sha1.Sum(f.files[p])),
			Size:     int64(len(f.files[p])),
		})
	}
	return project
}

func (f *fakeRemote) ServerURL() string { return f.serverURL }

func (f *fakeRemote) Login(ctx context.Context, creds *vault.Credentials) (*sharelatex.Session, error) {
	f.calls++
	return &sharelatex.Session{
		ServerURL: f.serverURL,
		Email:     creds.Email,
		CSRFToken: "token-token-token-token-token-token-",
		Expiry:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeRemote) FetchProject(ctx context.Context, sess *sharelatex.Session, projectID string) (*sharelatex.Project, error) {
	f.calls++
	if projectID != "p1" {
		return nil, fmt.Errorf("project %s: %w", projectID, sharelatex.ErrNotFound)
	}
	return f.listing(), nil
}

func (f *fakeRemote) DownloadFiles(ctx context.Context, sess *sharelatex.Session, projectID string, entries []sharelatex.FileEntry) (map[string][]byte, error) {
	f.calls++
	out := map[string][]byte{}
	for _, entry := range entries {
		content, ok := f.files[entry.Path]
		if !ok {
			return nil, fmt.Errorf("download %s: %w", entry.Path, sharelatex.ErrNotFound)
		}
		out[entry.Path] = append([]byte(nil), content...)
	}
	return out, nil
}

func (f *fakeRemote) PushFiles(ctx context.Context, sess *sharelatex.Session, project *sharelatex.Project, baseRev string, changes []sharelatex.FileChange) (string, error) {
	f.calls++
	if f.rejectPush || baseRev != f.rev() {
		return "", fmt.Errorf("upload: %w", sharelatex.ErrConflictRejected)
	}
	for _, change := range changes {
		if change.Delete {
			delete(f.files, change.Path)
			continue
		}
		f.files[change.Path] = append([]byte(nil), change.Content...)
	}
	f.revision++
	return f.rev(), nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, sess *sharelatex.Session, name string, files map[string][]byte) (*sharelatex.Project, error) {
	f.calls++
	f.files = map[string][]byte{}
	for p, c := range files {
		f.files[p] = append([]byte(nil), c...)
	}
	f.revision = 1
	return &sharelatex.Project{ID: "p1", Name: name, Revision: f.rev()}, nil
}

func (f *fakeRemote) Compile(ctx context.Context, sess *sharelatex.Session, projectID string) error {
	f.calls++
	return nil
}

func (f *fakeRemote) Share(ctx context.Context, sess *sharelatex.Session, projectID, email string, canEdit bool) error {
	f.calls++
	return nil
}

type memVault map[string]*vault.Credentials

func (v memVault) Get(serverURL string) (*vault.Credentials, error) {
	creds, ok := v[serverURL]
	if !ok {
		return nil, vault.ErrCredentialsNotFound
	}
	return creds, nil
}

func (v memVault) Put(serverURL string, creds *vault.Credentials) error {
	v[serverURL] = creds
	return nil
}

func (v memVault) Delete(serverURL string) error {
	delete(v, serverURL)
	return nil
}

func newFixture(t *testing.T) (*Engine, *fakeRemote) {
	t.Helper()

	remote := newFakeRemote()
	vlt := memVault{}
	require.NoError(t, vlt.Put(fakeServer, &vault.Credentials{Email: "alice@example.org", Password: "pw"}))

	root := filepath.Join(t.TempDir(), "thesis")
	eng, err := New(root, vlt, WithDial(func(serverURL string) RemoteClient {
		remote.serverURL = serverURL
		return remote
	}))
	require.NoError(t, err)
	return eng, remote
}

func cloned(t *testing.T, eng *Engine, remote *fakeRemote) {
	t.Helper()
	_, err := eng.Clone(context.Background(), fakeServer+"/project/p1")
	require.NoError(t, err)
}

func commitLocal(t *testing.T, eng *Engine, message string, files map[string][]byte) string {
	t.Helper()
	repo, err := gitx.Open(eng.Root())
	require.NoError(t, err)
	require.NoError(t, repo.WriteFiles(files))
	commitID, err := repo.CommitWorkingTree(message)
	require.NoError(t, err)
	return commitID
}

func readLocal(t *testing.T, eng *Engine, path string) string {
	t.Helper()
	repo, err := gitx.Open(eng.Root())
	require.NoError(t, err)
	head, err := repo.HeadCommit()
	require.NoError(t, err)
	files, err := repo.ReadTree(head)
	require.NoError(t, err)
	return string(files[path])
}

func loadState(t *testing.T, eng *Engine) *syncstate.State {
	t.Helper()
	store, err := eng.openStore()
	require.NoError(t, err)
	defer store.Close()
	state, err := store.Load()
	require.NoError(t, err)
	return state
}

func TestClone(t *testing.T) {
	eng, remote := newFixture(t)

	result, err := eng.Clone(context.Background(), fakeServer+"/project/p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", result.ProjectID)
	assert.Equal(t, "r1", result.Revision)
	assert.Equal(t, 1, result.Files)

	repo, err := gitx.Open(eng.Root())
	require.NoError(t, err)
	mainHead, err := repo.BranchHead(gitx.DefaultBranch)
	require.NoError(t, err)
	trackingHead, err := repo.BranchHead(TrackingBranch)
	require.NoError(t, err)
	assert.Equal(t, mainHead, trackingHead)

	files, err := repo.ReadTree(mainHead)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a.tex": []byte("v1")}, files)

	state := loadState(t, eng)
	assert.Equal(t, "r1", state.Revision)
	assert.Equal(t, mainHead, state.TrackingCommit)
	assert.False(t, state.Diverged())
	_ = remote
}

func TestCloneTwiceFails(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	_, err := eng.Clone(context.Background(), fakeServer+"/project/p1")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestCloneRejectsHostileListingPaths(t *testing.T) {
	eng, remote := newFixture(t)
	remote.files["../evil.tex"] = []byte("pwn")

	_, err := eng.Clone(context.Background(), fakeServer+"/project/p1")
	assert.ErrorIs(t, err, gitx.ErrUnsafePath)

	// nothing escaped the clone target and the repository stays unbound
	assert.NoFileExists(t, filepath.Join(filepath.Dir(eng.Root()), "evil.tex"))
	assert.False(t, eng.Initialized())
}

func TestPullRejectsHostileListingPaths(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)
	remote.edit("../evil.tex", "pwn")

	_, err := eng.Pull(context.Background())
	assert.ErrorIs(t, err, gitx.ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(eng.Root()), "evil.tex"))

	// tracking state is untouched, a later honest snapshot still pulls
	state := loadState(t, eng)
	assert.Equal(t, "r1", state.Revision)
}

func TestPullIsIdempotent(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	first, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, first.Status)

	repo, err := gitx.Open(eng.Root())
	require.NoError(t, err)
	headBefore, err := repo.HeadCommit()
	require.NoError(t, err)

	second, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, second.Status)

	headAfter, err := repo.HeadCommit()
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter)
}

func TestPullCleanMerge(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)
	remote.edit("a.tex", "v2")

	result, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, result.Status)
	assert.Equal(t, "r2", result.Revision)
	require.Len(t, result.Applied, 1)
	assert.Equal(t, "a.tex", result.Applied[0].Path)
	assert.Equal(t, gitx.Modified, result.Applied[0].Kind)

	assert.Equal(t, "v2", readLocal(t, eng, "a.tex"))

	state := loadState(t, eng)
	assert.Equal(t, "r2", state.Revision)
	assert.False(t, state.Diverged())

	again, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, again.Status)
}

func TestPullConflict(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	commitLocal(t, eng, "local edit", map[string][]byte{"a.tex": []byte("v2")})
	remote.edit("a.tex", "v3")

	result, err := eng.Pull(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusConflicts, result.Status)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "a.tex", result.Conflicts[0].Path)
	assert.NotEmpty(t, result.Conflicts[0].Preview)

	marked := readWorkingFile(t, eng, "a.tex")
	assert.Contains(t, marked, "<<<<<<< local")
	assert.Contains(t, marked, "v2")
	assert.Contains(t, marked, "v3")
	assert.Contains(t, marked, ">>>>>>> remote")

	state := loadState(t, eng)
	assert.True(t, state.Diverged())
	assert.NotEmpty(t, state.StagedHead)

	// the local branch head is untouched, only the working tree carries
	// the staged resolution
	assert.Equal(t, "v2", readLocal(t, eng, "a.tex"))
}

func TestRepeatedPullKeepsStagedConflicts(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	commitLocal(t, eng, "local edit", map[string][]byte{"a.tex": []byte("v2")})
	remote.edit("a.tex", "v3")

	_, err := eng.Pull(context.Background())
	require.NoError(t, err)

	before := readWorkingFile(t, eng, "a.tex")
	result, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusConflicts, result.Status)
	assert.Equal(t, before, readWorkingFile(t, eng, "a.tex"))
}

func TestPushFromDivergedSendsNothing(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	commitLocal(t, eng, "local edit", map[string][]byte{"a.tex": []byte("v2")})
	remote.edit("a.tex", "v3")
	_, err := eng.Pull(context.Background())
	require.NoError(t, err)

	calls := remote.calls
	_, err = eng.Push(context.Background())
	assert.ErrorIs(t, err, ErrDivergedState)
	assert.Equal(t, calls, remote.calls, "push from diverged must not touch the network")
}

func TestConflictResolutionFlow(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	commitLocal(t, eng, "local edit", map[string][]byte{"a.tex": []byte("v2")})
	remote.edit("a.tex", "v3")
	_, err := eng.Pull(context.Background())
	require.NoError(t, err)

	// the user resolves the markers and commits
	commitLocal(t, eng, "resolve conflict", map[string][]byte{"a.tex": []byte("v4")})

	result, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, result.Status)

	state := loadState(t, eng)
	assert.False(t, state.Diverged())
	assert.Empty(t, state.StagedHead)

	pushResult, err := eng.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r3", pushResult.Revision)
	assert.Equal(t, []byte("v4"), remote.files["a.tex"])
}

func TestPushNewFile(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	commitLocal(t, eng, "add section", map[string][]byte{"b.tex": []byte("section")})

	result, err := eng.Push(context.Background())
	require.NoError(t, err)
	assert.False(t, result.UpToDate)
	assert.Equal(t, "r2", result.Revision)
	assert.Equal(t, []byte("section"), remote.files["b.tex"])
	assert.Equal(t, []byte("v1"), remote.files["a.tex"])

	state := loadState(t, eng)
	assert.Equal(t, "r2", state.Revision)
	assert.False(t, state.Diverged())

	pull, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, pull.Status)
}

func TestPushNothingToDo(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	calls := remote.calls
	result, err := eng.Push(context.Background())
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
	assert.Equal(t, calls, remote.calls)
}

func TestPushAgainstMovedRemote(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	commitLocal(t, eng, "add section", map[string][]byte{"b.tex": []byte("section")})
	remote.edit("a.tex", "v2")

	_, err := eng.Push(context.Background())
	assert.ErrorIs(t, err, ErrRemoteDiverged)

	// nothing moved locally or remotely
	state := loadState(t, eng)
	assert.Equal(t, "r1", state.Revision)
	_, hasB := remote.files["b.tex"]
	assert.False(t, hasB)
}

func TestPushServerRejection(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	commitLocal(t, eng, "add section", map[string][]byte{"b.tex": []byte("section")})
	remote.rejectPush = true

	_, err := eng.Push(context.Background())
	assert.ErrorIs(t, err, ErrRemoteDiverged)

	state := loadState(t, eng)
	assert.Equal(t, "r1", state.Revision)
}

func TestPullRefusesDirtyWorkingTree(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	repo, err := gitx.Open(eng.Root())
	require.NoError(t, err)
	require.NoError(t, repo.WriteFiles(map[string][]byte{"a.tex": []byte("uncommitted")}))
	remote.edit("a.tex", "v2")

	_, err = eng.Pull(context.Background())
	assert.ErrorIs(t, err, gitx.ErrDirtyWorkingTree)
}

func TestRepositoryBusy(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	held := flock.New(filepath.Join(eng.metaDir(), lockFile))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = eng.Pull(context.Background())
	assert.ErrorIs(t, err, ErrRepositoryBusy)
}

func TestCloneWhileRepositoryBusy(t *testing.T) {
	eng, _ := newFixture(t)

	require.NoError(t, os.MkdirAll(eng.metaDir(), 0o755))
	held := flock.New(filepath.Join(eng.metaDir(), lockFile))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = eng.Clone(context.Background(), fakeServer+"/project/p1")
	assert.ErrorIs(t, err, ErrRepositoryBusy)
	assert.False(t, eng.Initialized())
}

func TestCrashRecovery(t *testing.T) {
	eng, remote := newFixture(t)
	cloned(t, eng, remote)

	// simulate a crash between the tracking commit and the state write:
	// the snapshot landed on the branch but syncstate still records r1
	remote.edit("a.tex", "v2")
	repo, err := gitx.Open(eng.Root())
	require.NoError(t, err)
	_, err = repo.WriteTree(TrackingBranch, map[string][]byte{"a.tex": []byte("v2")}, snapshotMessage("r2"))
	require.NoError(t, err)

	result, err := eng.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, result.Status)
	assert.Equal(t, "v2", readLocal(t, eng, "a.tex"))

	state := loadState(t, eng)
	assert.Equal(t, "r2", state.Revision)
	assert.False(t, state.Diverged())

	trackingHead, err := repo.BranchHead(TrackingBranch)
	require.NoError(t, err)
	assert.Equal(t, trackingHead, state.TrackingCommit)
}

func TestNewProject(t *testing.T) {
	eng, remote := newFixture(t)

	_, err := gitx.Init(eng.Root())
	require.NoError(t, err)
	commitLocal(t, eng, "initial import", map[string][]byte{"a.tex": []byte("v1")})

	result, err := eng.NewProject(context.Background(), fakeServer, "thesis")
	require.NoError(t, err)
	assert.Equal(t, "p1", result.ProjectID)
	assert.Equal(t, 1, result.Files)
	assert.Equal(t, []byte("v1"), remote.files["a.tex"])
	assert.True(t, eng.Initialized())

	repo, err := gitx.Open(eng.Root())
	require.NoError(t, err)
	head, err := repo.HeadCommit()
	require.NoError(t, err)
	trackingHead, err := repo.BranchHead(TrackingBranch)
	require.NoError(t, err)
	assert.Equal(t, head, trackingHead)

	_, err = eng.NewProject(context.Background(), fakeServer, "thesis")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestPullWithoutInit(t *testing.T) {
	eng, _ := newFixture(t)
	_, err := gitx.Init(eng.Root())
	require.NoError(t, err)
	commitLocal(t, eng, "initial import", map[string][]byte{"a.tex": []byte("v1")})

	_, err = eng.Pull(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func readWorkingFile(t *testing.T, eng *Engine, path string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(eng.Root(), path))
	require.NoError(t, err)
	return string(content)
}
