// Package engine orchestrates synchronization between a local git repository
// and a remote collaborative editing project. The remote service exposes
// only a current snapshot; the engine mirrors each fetched snapshot onto an
// append-only tracking branch so ordinary three-way merging can reconcile it
// with local history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/texsync/texsync/internal/gitx"
	"github.com/texsync/texsync/internal/sharelatex"
	"github.com/texsync/texsync/internal/syncstate"
	"github.com/texsync/texsync/internal/utils"
	"github.com/texsync/texsync/internal/vault"
)

// TrackingBranch mirrors the last fetched remote snapshot. It never contains
// local-only edits and is only ever advanced, never rewritten.
const TrackingBranch = "__remote__sharelatex__"

const stateFile = "state.db"

// RemoteClient is the remote protocol surface the engine consumes. Satisfied
// by *sharelatex.Client; narrowed to an interface so tests can substitute a
// fake server-side state machine.
type RemoteClient interface {
	ServerURL() string
	Login(ctx context.Context, creds *vault.Credentials) (*sharelatex.Session, error)
	FetchProject(ctx context.Context, sess *sharelatex.Session, projectID string) (*sharelatex.Project, error)
	DownloadFiles(ctx context.Context, sess *sharelatex.Session, projectID string, entries []sharelatex.FileEntry) (map[string][]byte, error)
	PushFiles(ctx context.Context, sess *sharelatex.Session, project *sharelatex.Project, baseRev string, changes []sharelatex.FileChange) (string, error)
	CreateProject(ctx context.Context, sess *sharelatex.Session, name string, files map[string][]byte) (*sharelatex.Project, error)
	Compile(ctx context.Context, sess *sharelatex.Session, projectID string) error
	Share(ctx context.Context, sess *sharelatex.Session, projectID, email string, canEdit bool) error
}

// DialFunc creates a remote client for a server URL.
type DialFunc func(serverURL string) RemoteClient

// Engine runs the synchronization operations for one repository root.
type Engine struct {
	root       string
	vault      vault.Vault
	dial       DialFunc
	sessionDir string
	log        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDial substitutes the remote client factory.
func WithDial(dial DialFunc) Option {
	return func(e *Engine) { e.dial = dial }
}

// WithSessionDir enables on-disk session caching under dir.
func WithSessionDir(dir string) Option {
	return func(e *Engine) { e.sessionDir = dir }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an engine rooted at the repository directory.
func New(root string, vlt vault.Vault, opts ...Option) (*Engine, error) {
	resolved, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		root:  resolved,
		vault: vlt,
		dial: func(serverURL string) RemoteClient {
			return sharelatex.New(serverURL)
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Root returns the repository root the engine operates on.
func (e *Engine) Root() string {
	return e.root
}

func (e *Engine) metaDir() string {
	return filepath.Join(e.root, ".git", "texsync")
}

func (e *Engine) statePath() string {
	return filepath.Join(e.metaDir(), stateFile)
}

// Initialized reports whether the repository is already bound to a remote
// project.
func (e *Engine) Initialized() bool {
	return syncstate.Exists(e.statePath())
}

func (e *Engine) openStore() (*syncstate.Store, error) {
	store := syncstate.NewStore(e.statePath())
	if err := store.Open(); err != nil {
		return nil, err
	}
	return store, nil
}

// session returns a usable authenticated session for the client's server,
// reusing a cached one inside its expiry window and logging in with vault
// credentials otherwise.
func (e *Engine) session(ctx context.Context, client RemoteClient) (*sharelatex.Session, error) {
	if e.sessionDir != "" {
		if sess := sharelatex.LoadCachedSession(e.sessionDir, client.ServerURL()); sess.Valid() {
			return sess, nil
		}
	}

	creds, err := e.vault.Get(client.ServerURL())
	if err != nil {
		if errors.Is(err, vault.ErrCredentialsNotFound) {
			return nil, fmt.Errorf("%w: no stored credentials for %s, run 'texsync login' first",
				sharelatex.ErrAuthentication, client.ServerURL())
		}
		return nil, err
	}

	sess, err := client.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	if e.sessionDir != "" {
		if err := sharelatex.SaveSession(e.sessionDir, sess); err != nil {
			e.log.Warn("failed to cache session", "server", client.ServerURL(), "error", err)
		}
	}
	return sess, nil
}

// Login verifies credentials against the server and stores them in the
// vault on success.
func (e *Engine) Login(ctx context.Context, serverURL string, creds *vault.Credentials) error {
	client := e.dial(serverURL)
	sess, err := client.Login(ctx, creds)
	if err != nil {
		return err
	}
	if e.sessionDir != "" {
		if err := sharelatex.SaveSession(e.sessionDir, sess); err != nil {
			e.log.Warn("failed to cache session", "server", serverURL, "error", err)
		}
	}
	return e.vault.Put(serverURL, creds)
}

// loadState reads the sync record and cross-checks it against the actual
// tracking branch. A branch head that moved past the record means a crash
// happened between commit and state write; the record is re-derived from
// the branch rather than trusted.
func (e *Engine) loadState(repo *gitx.Repo, store *syncstate.Store) (*syncstate.State, error) {
	state, err := store.Load()
	if err != nil {
		if errors.Is(err, syncstate.ErrNoState) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}

	head, err := repo.BranchHead(TrackingBranch)
	if err != nil {
		if errors.Is(err, gitx.ErrBranchMissing) {
			return nil, fmt.Errorf("%w: tracking branch %s is missing", ErrStateMismatch, TrackingBranch)
		}
		return nil, err
	}

	if head != state.TrackingCommit {
		revision := ""
		if msg, err := repo.CommitMessage(head); err == nil {
			revision, _ = parseSnapshotRevision(msg)
		}
		e.log.Warn("sync state lags the tracking branch, recovering from branch head",
			"recorded", state.TrackingCommit, "head", head, "revision", revision)

		// remote content hashes are unknown for the re-derived head, so
		// the index is dropped and the next pull re-verifies every path
		if err := store.SetTrackingCommit(revision, head); err != nil {
			return nil, err
		}
		if err := store.ClearIndex(); err != nil {
			return nil, err
		}
		state.Revision = revision
		state.TrackingCommit = head
	}

	if state.MergedCommit != "" && !repo.CommitExists(state.MergedCommit) {
		return nil, fmt.Errorf("%w: merged commit %s not found", ErrStateMismatch, state.MergedCommit)
	}
	return state, nil
}

var snapshotMsgRe = regexp.MustCompile(`^remote snapshot \[rev ([^\]]+)\]`)

// snapshotMessage embeds the remote revision marker in a tracking commit
// message so crash recovery can re-derive it from the branch alone.
func snapshotMessage(revision string) string {
	return fmt.Sprintf("remote snapshot [rev %s]", revision)
}

func parseSnapshotRevision(message string) (string, bool) {
	m := snapshotMsgRe.FindStringSubmatch(message)
	if len(m) != 2 {
		return "", false
	}
	return m[1], true
}

func indexFromProject(project *sharelatex.Project) []syncstate.RemoteEntry {
	index := make([]syncstate.RemoteEntry, 0, len(project.Files))
	for _, f := range project.Files {
		index = append(index, syncstate.RemoteEntry{
			Path:   f.Path,
			FileID: f.ID,
			Kind:   f.Kind,
			Hash:   f.Hash,
			Size:   f.Size,
		})
	}
	return index
}
