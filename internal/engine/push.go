package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/texsync/texsync/internal/gitx"
	"github.com/texsync/texsync/internal/sharelatex"
	"github.com/texsync/texsync/internal/syncstate"
)

// Push uploads local commits made since the last sync. It refuses from the
// diverged state before touching the network, carries the last-known
// revision marker so the server rejects pushes over concurrent remote
// edits, and on success advances the tracking branch to the pushed content.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	repo, err := gitx.Open(e.root)
	if err != nil {
		return nil, err
	}
	if !e.Initialized() {
		return nil, ErrNotInitialized
	}

	unlock, err := e.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	state, err := e.loadState(repo, store)
	if err != nil {
		return nil, err
	}

	if state.Diverged() {
		return nil, fmt.Errorf("%w: run 'texsync pull' and resolve first", ErrDivergedState)
	}
	if dirty, err := repo.HasUncommittedChanges(); err != nil {
		return nil, err
	} else if dirty {
		return nil, fmt.Errorf("%w: commit before pushing", gitx.ErrDirtyWorkingTree)
	}

	head, err := repo.HeadCommit()
	if err != nil {
		return nil, err
	}
	outgoing, err := repo.DiffTrees(state.TrackingCommit, head)
	if err != nil {
		return nil, err
	}
	if len(outgoing) == 0 {
		return &PushResult{UpToDate: true, Revision: state.Revision}, nil
	}

	client := e.dial(state.ServerURL)
	sess, err := e.session(ctx, client)
	if err != nil {
		return nil, err
	}

	// the listing supplies folder and file ids for addressing uploads and
	// deletes; it also lets a stale revision fail before any file moves
	project, err := client.FetchProject(ctx, sess, state.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Revision != state.Revision {
		return nil, fmt.Errorf("%w: last synced rev %s, remote at rev %s",
			ErrRemoteDiverged, state.Revision, project.Revision)
	}

	headFiles, err := repo.ReadTree(head)
	if err != nil {
		return nil, err
	}
	changes := make([]sharelatex.FileChange, 0, len(outgoing))
	for _, change := range outgoing {
		if change.Kind == gitx.Removed {
			changes = append(changes, sharelatex.FileChange{Path: change.Path, Delete: true})
			continue
		}
		changes = append(changes, sharelatex.FileChange{Path: change.Path, Content: headFiles[change.Path]})
	}

	newRev, err := client.PushFiles(ctx, sess, project, state.Revision, changes)
	if err != nil {
		if errors.Is(err, sharelatex.ErrConflictRejected) {
			return nil, fmt.Errorf("%w: run 'texsync pull' first", ErrRemoteDiverged)
		}
		return nil, err
	}

	newTracking, err := repo.WriteTree(TrackingBranch, headFiles, snapshotMessage(newRev))
	if err != nil {
		return nil, err
	}

	if err := store.Save(&syncstate.State{
		ServerURL:      state.ServerURL,
		ProjectID:      state.ProjectID,
		Revision:       newRev,
		TrackingCommit: newTracking,
		MergedCommit:   newTracking,
	}, e.refreshedIndex(ctx, client, sess, state.ProjectID, newRev)); err != nil {
		return nil, err
	}

	e.log.Info("pushed local changes", "revision", newRev,
		"files", len(changes), "commit", newTracking)

	return &PushResult{Revision: newRev, Pushed: outgoing}, nil
}

// refreshedIndex refetches the listing to learn the server-side hashes of
// the content just pushed. When the listing cannot be fetched, or the
// project moved again in between, the index is left empty and the next pull
// re-verifies every path.
func (e *Engine) refreshedIndex(ctx context.Context, client RemoteClient, sess *sharelatex.Session, projectID, wantRev string) []syncstate.RemoteEntry {
	project, err := client.FetchProject(ctx, sess, projectID)
	if err != nil {
		e.log.Warn("failed to refresh remote index after push", "error", err)
		return nil
	}
	if project.Revision != wantRev {
		e.log.Warn("remote moved again right after push", "pushed", wantRev, "listing", project.Revision)
		return nil
	}
	return indexFromProject(project)
}
