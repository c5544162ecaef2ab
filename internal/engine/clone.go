package engine

import (
	"context"
	"fmt"

	"github.com/texsync/texsync/internal/gitx"
	"github.com/texsync/texsync/internal/sharelatex"
	"github.com/texsync/texsync/internal/syncstate"
	"github.com/texsync/texsync/internal/utils"
)

// Clone materializes a remote project into the engine's root directory: it
// fetches the full snapshot, initializes a repository and creates a single
// identical initial commit on both the main branch and the tracking branch.
// The snapshot is assembled in memory first, so either the whole clone lands
// or nothing is committed.
func (e *Engine) Clone(ctx context.Context, projectURL string) (*CloneResult, error) {
	serverURL, projectID, err := sharelatex.ParseProjectURL(projectURL)
	if err != nil {
		return nil, err
	}

	if e.Initialized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, e.root)
	}

	client := e.dial(serverURL)
	sess, err := e.session(ctx, client)
	if err != nil {
		return nil, err
	}

	project, err := client.FetchProject(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	e.log.Info("cloning project", "name", project.Name, "id", projectID, "files", len(project.Files))

	contents, err := client.DownloadFiles(ctx, sess, projectID, project.Files)
	if err != nil {
		return nil, err
	}

	if err := utils.EnsureDir(e.root); err != nil {
		return nil, err
	}
	unlock, err := e.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	// re-check under the lock: a concurrent clone into the same path may
	// have bound the repository while we were fetching
	if e.Initialized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, e.root)
	}

	repo, err := gitx.EnsureRepository(e.root)
	if err != nil {
		return nil, err
	}
	if dirty, err := repo.HasUncommittedChanges(); err != nil {
		return nil, err
	} else if dirty {
		return nil, fmt.Errorf("%w: clone target %s", gitx.ErrDirtyWorkingTree, e.root)
	}

	if err := repo.WriteFiles(contents); err != nil {
		return nil, err
	}
	commitID, err := repo.CommitWorkingTree(snapshotMessage(project.Revision))
	if err != nil {
		return nil, err
	}
	if err := repo.CreateBranchAt(TrackingBranch, commitID); err != nil {
		return nil, err
	}

	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	state := &syncstate.State{
		ServerURL:      serverURL,
		ProjectID:      projectID,
		Revision:       project.Revision,
		TrackingCommit: commitID,
		MergedCommit:   commitID,
	}
	if err := store.Save(state, indexFromProject(project)); err != nil {
		return nil, err
	}

	return &CloneResult{
		Path:      e.root,
		ProjectID: projectID,
		Revision:  project.Revision,
		Files:     len(contents),
	}, nil
}
