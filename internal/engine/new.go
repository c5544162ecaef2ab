package engine

import (
	"context"
	"fmt"

	"github.com/texsync/texsync/internal/gitx"
	"github.com/texsync/texsync/internal/sharelatex"
	"github.com/texsync/texsync/internal/syncstate"
)

// NewProject creates a remote project from the current branch head and binds
// the repository to it. The local tree is canonical, so no re-fetch happens:
// the tracking branch is created at the current head.
func (e *Engine) NewProject(ctx context.Context, serverURL, name string) (*NewResult, error) {
	repo, err := gitx.Open(e.root)
	if err != nil {
		return nil, err
	}
	if e.Initialized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, e.root)
	}

	if dirty, err := repo.HasUncommittedChanges(); err != nil {
		return nil, err
	} else if dirty {
		return nil, fmt.Errorf("%w: commit before creating a project", gitx.ErrDirtyWorkingTree)
	}
	head, err := repo.HeadCommit()
	if err != nil {
		return nil, err
	}
	files, err := repo.ReadTree(head)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to upload: the repository head is empty")
	}

	unlock, err := e.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	client := e.dial(serverURL)
	sess, err := e.session(ctx, client)
	if err != nil {
		return nil, err
	}

	project, err := client.CreateProject(ctx, sess, name, files)
	if err != nil {
		return nil, err
	}
	e.log.Info("created remote project", "name", name, "id", project.ID, "revision", project.Revision)

	if err := repo.CreateBranchAt(TrackingBranch, head); err != nil {
		return nil, err
	}

	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.Save(&syncstate.State{
		ServerURL:      serverURL,
		ProjectID:      project.ID,
		Revision:       project.Revision,
		TrackingCommit: head,
		MergedCommit:   head,
	}, e.refreshedIndex(ctx, client, sess, project.ID, project.Revision)); err != nil {
		return nil, err
	}

	return &NewResult{
		ProjectID: project.ID,
		Revision:  project.Revision,
		Files:     len(files),
	}, nil
}

// Compile triggers a remote compile of the linked project.
func (e *Engine) Compile(ctx context.Context) error {
	client, sess, state, cleanup, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return client.Compile(ctx, sess, state.ProjectID)
}

// Share invites a collaborator to the linked project.
func (e *Engine) Share(ctx context.Context, email string, canEdit bool) error {
	client, sess, state, cleanup, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return client.Share(ctx, sess, state.ProjectID, email, canEdit)
}

// connect opens the repository state and an authenticated session for
// operations that only talk to the remote.
func (e *Engine) connect(ctx context.Context) (RemoteClient, *sharelatex.Session, *syncstate.State, func(), error) {
	repo, err := gitx.Open(e.root)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if !e.Initialized() {
		return nil, nil, nil, nil, ErrNotInitialized
	}
	store, err := e.openStore()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	state, err := e.loadState(repo, store)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}

	client := e.dial(state.ServerURL)
	sess, err := e.session(ctx, client)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}
	return client, sess, state, func() { store.Close() }, nil
}
