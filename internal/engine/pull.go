package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/texsync/texsync/internal/gitx"
	"github.com/texsync/texsync/internal/sharelatex"
	"github.com/texsync/texsync/internal/syncstate"
)

// Pull fetches the current remote snapshot, advances the tracking branch
// when anything changed and reconciles the advance with local history. A
// clean reconciliation produces a merge commit on the current branch; true
// conflicts are staged into the working tree with conflict markers and
// reported, leaving the repository in the diverged state until the user
// commits a resolution and pulls again. The tracking advance is durable
// before the merge is attempted, so a repeated pull never re-downloads the
// same remote state.
func (e *Engine) Pull(ctx context.Context) (*PullResult, error) {
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

	client := e.dial(state.ServerURL)
	sess, err := e.session(ctx, client)
	if err != nil {
		return nil, err
	}

	project, err := client.FetchProject(ctx, sess, state.ProjectID)
	if err != nil {
		return nil, err
	}

	oldTracking := state.TrackingCommit
	remoteFiles, downloaded, err := e.assembleSnapshot(ctx, client, sess, repo, store, state, project)
	if err != nil {
		return nil, err
	}

	newTracking, err := repo.WriteTree(TrackingBranch, remoteFiles, snapshotMessage(project.Revision))
	if err != nil {
		return nil, err
	}
	if err := store.UpdateTracking(project.Revision, newTracking, indexFromProject(project)); err != nil {
		return nil, err
	}
	state.Revision = project.Revision
	state.TrackingCommit = newTracking

	if newTracking != oldTracking {
		e.log.Info("fetched remote snapshot", "revision", project.Revision,
			"downloaded", downloaded, "commit", newTracking)
	}

	return e.reconcile(repo, store, state, oldTracking)
}

// assembleSnapshot builds the complete remote file set for the listing,
// downloading only paths whose content hash moved since the last sync and
// reusing everything else from the tracking branch head.
func (e *Engine) assembleSnapshot(
	ctx context.Context,
	client RemoteClient,
	sess *sharelatex.Session,
	repo *gitx.Repo,
	store *syncstate.Store,
	state *syncstate.State,
	project *sharelatex.Project,
) (map[string][]byte, int, error) {
	baseFiles, err := repo.ReadTree(state.TrackingCommit)
	if err != nil {
		return nil, 0, err
	}
	index, err := store.Index()
	if err != nil {
		return nil, 0, err
	}

	files := make(map[string][]byte, len(project.Files))
	var need []sharelatex.FileEntry
	for _, entry := range project.Files {
		prev, known := index[entry.Path]
		content, have := baseFiles[entry.Path]
		if known && have && prev.Hash == entry.Hash {
			files[entry.Path] = content
			continue
		}
		need = append(need, entry)
	}

	if len(need) > 0 {
		fetched, err := client.DownloadFiles(ctx, sess, state.ProjectID, need)
		if err != nil {
			return nil, 0, err
		}
		for path, content := range fetched {
			files[path] = content
		}
	}
	return files, len(need), nil
}

// reconcile merges the tracking branch state into the current branch,
// resuming a previously staged conflict resolution when one is pending.
func (e *Engine) reconcile(repo *gitx.Repo, store *syncstate.Store, state *syncstate.State, oldTracking string) (*PullResult, error) {
	head, err := repo.HeadCommit()
	if err != nil {
		return nil, err
	}
	dirty, err := repo.HasUncommittedChanges()
	if err != nil {
		return nil, err
	}

	if state.StagedHead != "" {
		switch {
		case head == state.StagedHead && dirty:
			// conflict markers are still sitting in the working tree;
			// report them again without overwriting the user's edits
			return e.reportStagedConflicts(repo, state, head)

		case head != state.StagedHead && !dirty:
			// the user committed a resolution covering everything staged
			// up to the old tracking head
			if err := store.SetMerged(oldTracking); err != nil {
				return nil, err
			}
			state.MergedCommit = oldTracking
			state.StagedHead = ""
			if state.TrackingCommit == oldTracking {
				e.log.Info("conflict resolution accepted", "commit", head)
				return &PullResult{Status: StatusMerged, Revision: state.Revision, MergeCommit: head}, nil
			}
			// newer remote changes arrived since staging, merge them now

		case head == state.StagedHead && !dirty:
			// the staged markers were discarded, start the merge over
			if err := store.SetStagedHead(""); err != nil {
				return nil, err
			}
			state.StagedHead = ""

		default:
			return nil, fmt.Errorf("%w: resolve or commit before pulling again", gitx.ErrDirtyWorkingTree)
		}
	}

	if state.TrackingCommit == state.MergedCommit {
		return &PullResult{Status: StatusUpToDate, Revision: state.Revision}, nil
	}
	if dirty {
		return nil, fmt.Errorf("%w: commit or stash before pulling", gitx.ErrDirtyWorkingTree)
	}

	base, err := e.mergeBase(repo, state)
	if err != nil {
		return nil, err
	}
	theirs, err := repo.ReadTree(state.TrackingCommit)
	if err != nil {
		return nil, err
	}
	ours, err := repo.ReadTree(head)
	if err != nil {
		return nil, err
	}

	res := resolve(base, theirs, ours)
	if len(res.conflicts) == 0 {
		return e.commitMerge(repo, store, state, head, res.files)
	}
	return e.stageConflicts(repo, store, state, head, ours, theirs, res)
}

func (e *Engine) mergeBase(repo *gitx.Repo, state *syncstate.State) (map[string][]byte, error) {
	if state.MergedCommit == "" || !repo.CommitExists(state.MergedCommit) {
		// without a trustworthy base everything overlapping counts as
		// changed on both sides, which can only escalate to conflicts,
		// never silently pick a side
		return map[string][]byte{}, nil
	}
	return repo.ReadTree(state.MergedCommit)
}

func (e *Engine) commitMerge(repo *gitx.Repo, store *syncstate.Store, state *syncstate.State, head string, files map[string][]byte) (*PullResult, error) {
	branch, err := repo.CurrentBranch()
	if err != nil {
		return nil, err
	}

	message := "merge " + snapshotMessage(state.Revision)
	mergeID, err := repo.WriteMerge(branch, files, message, head, state.TrackingCommit)
	if err != nil {
		return nil, err
	}
	if err := repo.ResetHard(mergeID); err != nil {
		return nil, err
	}
	if err := store.SetMerged(state.TrackingCommit); err != nil {
		return nil, err
	}

	applied, err := repo.DiffTrees(head, mergeID)
	if err != nil {
		return nil, err
	}
	e.log.Info("merged remote changes", "revision", state.Revision,
		"commit", mergeID, "changes", len(applied))

	return &PullResult{
		Status:      StatusMerged,
		Revision:    state.Revision,
		MergeCommit: mergeID,
		Applied:     applied,
	}, nil
}

// stageConflicts writes the reconciled file set into the working tree,
// conflict markers included, without committing anything. The local branch
// head stays where it was so the user resolves against their own history.
func (e *Engine) stageConflicts(repo *gitx.Repo, store *syncstate.Store, state *syncstate.State, head string, ours, theirs map[string][]byte, res resolution) (*PullResult, error) {
	writes := map[string][]byte{}
	for path, content := range res.files {
		if prev, ok := ours[path]; !ok || !bytes.Equal(prev, content) {
			writes[path] = content
		}
	}
	var removals []string
	for path := range ours {
		if _, ok := res.files[path]; !ok {
			removals = append(removals, path)
		}
	}

	if err := repo.WriteFiles(writes); err != nil {
		return nil, err
	}
	if err := repo.RemoveFiles(removals); err != nil {
		return nil, err
	}
	if err := store.SetStagedHead(head); err != nil {
		return nil, err
	}
	state.StagedHead = head

	conflicts := buildConflicts(res.conflicts, ours, theirs)
	e.log.Warn("pull produced conflicts", "revision", state.Revision, "paths", len(conflicts))

	return &PullResult{
		Status:    StatusConflicts,
		Revision:  state.Revision,
		Conflicts: conflicts,
	}, nil
}

// reportStagedConflicts recomputes the pending conflict set for display
// while leaving the working tree untouched.
func (e *Engine) reportStagedConflicts(repo *gitx.Repo, state *syncstate.State, head string) (*PullResult, error) {
	base, err := e.mergeBase(repo, state)
	if err != nil {
		return nil, err
	}
	theirs, err := repo.ReadTree(state.TrackingCommit)
	if err != nil {
		return nil, err
	}
	ours, err := repo.ReadTree(head)
	if err != nil {
		return nil, err
	}

	res := resolve(base, theirs, ours)
	return &PullResult{
		Status:    StatusConflicts,
		Revision:  state.Revision,
		Conflicts: buildConflicts(res.conflicts, ours, theirs),
	}, nil
}

func buildConflicts(paths []string, ours, theirs map[string][]byte) []Conflict {
	conflicts := make([]Conflict, 0, len(paths))
	for _, path := range paths {
		conflicts = append(conflicts, Conflict{
			Path:    path,
			Preview: conflictPreview(ours[path], theirs[path]),
		})
	}
	return conflicts
}
