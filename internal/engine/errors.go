package engine

import "errors"

var (
	// ErrAlreadyInitialized means the repository is already bound to a
	// remote project.
	ErrAlreadyInitialized = errors.New("repository is already linked to a remote project")

	// ErrNotInitialized means the repository has never been bound to a
	// remote project.
	ErrNotInitialized = errors.New("repository is not linked to a remote project")

	// ErrDivergedState means a fetched remote snapshot has not been merged
	// into the local branch yet. Push refuses in this state.
	ErrDivergedState = errors.New("repository has unmerged remote changes")

	// ErrRemoteDiverged means the remote project moved past the last synced
	// revision. The caller must pull before retrying.
	ErrRemoteDiverged = errors.New("remote project has changed since the last sync")

	// ErrRepositoryBusy means another invocation holds the repository lock.
	ErrRepositoryBusy = errors.New("another sync operation is in progress")

	// ErrStateMismatch means the recorded sync state refers to commits the
	// repository does not contain and could not be re-derived.
	ErrStateMismatch = errors.New("sync state does not match the repository")
)
