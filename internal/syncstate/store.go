// Package syncstate persists the durable link between a local repository and
// its remote project: server URL, project id, last-synced revision marker and
// tracking/merge commit ids, plus the per-path remote content-hash index used
// to isolate genuinely new remote changes. Backed by SQLite.
package syncstate

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/texsync/texsync/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    server_url TEXT NOT NULL,
    project_id TEXT NOT NULL,
    revision TEXT NOT NULL,
    tracking_commit TEXT NOT NULL,
    merged_commit TEXT NOT NULL,
    staged_head TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS remote_index (
    path TEXT PRIMARY KEY,
    file_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    hash TEXT NOT NULL,
    size INTEGER NOT NULL
);
`

var (
	// ErrNoState means the repository has never been bound to a remote
	// project.
	ErrNoState = errors.New("syncstate: no state recorded")
)

// State is the per-repository sync record. TrackingCommit is the head of the
// remote tracking branch as last recorded; MergedCommit is the last tracking
// commit known to be merged into the local branch. The repository is in the
// diverged state while the two differ. StagedHead remembers the local head
// at the time conflict markers were staged into the working tree.
type State struct {
	ServerURL      string `db:"server_url"`
	ProjectID      string `db:"project_id"`
	Revision       string `db:"revision"`
	TrackingCommit string `db:"tracking_commit"`
	MergedCommit   string `db:"merged_commit"`
	StagedHead     string `db:"staged_head"`
}

// Diverged reports whether a fetched remote snapshot is still unmerged.
func (s *State) Diverged() bool {
	return s.TrackingCommit != s.MergedCommit
}

// RemoteEntry is one row of the remote content-hash index: what the remote
// reported for a path at the last synced revision.
type RemoteEntry struct {
	Path   string `db:"path"`
	FileID string `db:"file_id"`
	Kind   string `db:"kind"`
	Hash   string `db:"hash"`
	Size   int64  `db:"size"`
}

// Store manages the SQLite database holding state and index.
type Store struct {
	db     *sqlx.DB
	dbPath string
}

func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Exists reports whether a state database is already present on disk.
func Exists(dbPath string) bool {
	return utils.FileExists(dbPath)
}

func (s *Store) Open() error {
	if s.db != nil {
		return fmt.Errorf("syncstate: store already open")
	}

	if err := utils.EnsureParent(s.dbPath); err != nil {
		return fmt.Errorf("syncstate: create state directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", s.dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("syncstate: open %s: %w", s.dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("syncstate: initialize schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close sync state database", "error", err)
		return err
	}
	s.db = nil
	return nil
}

// Load returns the recorded state, or ErrNoState when the repository was
// never bound.
func (s *Store) Load() (*State, error) {
	var state State
	err := s.db.Get(&state,
		`SELECT server_url, project_id, revision, tracking_commit, merged_commit, staged_head
		 FROM sync_state WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("syncstate: load: %w", err)
	}
	return &state, nil
}

// Save writes the full state and replaces the remote index in one
// transaction. Callers must only invoke this after the commits the state
// refers to are durably created.
func (s *Store) Save(state *State, index []RemoteEntry) error {
	return s.inTx(func(tx *sqlx.Tx) error {
		if err := upsertState(tx, state); err != nil {
			return err
		}
		return replaceIndex(tx, index)
	})
}

// UpdateTracking advances the tracking side of the state (revision, tracking
// commit, remote index) without touching the merge bookkeeping.
func (s *Store) UpdateTracking(revision, trackingCommit string, index []RemoteEntry) error {
	return s.inTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			`UPDATE sync_state SET revision = ?, tracking_commit = ? WHERE id = 1`,
			revision, trackingCommit)
		if err != nil {
			return fmt.Errorf("update tracking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNoState
		}
		return replaceIndex(tx, index)
	})
}

// SetMerged records that the given tracking commit is fully merged into the
// local branch and clears any staged-conflict marker.
func (s *Store) SetMerged(trackingCommit string) error {
	return s.exec(
		`UPDATE sync_state SET merged_commit = ?, staged_head = '' WHERE id = 1`,
		trackingCommit)
}

// SetStagedHead records the local head at the moment conflict-marked files
// were written into the working tree.
func (s *Store) SetStagedHead(head string) error {
	return s.exec(`UPDATE sync_state SET staged_head = ? WHERE id = 1`, head)
}

// ClearIndex drops the remote index, forcing the next pull to re-verify
// every path against the remote listing.
func (s *Store) ClearIndex() error {
	return s.exec(`DELETE FROM remote_index`)
}

// SetTrackingCommit rewrites the recorded tracking commit. Used by crash
// recovery when the branch head has moved past the recorded state.
func (s *Store) SetTrackingCommit(revision, trackingCommit string) error {
	return s.exec(
		`UPDATE sync_state SET revision = ?, tracking_commit = ? WHERE id = 1`,
		revision, trackingCommit)
}

// Index returns the remote index as a path-keyed map.
func (s *Store) Index() (map[string]RemoteEntry, error) {
	var rows []RemoteEntry
	if err := s.db.Select(&rows, `SELECT path, file_id, kind, hash, size FROM remote_index`); err != nil {
		return nil, fmt.Errorf("syncstate: load index: %w", err)
	}

	index := make(map[string]RemoteEntry, len(rows))
	for _, row := range rows {
		index[row.Path] = row
	}
	return index, nil
}

func (s *Store) exec(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("syncstate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && query != `DELETE FROM remote_index` {
		return ErrNoState
	}
	return nil
}

func (s *Store) inTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("syncstate: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("syncstate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncstate: commit tx: %w", err)
	}
	return nil
}

func upsertState(tx *sqlx.Tx, state *State) error {
	_, err := tx.NamedExec(
		`INSERT OR REPLACE INTO sync_state
		 (id, server_url, project_id, revision, tracking_commit, merged_commit, staged_head)
		 VALUES (1, :server_url, :project_id, :revision, :tracking_commit, :merged_commit, :staged_head)`,
		state)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func replaceIndex(tx *sqlx.Tx, index []RemoteEntry) error {
	if _, err := tx.Exec(`DELETE FROM remote_index`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	for _, entry := range index {
		_, err := tx.NamedExec(
			`INSERT INTO remote_index (path, file_id, kind, hash, size)
			 VALUES (:path, :file_id, :kind, :hash, :size)`,
			&entry)
		if err != nil {
			return fmt.Errorf("save index entry %s: %w", entry.Path, err)
		}
	}
	return nil
}
