package engine

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/texsync/texsync/internal/utils"
)

const lockFile = "lock"

// acquireLock serializes invocations against one repository. It fails fast
// with ErrRepositoryBusy when another invocation holds the lock instead of
// blocking.
func (e *Engine) acquireLock() (func(), error) {
	dir := e.metaDir()
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	fl := flock.New(filepath.Join(dir, lockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock repository: %w", err)
	}
	if !locked {
		return nil, ErrRepositoryBusy
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			e.log.Warn("failed to release repository lock", "path", fl.Path(), "error", err)
		}
	}, nil
}
