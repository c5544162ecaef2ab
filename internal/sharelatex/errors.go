package sharelatex

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	// ErrAuthentication means the server rejected the credentials or the
	// session. Fatal, never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNetwork covers transport failures and timeouts. The operation
	// performed no remote or local mutation; the caller may retry the
	// whole operation.
	ErrNetwork = errors.New("network error")

	// ErrNotFound means the project or file does not exist on the server.
	ErrNotFound = errors.New("not found on server")

	// ErrNameCollision means a project with the requested name already
	// exists.
	ErrNameCollision = errors.New("project name already exists")

	// ErrConflictRejected means the server refused an upload because the
	// revision marker it was tagged with is stale: a concurrent remote
	// edit happened since the last pull.
	ErrConflictRejected = errors.New("push rejected: remote has newer revision")

	// ErrInvalidProjectURL means the given URL does not identify a project.
	ErrInvalidProjectURL = errors.New("invalid project url")
)

// checkResponse maps a request error or an error-state response onto the
// client's error taxonomy, wrapped with the operation name.
func checkResponse(res *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrNetwork, requestErr))
	}

	if !res.IsErrorState() {
		return nil
	}

	switch res.GetStatusCode() {
	case 401, 403:
		return fmt.Errorf("%s: %w", op, ErrAuthentication)
	case 404:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case 409:
		return fmt.Errorf("%s: %w", op, ErrConflictRejected)
	case 502, 503, 504:
		return fmt.Errorf("%s: %w (status %d)", op, ErrNetwork, res.GetStatusCode())
	default:
		return fmt.Errorf("%s: server returned %d: %s", op, res.GetStatusCode(), res.String())
	}
}
