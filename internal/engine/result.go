package engine

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/texsync/texsync/internal/gitx"
)

// PullStatus is the outcome of a pull. Conflicts are a successful outcome
// requiring user action, not a failure.
type PullStatus int

const (
	StatusUpToDate PullStatus = iota
	StatusMerged
	StatusConflicts
)

func (s PullStatus) String() string {
	switch s {
	case StatusUpToDate:
		return "up to date"
	case StatusMerged:
		return "merged"
	case StatusConflicts:
		return "conflicts"
	default:
		return "unknown"
	}
}

// Conflict is one path whose local and remote changes could not be
// reconciled automatically. Preview is a short line diff of local against
// remote content.
type Conflict struct {
	Path    string
	Preview string
}

// PullResult reports what a pull did.
type PullResult struct {
	Status      PullStatus
	Revision    string
	MergeCommit string
	Applied     []gitx.Change
	Conflicts   []Conflict
}

// PushResult reports what a push did.
type PushResult struct {
	UpToDate bool
	Revision string
	Pushed   []gitx.Change
}

// CloneResult reports a completed clone.
type CloneResult struct {
	Path      string
	ProjectID string
	Revision  string
	Files     int
}

// NewResult reports a newly created remote project.
type NewResult struct {
	ProjectID string
	Revision  string
	Files     int
}

const previewMaxLines = 12

// conflictPreview renders a short line diff from local to remote content,
// truncated so pull output stays readable for large files.
func conflictPreview(local, remote []byte) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(local), string(remote))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []string
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffEqual:
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			out = append(out, prefix+line)
			if len(out) >= previewMaxLines {
				out = append(out, "...")
				return strings.Join(out, "\n")
			}
		}
	}
	return strings.Join(out, "\n")
}
