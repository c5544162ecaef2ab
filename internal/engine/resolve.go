package engine

import (
	"bytes"
	"sort"
)

// resolution is the outcome of a three-way reconciliation: the full file set
// the merged tree should contain, and the paths that need manual resolution.
// Conflicted paths appear in files with conflict-marked content.
type resolution struct {
	files     map[string][]byte
	conflicts []string
}

// resolve reconciles three snapshots path by path: base is the last merged
// remote snapshot, theirs the new remote snapshot, ours the local branch
// head. A path changed on only one side takes that side's version, deletions
// included. A path changed on both sides keeps the shared content when both
// arrived at the same bytes; anything else, delete-versus-modify included,
// is a conflict. No tie-breaking beyond that: ambiguity never picks a side.
func resolve(base, theirs, ours map[string][]byte) resolution {
	res := resolution{files: map[string][]byte{}}

	for _, path := range unionPaths(base, theirs, ours) {
		baseContent, inBase := base[path]
		theirContent, inTheirs := theirs[path]
		ourContent, inOurs := ours[path]

		theyChanged := changed(inBase, baseContent, inTheirs, theirContent)
		weChanged := changed(inBase, baseContent, inOurs, ourContent)

		switch {
		case !theyChanged && !weChanged:
			if inBase {
				res.files[path] = baseContent
			}
		case theyChanged && !weChanged:
			if inTheirs {
				res.files[path] = theirContent
			}
		case weChanged && !theyChanged:
			if inOurs {
				res.files[path] = ourContent
			}
		case !inTheirs && !inOurs:
			// deleted on both sides
		case inTheirs && inOurs && bytes.Equal(theirContent, ourContent):
			res.files[path] = theirContent
		default:
			res.files[path] = conflictMarked(ourContent, theirContent)
			res.conflicts = append(res.conflicts, path)
		}
	}

	sort.Strings(res.conflicts)
	return res
}

func changed(inBase bool, base []byte, inSide bool, side []byte) bool {
	if inBase != inSide {
		return true
	}
	return inBase && !bytes.Equal(base, side)
}

// conflictMarked wraps both versions of a file in whole-file conflict
// markers. A side that deleted the file contributes an empty section.
func conflictMarked(ours, theirs []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("<<<<<<< local\n")
	writeSection(&buf, ours)
	buf.WriteString("=======\n")
	writeSection(&buf, theirs)
	buf.WriteString(">>>>>>> remote\n")
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, content []byte) {
	if len(content) == 0 {
		return
	}
	buf.Write(content)
	if content[len(content)-1] != '\n' {
		buf.WriteByte('\n')
	}
}

func unionPaths(sets ...map[string][]byte) []string {
	seen := map[string]struct{}{}
	for _, set := range sets {
		for path := range set {
			seen[path] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
