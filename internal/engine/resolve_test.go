package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func files(pairs ...string) map[string][]byte {
	m := map[string][]byte{}
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = []byte(pairs[i+1])
	}
	return m
}

func TestResolveClassification(t *testing.T) {
	tests := []struct {
		name      string
		base      map[string][]byte
		theirs    map[string][]byte
		ours      map[string][]byte
		want      map[string][]byte
		conflicts []string
	}{
		{
			name:   "unchanged everywhere",
			base:   files("a.tex", "v1"),
			theirs: files("a.tex", "v1"),
			ours:   files("a.tex", "v1"),
			want:   files("a.tex", "v1"),
		},
		{
			name:   "remote only change applies",
			base:   files("a.tex", "v1"),
			theirs: files("a.tex", "v3"),
			ours:   files("a.tex", "v1"),
			want:   files("a.tex", "v3"),
		},
		{
			name:   "local only change kept",
			base:   files("a.tex", "v1"),
			theirs: files("a.tex", "v1"),
			ours:   files("a.tex", "v2"),
			want:   files("a.tex", "v2"),
		},
		{
			name:   "both changed to identical content",
			base:   files("a.tex", "v1"),
			theirs: files("a.tex", "v2"),
			ours:   files("a.tex", "v2"),
			want:   files("a.tex", "v2"),
		},
		{
			name:      "both changed differently",
			base:      files("a.tex", "v1"),
			theirs:    files("a.tex", "v3"),
			ours:      files("a.tex", "v2"),
			conflicts: []string{"a.tex"},
		},
		{
			name:   "remote delete of unchanged file applies",
			base:   files("a.tex", "v1", "b.tex", "v1"),
			theirs: files("a.tex", "v1"),
			ours:   files("a.tex", "v1", "b.tex", "v1"),
			want:   files("a.tex", "v1"),
		},
		{
			name:   "local delete of unchanged file kept",
			base:   files("a.tex", "v1", "b.tex", "v1"),
			theirs: files("a.tex", "v1", "b.tex", "v1"),
			ours:   files("a.tex", "v1"),
			want:   files("a.tex", "v1"),
		},
		{
			name:      "remote delete versus local modify conflicts",
			base:      files("a.tex", "v1"),
			theirs:    files(),
			ours:      files("a.tex", "v2"),
			conflicts: []string{"a.tex"},
		},
		{
			name:      "local delete versus remote modify conflicts",
			base:      files("a.tex", "v1"),
			theirs:    files("a.tex", "v3"),
			ours:      files(),
			conflicts: []string{"a.tex"},
		},
		{
			name:   "deleted on both sides stays gone",
			base:   files("a.tex", "v1", "b.tex", "v1"),
			theirs: files("b.tex", "v1"),
			ours:   files("b.tex", "v1"),
			want:   files("b.tex", "v1"),
		},
		{
			name:   "added on both sides with identical content",
			base:   files(),
			theirs: files("new.tex", "hello"),
			ours:   files("new.tex", "hello"),
			want:   files("new.tex", "hello"),
		},
		{
			name:      "added on both sides with differing content",
			base:      files(),
			theirs:    files("new.tex", "remote"),
			ours:      files("new.tex", "local"),
			conflicts: []string{"new.tex"},
		},
		{
			name:   "independent changes on disjoint paths",
			base:   files("a.tex", "v1", "b.tex", "v1"),
			theirs: files("a.tex", "v3", "b.tex", "v1"),
			ours:   files("a.tex", "v1", "b.tex", "v2"),
			want:   files("a.tex", "v3", "b.tex", "v2"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolve(tt.base, tt.theirs, tt.ours)
			assert.Equal(t, tt.conflicts, res.conflicts)

			if len(tt.conflicts) == 0 {
				assert.Equal(t, tt.want, res.files)
				return
			}
			for _, path := range tt.conflicts {
				content := string(res.files[path])
				assert.Contains(t, content, "<<<<<<< local")
				assert.Contains(t, content, "=======")
				assert.Contains(t, content, ">>>>>>> remote")
			}
		})
	}
}

func TestConflictMarkedSections(t *testing.T) {
	marked := string(conflictMarked([]byte("mine\n"), []byte("theirs")))
	assert.Equal(t, "<<<<<<< local\nmine\n=======\ntheirs\n>>>>>>> remote\n", marked)

	// a side that deleted the file contributes an empty section
	deleted := string(conflictMarked(nil, []byte("theirs\n")))
	assert.Equal(t, "<<<<<<< local\n=======\ntheirs\n>>>>>>> remote\n", deleted)
}

func TestConflictPreview(t *testing.T) {
	preview := conflictPreview([]byte("one\ntwo\nthree\n"), []byte("one\nTWO\nthree\n"))
	assert.Contains(t, preview, "-two")
	assert.Contains(t, preview, "+TWO")
	assert.NotContains(t, preview, "one")
}

func TestSnapshotMessageRoundTrip(t *testing.T) {
	rev, ok := parseSnapshotRevision(snapshotMessage("r42"))
	require.True(t, ok)
	assert.Equal(t, "r42", rev)

	_, ok = parseSnapshotRevision("initial import")
	assert.False(t, ok)
}
