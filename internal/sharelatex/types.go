package sharelatex

import (
	"fmt"
	"net/url"
	"strings"
)

// Entry kinds as reported by the remote listing. Docs are editable text
// files held in the real-time editor; files are binary assets.
const (
	KindDoc  = "doc"
	KindFile = "file"
)

// FileEntry is one file in a remote project listing.
type FileEntry struct {
	Path     string `json:"path"`
	ID       string `json:"id"`
	FolderID string `json:"folderId"`
	Kind     string `json:"type"`
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
}

// FolderEntry is one folder in a remote project listing.
type FolderEntry struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

// Project is a point-in-time snapshot of a remote project's structure. The
// engine only ever holds a copy; the remote service owns the live state.
type Project struct {
	ID       string        `json:"projectId"`
	Name     string        `json:"name"`
	Revision string        `json:"rev"`
	Files    []FileEntry   `json:"files"`
	Folders  []FolderEntry `json:"folders"`
}

// FileByPath returns the listing entry for a path, if present.
func (p *Project) FileByPath(path string) (FileEntry, bool) {
	for _, f := range p.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// FileChange is one outgoing change for PushFiles.
type FileChange struct {
	Path    string
	Content []byte
	Delete  bool
}

type uploadResponse struct {
	Success   bool   `json:"success"`
	Revision  string `json:"rev"`
	ProjectID string `json:"project_id"`
}

type messageBody struct {
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

type compileResponse struct {
	Status string `json:"status"`
}

// ParseProjectURL splits a project URL like
// https://latex.example.org/project/5f2b8c into server URL and project id.
func ParseProjectURL(projectURL string) (serverURL, projectID string, err error) {
	u, err := url.Parse(projectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidProjectURL, projectURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "project" && i+1 < len(parts) && parts[i+1] != "" {
			return u.Scheme + "://" + u.Host, parts[i+1], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidProjectURL, projectURL)
}
