package sharelatex

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// PushFiles uploads the given changes tagged with the revision marker the
// caller believes is current. The server rejects the whole push with
// ErrConflictRejected when that marker is stale, so a concurrent remote edit
// can never be overwritten silently. Returns the new revision marker.
func (c *Client) PushFiles(ctx context.Context, sess *Session, project *Project, baseRev string, changes []FileChange) (string, error) {
	folders := newFolderCache(project)
	newRev := baseRev

	for _, change := range changes {
		var (
			rev string
			err error
		)
		if change.Delete {
			rev, err = c.deleteFile(ctx, sess, project, baseRev, change.Path)
		} else {
			rev, err = c.uploadFile(ctx, sess, project.ID, baseRev, folders, change)
		}
		if err != nil {
			return "", err
		}
		if rev != "" {
			newRev = rev
		}
	}
	return newRev, nil
}

func (c *Client) uploadFile(ctx context.Context, sess *Session, projectID, baseRev string, folders *folderCache, change FileChange) (string, error) {
	folderID, err := c.ensureFolder(ctx, sess, projectID, folders, path.Dir(change.Path))
	if err != nil {
		return "", err
	}

	var out uploadResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetQueryParams(map[string]string{
			"folder_id":       folderID,
			"_csrf":           sess.CSRFToken,
			"qquid":           uuid.NewString(),
			"qqfilename":      path.Base(change.Path),
			"qqtotalfilesize": strconv.Itoa(len(change.Content)),
			"baseRev":         baseRev,
		}).
		SetFileBytes("qqfile", path.Base(change.Path), change.Content).
		SetSuccessResult(&out).
		Post(fmt.Sprintf("/project/%s/upload", projectID))
	if err := checkResponse(res, err, "upload "+change.Path); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("upload %s: server reported failure", change.Path)
	}

	sess.absorb(res.Cookies())
	return out.Revision, nil
}

func (c *Client) deleteFile(ctx context.Context, sess *Session, project *Project, baseRev, filePath string) (string, error) {
	entry, ok := project.FileByPath(filePath)
	if !ok {
		// already gone remotely, nothing to delete
		return "", nil
	}

	endpoint := fmt.Sprintf("/project/%s/file/%s", project.ID, entry.ID)
	if entry.Kind == KindDoc {
		endpoint = fmt.Sprintf("/project/%s/doc/%s", project.ID, entry.ID)
	}

	var out uploadResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetQueryParams(map[string]string{
			"_csrf":   sess.CSRFToken,
			"baseRev": baseRev,
		}).
		SetSuccessResult(&out).
		Delete(endpoint)
	if err := checkResponse(res, err, "delete "+filePath); err != nil {
		return "", err
	}

	sess.absorb(res.Cookies())
	return out.Revision, nil
}

// ensureFolder resolves a folder path to its server-side id, creating the
// hierarchy recursively when needed (mirrors check_or_create_folder in the
// browser client).
func (c *Client) ensureFolder(ctx context.Context, sess *Session, projectID string, folders *folderCache, dir string) (string, error) {
	dir = normFolder(dir)
	if id, ok := folders.lookup(dir); ok {
		return id, nil
	}

	parentID, err := c.ensureFolder(ctx, sess, projectID, folders, path.Dir(dir))
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"_id"`
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetFormData(map[string]string{
			"parent_folder_id": parentID,
			"_csrf":            sess.CSRFToken,
			"name":             path.Base(dir),
		}).
		SetSuccessResult(&created).
		Post(fmt.Sprintf("/project/%s/folder", projectID))
	if err := checkResponse(res, err, "create folder "+dir); err != nil {
		return "", err
	}

	folders.add(dir, created.ID)
	return created.ID, nil
}

// CreateProject zips the file set and uploads it as a new project. Fails
// with ErrNameCollision when the server already has a project of that name.
func (c *Client) CreateProject(ctx context.Context, sess *Session, name string, files map[string][]byte) (*Project, error) {
	archive, err := zipFiles(files)
	if err != nil {
		return nil, fmt.Errorf("create project %s: %w", name, err)
	}

	var out uploadResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetQueryParams(map[string]string{
			"_csrf":           sess.CSRFToken,
			"qquid":           uuid.NewString(),
			"qqfilename":      name + ".zip",
			"qqtotalfilesize": strconv.Itoa(len(archive)),
			"projectName":     name,
		}).
		SetFileBytes("qqfile", name+".zip", archive).
		SetSuccessResult(&out).
		Post("/project/new/upload")
	if err != nil || res.IsErrorState() {
		if res != nil && res.GetStatusCode() == 409 {
			return nil, fmt.Errorf("create project %s: %w", name, ErrNameCollision)
		}
		return nil, checkResponse(res, err, "create project "+name)
	}
	if !out.Success {
		return nil, fmt.Errorf("create project %s: server reported failure", name)
	}

	sess.absorb(res.Cookies())
	return &Project{ID: out.ProjectID, Name: name, Revision: out.Revision}, nil
}

func zipFiles(files map[string][]byte) ([]byte, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range paths {
		w, err := zw.Create(p)
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", p, err)
		}
		if _, err := w.Write(files[p]); err != nil {
			return nil, fmt.Errorf("zip %s: %w", p, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// folderCache maps folder paths to server-side folder ids, seeded from the
// project listing.
type folderCache struct {
	ids map[string]string
}

func newFolderCache(project *Project) *folderCache {
	ids := map[string]string{".": rootFolderID(project)}
	for _, folder := range project.Folders {
		ids[normFolder(folder.Path)] = folder.ID
	}
	return &folderCache{ids: ids}
}

func rootFolderID(project *Project) string {
	for _, folder := range project.Folders {
		if normFolder(folder.Path) == "." {
			return folder.ID
		}
	}
	return "root"
}

func (f *folderCache) lookup(dir string) (string, bool) {
	id, ok := f.ids[dir]
	return id, ok
}

func (f *folderCache) add(dir, id string) {
	f.ids[dir] = id
}

func normFolder(dir string) string {
	cleaned := path.Clean("/" + dir)
	if cleaned == "/" {
		return "."
	}
	return cleaned[1:]
}
