package sharelatex

import (
	"context"
	"fmt"
	"sync"
)

// DefaultDownloadWorkers bounds the clone/pull download fan-out.
const DefaultDownloadWorkers = 4

// FetchProject retrieves the project listing: every file path with its
// content hash, plus the revision marker for the current remote state.
func (c *Client) FetchProject(ctx context.Context, sess *Session, projectID string) (*Project, error) {
	var project Project

	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetRetryCount(2).
		SetSuccessResult(&project).
		Get(fmt.Sprintf("/project/%s/listing", projectID))
	if err := checkResponse(res, err, "fetch project "+projectID); err != nil {
		return nil, err
	}

	sess.absorb(res.Cookies())
	if project.ID == "" {
		project.ID = projectID
	}
	return &project, nil
}

type downloadResult struct {
	path    string
	content []byte
	err     error
}

// DownloadFiles fetches the content of the given entries with a bounded
// worker pool. It is all-or-nothing: any failed download fails the whole
// call and no partial result is returned.
func (c *Client) DownloadFiles(ctx context.Context, sess *Session, projectID string, entries []FileEntry) (map[string][]byte, error) {
	if len(entries) == 0 {
		return map[string][]byte{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan FileEntry, len(entries))
	results := make(chan downloadResult, len(entries))

	workers := c.workers
	if workers <= 0 {
		workers = DefaultDownloadWorkers
	}
	if workers > len(entries) {
		workers = len(entries)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for entry := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
					content, err := c.downloadOne(ctx, sess, projectID, entry)
					results <- downloadResult{path: entry.Path, content: content, err: err}
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, entry := range entries {
			select {
			case <-ctx.Done():
				return
			case jobs <- entry:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	files := make(map[string][]byte, len(entries))
	var firstErr error
	for result := range results {
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
				cancel()
			}
			continue
		}
		files[result.path] = result.content
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if len(files) != len(entries) {
		return nil, fmt.Errorf("download: %w: %d of %d files fetched", ErrNetwork, len(files), len(entries))
	}
	return files, nil
}

func (c *Client) downloadOne(ctx context.Context, sess *Session, projectID string, entry FileEntry) ([]byte, error) {
	endpoint := fmt.Sprintf("/project/%s/file/%s", projectID, entry.ID)
	if entry.Kind == KindDoc {
		endpoint = fmt.Sprintf("/project/%s/doc/%s", projectID, entry.ID)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetRetryCount(2).
		Get(endpoint)
	if err := checkResponse(res, err, "download "+entry.Path); err != nil {
		return nil, err
	}
	return res.Bytes(), nil
}
