package sharelatex

import (
	"context"
	"fmt"
)

// Compile triggers a remote compilation of the project's current state on
// the server. It reports the remote status only; fetching build artifacts is
// not part of this client.
func (c *Client) Compile(ctx context.Context, sess *Session, projectID string) error {
	var out compileResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetFormData(map[string]string{"_csrf": sess.CSRFToken}).
		SetSuccessResult(&out).
		Post(fmt.Sprintf("/project/%s/compile", projectID))
	if err := checkResponse(res, err, "compile project "+projectID); err != nil {
		return err
	}

	if out.Status != "success" {
		return fmt.Errorf("compile project %s: remote status %q", projectID, out.Status)
	}
	sess.absorb(res.Cookies())
	return nil
}

// Share sends an invitation granting read/write or read-only access.
func (c *Client) Share(ctx context.Context, sess *Session, projectID, email string, canEdit bool) error {
	privileges := "readOnly"
	if canEdit {
		privileges = "readAndWrite"
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetCookies(sess.Cookies...).
		SetFormData(map[string]string{
			"email":      email,
			"privileges": privileges,
			"_csrf":      sess.CSRFToken,
		}).
		Post(fmt.Sprintf("/project/%s/invite", projectID))
	if err := checkResponse(res, err, "share project "+projectID); err != nil {
		return err
	}

	sess.absorb(res.Cookies())
	return nil
}
