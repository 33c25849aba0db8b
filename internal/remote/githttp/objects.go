package githttp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Wire types for the git-object API.

// refResponse is the branch tip pointer.
type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// commitResponse is a commit object.
type commitResponse struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

// treeEntry is one entry of a tree object. A nil SHA in a createTree
// request deletes the path from the base tree.
type treeEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
	Size int64   `json:"size,omitempty"`
}

// treeResponse is a (possibly recursive) tree listing.
type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// blobResponse is a blob object, base64-encoded.
type blobResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// contentsResponse is the single-file contents endpoint payload. SHA is
// the write token required for conditional updates.
type contentsResponse struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

const blobMode = "100644"

// getRef reads the branch tip. Returns "" without error for an unborn
// branch (no commits yet).
func (c *client) getRef(ctx context.Context, branch string) (string, error) {
	var resp refResponse
	err := c.doRequest(ctx, "GET", "/refs/heads/"+url.PathEscape(branch), nil, &resp)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return resp.Object.SHA, nil
}

// updateRef advances the branch tip to newSHA, but only if the server
// still has it at expectedSHA (empty for an unborn branch). The server
// answers Conflict when the pointer moved.
func (c *client) updateRef(ctx context.Context, branch, newSHA, expectedSHA string) error {
	body := map[string]interface{}{
		"sha":      newSHA,
		"expected": expectedSHA,
		"force":    false,
	}
	return c.doRequest(ctx, "PATCH", "/refs/heads/"+url.PathEscape(branch), body, nil)
}

// getCommit reads a commit object.
func (c *client) getCommit(ctx context.Context, sha string) (*commitResponse, error) {
	var resp commitResponse
	if err := c.doRequest(ctx, "GET", "/commits/"+sha, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// createCommit creates a commit pointing at treeSHA. parents is empty for
// a root commit on an unborn branch.
func (c *client) createCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error) {
	if parents == nil {
		parents = []string{}
	}
	body := map[string]interface{}{
		"message": message,
		"tree":    treeSHA,
		"parents": parents,
	}
	var resp commitResponse
	if err := c.doRequest(ctx, "POST", "/commits", body, &resp); err != nil {
		return "", err
	}
	return resp.SHA, nil
}

// getTree reads a tree recursively.
func (c *client) getTree(ctx context.Context, sha string) (*treeResponse, error) {
	var resp treeResponse
	if err := c.doRequest(ctx, "GET", "/trees/"+sha+"?recursive=1", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Truncated {
		return nil, fmt.Errorf("tree %s: listing truncated by server", sha)
	}
	return &resp, nil
}

// createTree builds a new tree by layering entries over baseTree.
// Entries with a nil SHA delete their path; unspecified paths inherit
// from the base unchanged. baseTree is empty for a root tree.
func (c *client) createTree(ctx context.Context, baseTree string, entries []treeEntry) (string, error) {
	body := map[string]interface{}{
		"tree": entries,
	}
	if baseTree != "" {
		body["base_tree"] = baseTree
	}
	var resp treeResponse
	if err := c.doRequest(ctx, "POST", "/trees", body, &resp); err != nil {
		return "", err
	}
	return resp.SHA, nil
}

// createBlob uploads content and returns its SHA.
func (c *client) createBlob(ctx context.Context, content []byte) (string, error) {
	body := map[string]interface{}{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	var resp blobResponse
	if err := c.doRequest(ctx, "POST", "/blobs", body, &resp); err != nil {
		return "", err
	}
	return resp.SHA, nil
}

// getBlob downloads a blob's content.
func (c *client) getBlob(ctx context.Context, sha string) ([]byte, error) {
	var resp blobResponse
	if err := c.doRequest(ctx, "GET", "/blobs/"+sha, nil, &resp); err != nil {
		return nil, err
	}
	return decodeContent(resp.Content, resp.Encoding)
}

// getContents reads a file through the contents endpoint, returning the
// content and its write token.
func (c *client) getContents(ctx context.Context, path string) ([]byte, string, error) {
	var resp contentsResponse
	if err := c.doRequest(ctx, "GET", "/contents/"+escapePath(path), nil, &resp); err != nil {
		return nil, "", err
	}
	content, err := decodeContent(resp.Content, resp.Encoding)
	if err != nil {
		return nil, "", err
	}
	return content, resp.SHA, nil
}

// putContents writes a file conditionally: token is the write token from
// the last read, empty when creating. The server answers Conflict when
// the stored token differs.
func (c *client) putContents(ctx context.Context, path string, content []byte, token string) error {
	body := map[string]interface{}{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	if token != "" {
		body["sha"] = token
	}
	return c.doRequest(ctx, "PUT", "/contents/"+escapePath(path), body, nil)
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode blob content: %w", err)
		}
		return data, nil
	case "", "utf-8":
		return []byte(content), nil
	default:
		return nil, fmt.Errorf("unsupported blob encoding %q", encoding)
	}
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
