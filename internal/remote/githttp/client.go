// Package githttp implements the remote store over a git-object HTTP API.
//
// The backend exposes raw git plumbing: blobs, trees, commits, and refs.
// Its only concurrency primitive is the conditional ref update (the ref
// advances only if it still points at the expected tip) and the
// conditional single-file write (the write succeeds only if the presented
// content token matches the stored one). Everything this package does is
// built from those two primitives:
//
//   - Multi-file document pushes go through the tree-commit protocol:
//     read tip, read base tree, layer changed entries, create commit,
//     compare-and-swap the ref. A lost swap restarts the whole protocol
//     from the new tip; reusing a stale tree would silently drop
//     concurrent changes.
//   - Thumbnail writes go through the contents endpoint with the token
//     read-back-and-retry discipline.
package githttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

// client is the HTTP plumbing shared by all object operations.
type client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *log.Logger
}

func newClient(baseURL, token string, logger *log.Logger) *client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &client{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// doRequest performs one JSON request against the object API and decodes
// the response into result (ignored when result is nil). Status codes are
// mapped onto the shared error taxonomy.
func (c *client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", document.ErrNotConnected, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, method, path, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%s %s: %w: %v", method, path, document.ErrCorruptData, err)
		}
	}
	return nil
}

// statusError maps an HTTP status onto the shared taxonomy.
func statusError(status int, method, path string, body []byte) error {
	msg := serverMessage(body)

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, document.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s %s: %w: %s", method, path, document.ErrPermissionDenied, msg)
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s %s: %w: %s", method, path, document.ErrConflict, msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%s %s: %w: status %d", method, path, document.ErrNotConnected, status)
	default:
		return fmt.Errorf("%s %s: server error (%d): %s", method, path, status, msg)
	}
}

func serverMessage(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
