// Package client provides a Go SDK for the Treeflow HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/MaciWP/treeflow/pkg/models"
)

// Client calls the Treeflow HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:4617"
	APIKey     string       // optional; set for X-API-Key / api_key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:4617").
// APIKey is optional; when set, requests use the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// SubmitWorkflow submits a workflow spec and returns the created record.
func (c *Client) SubmitWorkflow(ctx context.Context, spec models.WorkflowSpec) (*models.Workflow, error) {
	var out models.Workflow
	err := c.doJSON(ctx, http.MethodPost, "/v1/workflows", spec, &out)
	return &out, err
}

// GetWorkflow returns a workflow with its step states.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var out models.Workflow
	err := c.doJSON(ctx, http.MethodGet, "/v1/workflows/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// ListWorkflows returns recent workflows, newest first.
func (c *Client) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	var out []models.Workflow
	err := c.doJSON(ctx, http.MethodGet, "/v1/workflows", nil, &out)
	return out, err
}

// CancelWorkflow stops a running workflow.
func (c *Client) CancelWorkflow(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/workflows/"+url.PathEscape(id)+"/cancel", map[string]string{}, nil)
}

// ListWorktrees returns the reconciled worktree registry.
func (c *Client) ListWorktrees(ctx context.Context) ([]models.Worktree, error) {
	var out []models.Worktree
	err := c.doJSON(ctx, http.MethodGet, "/v1/worktrees", nil, &out)
	return out, err
}

// CreateWorktree creates an isolated checkout for branch from baseRef.
func (c *Client) CreateWorktree(ctx context.Context, branch, baseRef, path string) (*models.Worktree, error) {
	var out models.Worktree
	err := c.doJSON(ctx, http.MethodPost, "/v1/worktrees", map[string]string{
		"branch":   branch,
		"base_ref": baseRef,
		"path":     path,
	}, &out)
	return &out, err
}

// RemoveWorktree removes the checkout at path.
func (c *Client) RemoveWorktree(ctx context.Context, path string, force bool) error {
	q := url.Values{"path": {path}}
	if force {
		q.Set("force", "true")
	}
	return c.doJSON(ctx, http.MethodDelete, "/v1/worktrees?"+q.Encode(), nil, nil)
}

// DetectConflicts dry-runs the integration of the worktree's branch.
func (c *Client) DetectConflicts(ctx context.Context, worktreePath string) (*models.MergeResult, error) {
	var out models.MergeResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/merge/detect", map[string]string{"worktree_path": worktreePath}, &out)
	return &out, err
}

// ResolveMerge applies resolutions to previously detected conflicts.
func (c *Client) ResolveMerge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error) {
	var out models.MergeResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/merge/resolve", req, &out)
	return &out, err
}

// AbortMerge reverts any in-progress integration for the worktree.
func (c *Client) AbortMerge(ctx context.Context, worktreePath string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/merge/abort", map[string]string{"worktree_path": worktreePath}, nil)
}
