package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MaciWP/treeflow/pkg/models"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustGit(t, dir, "init", "-b", "main")
	mustGit(t, dir, "config", "user.name", "test")
	mustGit(t, dir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "initial")
	return dir
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

func newTestApp(t *testing.T, opts ServerOptions) (*App, *httptest.Server, string) {
	t.Helper()
	repo := initRepo(t)
	opts.Home = t.TempDir()
	opts.RepoDir = repo
	opts.Addr = "127.0.0.1:0"
	app, err := NewApp(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = app.Store.Close()
	})
	return app, ts, repo
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestServerSmoke(t *testing.T) {
	t.Parallel()
	_, ts, _ := newTestApp(t, ServerOptions{})

	r1, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if r1.StatusCode != 200 {
		t.Fatalf("/health status=%d", r1.StatusCode)
	}

	// SSE should produce the initial connected event quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/stream", nil)
	sseResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer func() { _ = sseResp.Body.Close() }()
	sc := bufio.NewScanner(sseResp.Body)
	found := false
	for sc.Scan() {
		if strings.Contains(sc.Text(), `"type":"connected"`) {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("did not see connected event")
	}
}

func TestWorktreeEndpoints(t *testing.T) {
	t.Parallel()
	_, ts, _ := newTestApp(t, ServerOptions{})

	resp := postJSON(t, ts.URL+"/v1/worktrees", map[string]string{"branch": "feature/api"})
	if resp.StatusCode != 200 {
		t.Fatalf("POST /v1/worktrees status=%d", resp.StatusCode)
	}
	wt := decode[models.Worktree](t, resp)
	if wt.Branch != "feature/api" || wt.Status != models.WorktreeActive {
		t.Fatalf("worktree: %+v", wt)
	}

	// Creating the same branch again conflicts.
	resp = postJSON(t, ts.URL+"/v1/worktrees", map[string]string{"branch": "feature/api"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate branch status=%d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown base ref is a 404.
	resp = postJSON(t, ts.URL+"/v1/worktrees", map[string]string{"branch": "feature/bad", "base_ref": "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bad base ref status=%d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	r, err := http.Get(ts.URL + "/v1/worktrees")
	if err != nil {
		t.Fatal(err)
	}
	list := decode[[]models.Worktree](t, r)
	if len(list) != 1 || list[0].Path != wt.Path {
		t.Fatalf("list: %+v", list)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/worktrees?path="+wt.Path, nil)
	dr, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if dr.StatusCode != 200 {
		t.Fatalf("DELETE status=%d", dr.StatusCode)
	}
	dr.Body.Close()
}

func TestWorkflowEndpoints(t *testing.T) {
	t.Parallel()
	_, ts, _ := newTestApp(t, ServerOptions{})

	spec := models.WorkflowSpec{
		Name:   "demo",
		Branch: "feature/demo",
		Steps: []models.StepSpec{
			{ID: "a", Prompt: "first"},
			{ID: "b", Prompt: "second", DependsOn: []string{"a"}},
		},
	}
	resp := postJSON(t, ts.URL+"/v1/workflows", spec)
	if resp.StatusCode != 200 {
		t.Fatalf("POST /v1/workflows status=%d", resp.StatusCode)
	}
	wf := decode[models.Workflow](t, resp)
	if wf.ID == "" {
		t.Fatalf("workflow: %+v", wf)
	}

	deadline := time.Now().Add(10 * time.Second)
	var final models.Workflow
	for time.Now().Before(deadline) {
		r, err := http.Get(ts.URL + "/v1/workflows/" + wf.ID)
		if err != nil {
			t.Fatal(err)
		}
		final = decode[models.Workflow](t, r)
		if final.Status == models.WorkflowCompleted || final.Status == models.WorkflowFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if final.Status != models.WorkflowCompleted {
		t.Fatalf("workflow: %+v", final)
	}
	if len(final.Steps) != 2 {
		t.Fatalf("steps: %+v", final.Steps)
	}

	// Cyclic specs are rejected up front.
	cyclic := models.WorkflowSpec{Branch: "feature/cyclic", Steps: []models.StepSpec{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	resp = postJSON(t, ts.URL+"/v1/workflows", cyclic)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("cyclic status=%d, want 422", resp.StatusCode)
	}
	resp.Body.Close()

	// Cancelling a finished workflow is a 404.
	resp = postJSON(t, ts.URL+"/v1/workflows/"+wf.ID+"/cancel", map[string]string{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel finished status=%d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMergeEndpoints(t *testing.T) {
	t.Parallel()
	_, ts, repo := newTestApp(t, ServerOptions{})

	resp := postJSON(t, ts.URL+"/v1/worktrees", map[string]string{"branch": "feature/merge"})
	wt := decode[models.Worktree](t, resp)

	// Diverge the branch and main on the same line.
	if err := os.WriteFile(filepath.Join(wt.Path, "notes.txt"), []byte("line one\nbranch side\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, wt.Path, "commit", "-am", "branch edit")
	if err := os.WriteFile(filepath.Join(repo, "notes.txt"), []byte("line one\nmain side\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, repo, "commit", "-am", "main edit")

	resp = postJSON(t, ts.URL+"/v1/merge/detect", map[string]string{"worktree_path": wt.Path})
	if resp.StatusCode != 200 {
		t.Fatalf("detect status=%d", resp.StatusCode)
	}
	detect := decode[models.MergeResult](t, resp)
	if detect.Status != models.MergeConflictsPending || len(detect.Conflicts) != 1 {
		t.Fatalf("detect: %+v", detect)
	}

	// Incomplete resolution is rejected.
	resp = postJSON(t, ts.URL+"/v1/merge/resolve", models.MergeRequest{WorktreePath: wt.Path})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("incomplete resolve status=%d, want 422", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/merge/resolve", models.MergeRequest{
		WorktreePath: wt.Path,
		Resolutions: map[string]models.Resolution{
			detect.Conflicts[0].ID: {Strategy: models.ResolveTakeSource},
		},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("resolve status=%d", resp.StatusCode)
	}
	result := decode[models.MergeResult](t, resp)
	if result.Status != models.MergeWithResolutions || result.Commit == "" {
		t.Fatalf("resolve: %+v", result)
	}

	// Abort with nothing underway still succeeds.
	resp = postJSON(t, ts.URL+"/v1/merge/abort", map[string]string{"worktree_path": wt.Path})
	if resp.StatusCode != 200 {
		t.Fatalf("abort status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	_, ts, _ := newTestApp(t, ServerOptions{APIKey: "secret"})

	// Health stays open.
	r, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if r.StatusCode != 200 {
		t.Fatalf("/health status=%d", r.StatusCode)
	}
	r.Body.Close()

	r, err = http.Get(ts.URL + "/v1/worktrees")
	if err != nil {
		t.Fatal(err)
	}
	if r.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no key status=%d, want 401", r.StatusCode)
	}
	r.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/worktrees", nil)
	req.Header.Set("X-API-Key", "secret")
	r, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if r.StatusCode != 200 {
		t.Fatalf("with key status=%d", r.StatusCode)
	}
	r.Body.Close()
}
