// Package httpapi exposes the daemon's HTTP surface: workflow submission and
// lifecycle, worktree CRUD, merge detection and resolution, and an SSE stream
// of step output and state transitions.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	agentrt "github.com/MaciWP/treeflow/internal/agent/runtime"
	"github.com/MaciWP/treeflow/internal/git"
	"github.com/MaciWP/treeflow/internal/identity"
	"github.com/MaciWP/treeflow/internal/merge"
	"github.com/MaciWP/treeflow/internal/store"
	"github.com/MaciWP/treeflow/internal/store/postgres"
	"github.com/MaciWP/treeflow/internal/workflow"
	"github.com/MaciWP/treeflow/internal/worktree"
	"github.com/MaciWP/treeflow/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets permissive CORS headers for dev mode.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server and the engine behind it.
type ServerOptions struct {
	Home           string
	Addr           string
	RepoDir        string // root of the managed git repository
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	Runtime        string       // "stub" (default) or "subprocess"
	SubprocessCmd  string
	SubprocessArgs []string
	Sandbox        bool // wrap agent subprocesses with bwrap when available
}

// App wires the HTTP server to the engine: hub, store, worktree manager,
// workflow service, and merge resolver.
type App struct {
	Server    *http.Server
	Hub       *SSEHub
	Store     store.Store
	Gateway   *git.Gateway
	Worktrees *worktree.Manager
	Workflows *workflow.Service
	Resolver  *merge.Resolver
	Home      string
}

// NewApp creates the app and registers all routes.
func NewApp(ctx context.Context, opts ServerOptions) (*App, error) {
	hub := NewSSEHub()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	gw, err := git.NewGateway(ctx, opts.RepoDir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	wts, err := worktree.NewManager(ctx, gw, st, filepath.Join(opts.Home, "worktrees"))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var spawner agentrt.Spawner = agentrt.StubSpawner{}
	if opts.Runtime == "subprocess" && opts.SubprocessCmd != "" {
		sub := agentrt.SubprocessSpawner{Command: opts.SubprocessCmd, Args: opts.SubprocessArgs}
		if opts.Sandbox {
			sub.SandboxRepoDir = opts.RepoDir
		}
		spawner = sub
	}

	svc := workflow.NewService(st, wts, spawner, func(ev models.Event) {
		hub.PublishJSON(ev)
	})

	resolver := merge.NewResolver(gw, wts)
	if committer, err := identity.Resolve(opts.Home, opts.RepoDir); err == nil {
		resolver.CommitterName = committer.Name
		resolver.CommitterEmail = committer.Email
	}

	app := &App{
		Hub:       hub,
		Store:     st,
		Gateway:   gw,
		Worktrees: wts,
		Workflows: svc,
		Resolver:  resolver,
		Home:      opts.Home,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}
	mux.HandleFunc("/stream", hub.Handler())
	mux.HandleFunc("/v1/workflows", app.handleWorkflows)
	mux.HandleFunc("/v1/workflows/", app.handleWorkflowByID)
	mux.HandleFunc("/v1/worktrees", app.handleWorktrees)
	mux.HandleFunc("/v1/merge/detect", app.handleMergeDetect)
	mux.HandleFunc("/v1/merge/resolve", app.handleMergeResolve)
	mux.HandleFunc("/v1/merge/abort", app.handleMergeAbort)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "treeflow")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})
	app.Server = srv
	return app, nil
}

// --- Workflows ---

func (a *App) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.Workflows.List(r.Context(), 0)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, list)
	case http.MethodPost:
		var spec models.WorkflowSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		wf, err := a.Workflows.Submit(r.Context(), spec)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, wf)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleWorkflowByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/workflows/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]

	// /v1/workflows/{id}/cancel
	if len(parts) >= 2 && parts[1] == "cancel" {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := a.Workflows.Cancel(id); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true})
		return
	}

	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	wf, err := a.Workflows.Get(r.Context(), id)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, wf)
}

// --- Worktrees ---

func (a *App) handleWorktrees(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.Worktrees.List(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.Worktree, 0, len(list))
		for _, wt := range list {
			out = append(out, worktreeModel(&wt))
		}
		writeJSON(w, out)
	case http.MethodPost:
		var body struct {
			Branch  string `json:"branch"`
			BaseRef string `json:"base_ref"`
			Path    string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.Branch == "" {
			writeJSONError(w, http.StatusBadRequest, "branch required")
			return
		}
		wt, err := a.Worktrees.Create(r.Context(), worktree.CreateOptions{
			Branch:   body.Branch,
			BaseRef:  body.BaseRef,
			PathHint: body.Path,
		})
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, worktreeModel(wt))
	case http.MethodDelete:
		path := r.URL.Query().Get("path")
		if path == "" {
			writeJSONError(w, http.StatusBadRequest, "path query required")
			return
		}
		force := r.URL.Query().Get("force") == "true"
		if err := a.Worktrees.Remove(r.Context(), path, force); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Merge ---

func (a *App) handleMergeDetect(w http.ResponseWriter, r *http.Request) {
	path, ok := mergePath(w, r)
	if !ok {
		return
	}
	conflicts, err := a.Resolver.DetectConflicts(r.Context(), path)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	status := models.MergeConflictsPending
	if len(conflicts) == 0 {
		status = models.MergeClean
	}
	writeJSON(w, models.MergeResult{Status: status, Conflicts: conflicts})
}

func (a *App) handleMergeResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req models.MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.WorktreePath == "" {
		writeJSONError(w, http.StatusBadRequest, "worktree_path required")
		return
	}
	res, err := a.Resolver.Resolve(r.Context(), req.WorktreePath, req.Resolutions)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, res)
}

func (a *App) handleMergeAbort(w http.ResponseWriter, r *http.Request) {
	path, ok := mergePath(w, r)
	if !ok {
		return
	}
	if err := a.Resolver.Abort(r.Context(), path); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, models.MergeResult{Status: models.MergeAborted})
}

func mergePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	var body struct {
		WorktreePath string `json:"worktree_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return "", false
	}
	if body.WorktreePath == "" {
		writeJSONError(w, http.StatusBadRequest, "worktree_path required")
		return "", false
	}
	return body.WorktreePath, true
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, worktree.ErrWorktreeNotFound),
		errors.Is(err, worktree.ErrRefNotFound),
		errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, merge.ErrNoAttempt):
		return http.StatusNotFound
	case errors.Is(err, worktree.ErrBranchAlreadyCheckedOut),
		errors.Is(err, worktree.ErrWorktreeBusy),
		errors.Is(err, worktree.ErrWorktreeDirty),
		errors.Is(err, merge.ErrConflictsChanged):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrDependencyCycle),
		errors.Is(err, merge.ErrResolutionIncomplete):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func worktreeModel(wt *worktree.Worktree) models.Worktree {
	return models.Worktree{
		Path:      wt.Path,
		Branch:    wt.Branch,
		BaseRef:   wt.BaseRef,
		BaseSHA:   wt.BaseSHA,
		Status:    wt.Status,
		CreatedAt: wt.CreatedAt,
	}
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
