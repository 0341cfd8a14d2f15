// Package worktree creates, tracks, and removes isolated checkouts, each
// bound to exactly one branch. The registry is the only mutable state shared
// across workflows; every mutation goes through the Manager's lock.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MaciWP/treeflow/internal/git"
	"github.com/MaciWP/treeflow/internal/otel"
	"github.com/MaciWP/treeflow/internal/store"
	"github.com/MaciWP/treeflow/pkg/models"
)

var (
	// ErrBranchAlreadyCheckedOut is returned when the branch already backs an
	// active worktree; one branch may back at most one.
	ErrBranchAlreadyCheckedOut = errors.New("branch already checked out in another worktree")
	// ErrRefNotFound is returned when the base ref does not resolve.
	ErrRefNotFound = errors.New("base ref not found")
	// ErrWorktreeNotFound is returned for operations on unregistered paths.
	ErrWorktreeNotFound = errors.New("worktree not found")
	// ErrWorktreeDirty is returned when removal would discard uncommitted changes.
	ErrWorktreeDirty = errors.New("worktree has uncommitted changes")
	// ErrWorktreeBusy is returned while a workflow or merge attempt holds the worktree.
	ErrWorktreeBusy = errors.New("worktree is busy")
)

// Worktree is one registry entry.
type Worktree struct {
	Path      string
	Branch    string
	BaseRef   string
	BaseSHA   string
	Status    string // active, stale, removed
	CreatedAt time.Time
}

// CreateOptions configures Create. BaseRef defaults to HEAD; PathHint defaults
// to a directory derived from the branch name under the manager's root.
type CreateOptions struct {
	Branch   string
	BaseRef  string
	PathHint string
}

// Manager owns the worktree registry. All create/remove/list operations are
// serialized through its lock; the git work itself runs outside the lock
// against a reserved registry slot.
type Manager struct {
	gw    *git.Gateway
	store store.Store
	root  string

	mu     sync.Mutex
	byPath map[string]*Worktree
	busy   map[string]bool
}

// NewManager builds a Manager rooted at root (new worktrees go under it) and
// restores the persisted registry so List can reconcile after a restart.
func NewManager(ctx context.Context, gw *git.Gateway, st store.Store, root string) (*Manager, error) {
	m := &Manager{
		gw:     gw,
		store:  st,
		root:   root,
		byPath: make(map[string]*Worktree),
		busy:   make(map[string]bool),
	}
	if st != nil {
		persisted, err := st.ListWorktrees(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore worktree registry: %w", err)
		}
		for _, wt := range persisted {
			m.byPath[wt.Path] = &Worktree{
				Path:      wt.Path,
				Branch:    wt.Branch,
				BaseRef:   wt.BaseRef,
				BaseSHA:   wt.BaseSHA,
				Status:    wt.Status,
				CreatedAt: wt.CreatedAt,
			}
		}
	}
	return m, nil
}

// Create makes an isolated checkout for opts.Branch from opts.BaseRef.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Worktree, error) {
	if opts.Branch == "" {
		return nil, errors.New("branch is required")
	}
	baseRef := opts.BaseRef
	if baseRef == "" {
		baseRef = "HEAD"
	}
	baseSHA, err := m.gw.RevParse(ctx, baseRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRefNotFound, baseRef)
	}

	path := opts.PathHint
	if path == "" {
		path = filepath.Join(m.root, sanitize(opts.Branch))
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(m.root, path)
	}

	// Reserve the (path, branch) slot under the lock so concurrent creates on
	// the same branch race here, not at the git boundary.
	wt := &Worktree{
		Path:      path,
		Branch:    opts.Branch,
		BaseRef:   baseRef,
		BaseSHA:   baseSHA,
		Status:    models.WorktreeActive,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	if existing, ok := m.byPath[path]; ok && existing.Status != models.WorktreeRemoved {
		m.mu.Unlock()
		return nil, fmt.Errorf("worktree already exists at %s", path)
	}
	for _, e := range m.byPath {
		if e.Branch == opts.Branch && e.Status == models.WorktreeActive {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrBranchAlreadyCheckedOut, opts.Branch)
		}
	}
	m.byPath[path] = wt
	m.mu.Unlock()

	unreserve := func() {
		m.mu.Lock()
		delete(m.byPath, path)
		m.mu.Unlock()
	}

	// An existing branch (e.g. from a removed worktree) is re-checked out
	// rather than re-created; git still rejects one checked out elsewhere.
	var addErr error
	if m.gw.BranchExists(ctx, opts.Branch) {
		addErr = m.gw.WorktreeAddExisting(ctx, path, opts.Branch)
	} else {
		addErr = m.gw.WorktreeAdd(ctx, path, opts.Branch, baseSHA)
	}
	if addErr != nil {
		unreserve()
		if strings.Contains(addErr.Error(), "already checked out") ||
			strings.Contains(addErr.Error(), "already used by worktree") {
			return nil, fmt.Errorf("%w: %s", ErrBranchAlreadyCheckedOut, opts.Branch)
		}
		return nil, addErr
	}

	if m.store != nil {
		if err := m.store.SaveWorktree(ctx, storeModel(wt)); err != nil {
			_ = m.gw.WorktreeRemove(ctx, path, true)
			unreserve()
			return nil, fmt.Errorf("persist worktree: %w", err)
		}
	}
	otel.RecordWorktreeOp(ctx, "create", opts.Branch)
	slog.Info("worktree created", "path", path, "branch", opts.Branch, "base", baseSHA)
	out := *wt
	return &out, nil
}

// List reconciles the registry against git's own worktree record. Registered
// entries whose checkout vanished, and checkouts git knows about that were
// never registered (e.g. left over after a crash), surface as stale; callers
// decide whether to adopt or remove them.
func (m *Manager) List(ctx context.Context) ([]Worktree, error) {
	entries, err := m.gw.WorktreeList(ctx)
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]git.WorktreeEntry, len(entries))
	for _, e := range entries {
		if e.Bare || e.Path == m.gw.RepoDir {
			continue // the main checkout is not a managed worktree
		}
		onDisk[e.Path] = e
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Worktree
	for path, wt := range m.byPath {
		if wt.Status == models.WorktreeActive {
			if _, ok := onDisk[path]; !ok {
				wt.Status = models.WorktreeStale
				if m.store != nil {
					_ = m.store.UpdateWorktreeStatus(ctx, path, models.WorktreeStale)
				}
			}
		}
		out = append(out, *wt)
		delete(onDisk, path)
	}
	for path, e := range onDisk {
		out = append(out, Worktree{
			Path:   path,
			Branch: e.Branch,
			Status: models.WorktreeStale,
		})
	}
	return out, nil
}

// Get returns the registered worktree for path. A missing path is not an error.
func (m *Manager) Get(path string) (*Worktree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.byPath[path]
	if !ok {
		return nil, false
	}
	out := *wt
	return &out, true
}

// Remove deletes the checkout at path and marks it removed. Removing an
// already-removed path is a no-op success; an unregistered path is an error.
func (m *Manager) Remove(ctx context.Context, path string, force bool) error {
	m.mu.Lock()
	wt, ok := m.byPath[path]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorktreeNotFound, path)
	}
	if wt.Status == models.WorktreeRemoved {
		m.mu.Unlock()
		return nil
	}
	if m.busy[path] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorktreeBusy, path)
	}
	// List mutates wt.Status under the lock; read everything needed here.
	status, branch := wt.Status, wt.Branch
	m.mu.Unlock()

	if !force && status == models.WorktreeActive {
		dirty, err := m.gw.IsDirty(ctx, path)
		if err == nil && dirty {
			return fmt.Errorf("%w: %s", ErrWorktreeDirty, path)
		}
	}

	if err := m.gw.WorktreeRemove(ctx, path, force); err != nil {
		// The directory may already be gone (stale entry); prune and move on.
		if !strings.Contains(err.Error(), "is not a working tree") &&
			!strings.Contains(err.Error(), "No such file") {
			return err
		}
		_ = m.gw.WorktreePrune(ctx)
	}

	m.mu.Lock()
	wt.Status = models.WorktreeRemoved
	m.mu.Unlock()
	if m.store != nil {
		_ = m.store.UpdateWorktreeStatus(ctx, path, models.WorktreeRemoved)
	}
	otel.RecordWorktreeOp(ctx, "remove", branch)
	slog.Info("worktree removed", "path", path, "branch", branch, "force", force)
	return nil
}

// Acquire latches the worktree for exclusive use (a running workflow or a
// merge attempt). A second Acquire before Release fails with ErrWorktreeBusy.
func (m *Manager) Acquire(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.byPath[path]
	if !ok || wt.Status == models.WorktreeRemoved {
		return fmt.Errorf("%w: %s", ErrWorktreeNotFound, path)
	}
	if m.busy[path] {
		return fmt.Errorf("%w: %s", ErrWorktreeBusy, path)
	}
	m.busy[path] = true
	return nil
}

// Release drops the latch taken by Acquire. Releasing an unlatched path is a no-op.
func (m *Manager) Release(path string) {
	m.mu.Lock()
	delete(m.busy, path)
	m.mu.Unlock()
}

// Busy reports whether the worktree is latched.
func (m *Manager) Busy(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[path]
}

func storeModel(wt *Worktree) store.Worktree {
	return store.Worktree{
		Path:      wt.Path,
		Branch:    wt.Branch,
		BaseRef:   wt.BaseRef,
		BaseSHA:   wt.BaseSHA,
		Status:    wt.Status,
		CreatedAt: wt.CreatedAt,
	}
}

func sanitize(branch string) string {
	s := strings.ReplaceAll(branch, "/", "-")
	return strings.ReplaceAll(s, " ", "_")
}
