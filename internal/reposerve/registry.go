// Package reposerve keeps a registry of local Git repositories opened by the
// engine, watches their on-disk state for changes made outside this process,
// and evicts repositories that have not been touched in a while. It replaces
// repomanager's remote-clone lifecycle (network fetch, SSRF-guarded URL
// normalization) with a purely local notion of "open this directory" — the
// spec's transport surface is local-directory-copy only, handled by
// internal/repotransport before a path ever reaches this registry.
package reposerve

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rybkr/gitengine/internal/gitcore"
)

// State is the lifecycle state of a registered repository.
type State int

const (
	// StateReady means the repository is open and Repo is usable.
	StateReady State = iota
	// StateError means the last open or reopen attempt failed.
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config holds registry-wide settings.
type Config struct {
	InactivityTTL time.Duration
	MaxRepos      int
	Logger        *slog.Logger
}

func (c *Config) defaults() {
	if c.InactivityTTL <= 0 {
		c.InactivityTTL = 24 * time.Hour
	}
	if c.MaxRepos <= 0 {
		c.MaxRepos = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// OpenRepo tracks one registered repository handle through its lifecycle.
type OpenRepo struct {
	mu         sync.RWMutex
	ID         string
	Path       string
	State      State
	Error      string
	Repo       *gitcore.Repository
	OpenedAt   time.Time
	LastAccess time.Time
}

// Info is a read-only snapshot of an OpenRepo, used by List.
type Info struct {
	ID         string
	Path       string
	State      State
	Error      string
	OpenedAt   time.Time
	LastAccess time.Time
}

// Registry is a concurrency-safe map from repo ID to OpenRepo, plus an
// eviction loop that closes repositories idle past InactivityTTL.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	repos map[string]*OpenRepo

	watcher *Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Registry. Call Start to launch its eviction loop and Close to
// stop it and its underlying filesystem watcher.
func New(cfg Config) *Registry {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:    cfg,
		logger: cfg.Logger,
		repos:  make(map[string]*OpenRepo),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the eviction loop and the fsnotify-backed watcher.
func (r *Registry) Start() error {
	w, err := NewWatcher(r.logger)
	if err != nil {
		return fmt.Errorf("reposerve: starting watcher: %w", err)
	}
	r.watcher = w

	r.wg.Add(1)
	go r.evictionLoop()

	r.wg.Add(1)
	go r.watchLoop()

	return nil
}

// Close stops the eviction loop and the watcher, waiting for both to exit.
func (r *Registry) Close() {
	r.cancel()
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	r.wg.Wait()
}

// Open registers path (a working copy or bare repository) under id, opening
// it with gitcore.NewRepository. If id is already registered, its handle is
// returned without reopening — callers that want a forced reload should call
// Refresh instead.
func (r *Registry) Open(id, path string) (*gitcore.Repository, error) {
	r.mu.Lock()
	if existing, ok := r.repos[id]; ok {
		r.mu.Unlock()
		existing.mu.Lock()
		existing.LastAccess = time.Now()
		repo, state := existing.Repo, existing.State
		existing.mu.Unlock()
		if state == StateError {
			return nil, fmt.Errorf("repo %s: %s", id, existing.Error)
		}
		return repo, nil
	}
	if len(r.repos) >= r.cfg.MaxRepos {
		r.mu.Unlock()
		return nil, fmt.Errorf("maximum number of open repositories (%d) reached", r.cfg.MaxRepos)
	}
	r.mu.Unlock()

	repo, err := gitcore.NewRepository(path)
	now := time.Now()
	entry := &OpenRepo{ID: id, Path: path, OpenedAt: now, LastAccess: now}
	if err != nil {
		entry.State = StateError
		entry.Error = err.Error()
	} else {
		entry.State = StateReady
		entry.Repo = repo
	}

	r.mu.Lock()
	r.repos[id] = entry
	r.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("reposerve: opening %s: %w", path, err)
	}

	if r.watcher != nil {
		r.watcher.Watch(id, path, func() { r.Refresh(id) })
	}

	return repo, nil
}

// Refresh reopens a registered repository's handle, picking up ref and
// object changes written by another process (a CLI command, a restored
// fetch) since the registry last read the directory. Called automatically by
// the filesystem watcher; exposed for callers that want to force it.
func (r *Registry) Refresh(id string) {
	r.mu.RLock()
	entry, ok := r.repos[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	path := entry.Path
	entry.mu.Unlock()

	repo, err := gitcore.NewRepository(path)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err != nil {
		entry.State = StateError
		entry.Error = err.Error()
		r.logger.Warn("reposerve: refresh failed", "id", id, "error", err)
		return
	}
	entry.State = StateReady
	entry.Error = ""
	entry.Repo = repo
}

// Get returns the currently open *gitcore.Repository for id.
func (r *Registry) Get(id string) (*gitcore.Repository, error) {
	r.mu.RLock()
	entry, ok := r.repos[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("repo not found: %s", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.LastAccess = time.Now()
	if entry.State == StateError {
		return nil, fmt.Errorf("repo %s: %s", id, entry.Error)
	}
	return entry.Repo, nil
}

// List returns a snapshot of every registered repository.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.repos))
	for _, entry := range r.repos {
		entry.mu.RLock()
		out = append(out, Info{
			ID:         entry.ID,
			Path:       entry.Path,
			State:      entry.State,
			Error:      entry.Error,
			OpenedAt:   entry.OpenedAt,
			LastAccess: entry.LastAccess,
		})
		entry.mu.RUnlock()
	}
	return out
}

// Forget unregisters id and stops watching its directory. The repository's
// data on disk is left untouched — unlike the old remote-clone manager, this
// registry never owns a cloned copy it must clean up.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.repos, id)
	r.mu.Unlock()
	if r.watcher != nil {
		r.watcher.Unwatch(id)
	}
}

// evictionLoop periodically drops repositories idle past InactivityTTL.
func (r *Registry) evictionLoop() {
	defer r.wg.Done()

	interval := max(r.cfg.InactivityTTL/10, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.evictInactive()
		}
	}
}

func (r *Registry) evictInactive() {
	now := time.Now()

	r.mu.Lock()
	var toEvict []string
	for id, entry := range r.repos {
		entry.mu.RLock()
		idle := now.Sub(entry.LastAccess) > r.cfg.InactivityTTL
		entry.mu.RUnlock()
		if idle {
			toEvict = append(toEvict, id)
		}
	}
	for _, id := range toEvict {
		delete(r.repos, id)
	}
	r.mu.Unlock()

	for _, id := range toEvict {
		if r.watcher != nil {
			r.watcher.Unwatch(id)
		}
		r.logger.Info("reposerve: evicted idle repo", "id", id)
	}
}

// watchLoop forwards fsnotify errors from the underlying Watcher to the log;
// change events themselves are delivered via the per-repo callback passed to
// Watcher.Watch.
func (r *Registry) watchLoop() {
	defer r.wg.Done()
	if r.watcher == nil {
		return
	}
	for {
		select {
		case <-r.ctx.Done():
			return
		case err, ok := <-r.watcher.Errors():
			if !ok {
				return
			}
			r.logger.Warn("reposerve: watcher error", "error", err)
		}
	}
}
