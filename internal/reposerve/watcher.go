package reposerve

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceTime coalesces bursts of ref/object writes (e.g. a commit followed
// immediately by a branch update) into a single Refresh.
const debounceTime = 100 * time.Millisecond

// Watcher fans a single fsnotify.Watcher out across every registered
// repository's .git directory, calling each repo's callback when something
// relevant inside it changes. Adapted from the teacher's single-repository
// server watcher to track many repositories' .git directories concurrently.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu       sync.Mutex
	byDir    map[string]string // watched directory -> repo id
	onChange map[string]func() // repo id -> debounced callback
	timers   map[string]*time.Timer
}

// NewWatcher starts the underlying fsnotify watcher and its event loop.
func NewWatcher(logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		logger:   logger,
		byDir:    make(map[string]string),
		onChange: make(map[string]func()),
		timers:   make(map[string]*time.Timer),
	}
	go w.loop()
	return w, nil
}

// Watch begins watching repoPath's .git directory (and the refs subtrees
// fsnotify does not recurse into automatically) for id, invoking onChange
// after a short debounce whenever something relevant changes.
func (w *Watcher) Watch(id, repoPath string, onChange func()) {
	gitDir := filepath.Join(repoPath, ".git")
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		gitDir = repoPath // bare repository: repoPath itself is the git directory
	}

	w.mu.Lock()
	w.onChange[id] = onChange
	w.mu.Unlock()

	w.addWatch(gitDir, id)
	for _, sub := range []string{"refs/heads", "refs/tags", "refs/remotes"} {
		w.walkAndWatch(filepath.Join(gitDir, sub), id)
	}
}

// Unwatch stops tracking id and removes its directories from the underlying
// fsnotify watcher.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.onChange, id)
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
	for dir, owner := range w.byDir {
		if owner == id {
			_ = w.fsw.Remove(dir)
			delete(w.byDir, dir)
		}
	}
}

// Errors exposes the underlying fsnotify error channel.
func (w *Watcher) Errors() <-chan error {
	return w.fsw.Errors
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addWatch(dir, id string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("reposerve: failed to watch directory", "dir", dir, "error", err)
		return
	}
	w.mu.Lock()
	w.byDir[dir] = id
	w.mu.Unlock()
}

// walkAndWatch adds watches for dir and every subdirectory beneath it (for
// hierarchical branch names such as refs/heads/feature/login). Missing
// directories are silently skipped.
func (w *Watcher) walkAndWatch(dir, id string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if fi.IsDir() {
			w.addWatch(path, id)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("reposerve: failed to walk refs directory", "dir", dir, "error", err)
	}
}

func (w *Watcher) loop() {
	for event := range w.fsw.Events {
		if shouldIgnoreEvent(event) {
			continue
		}

		w.mu.Lock()
		dir := filepath.Dir(event.Name)
		id, ok := w.byDir[dir]
		if !ok {
			// The event may name the watched directory itself (e.g. a ref
			// directory rename); fall back to an exact match.
			id, ok = w.byDir[event.Name]
		}
		if !ok {
			w.mu.Unlock()
			continue
		}
		cb := w.onChange[id]
		if cb == nil {
			w.mu.Unlock()
			continue
		}
		if t, exists := w.timers[id]; exists {
			t.Stop()
		}
		w.timers[id] = time.AfterFunc(debounceTime, cb)
		w.mu.Unlock()
	}
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	path := event.Name

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	if strings.HasSuffix(base, ".lock") {
		return true
	}
	if strings.Contains(path, "/logs/") {
		return true
	}
	if base == "config" {
		return true
	}
	return false
}
