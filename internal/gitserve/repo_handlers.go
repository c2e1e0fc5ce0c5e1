package gitserve

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/rybkr/gitengine/internal/repotransport"
)

type addRepoRequest struct {
	SourcePath string `json:"sourcePath"`
}

type repoResponse struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"sourcePath,omitempty"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Percent    int       `json:"percent,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// cloneJob tracks one in-flight or completed AddRepo clone, mirroring the
// progress-subscription shape repomanager used for remote clones but driven
// by repotransport.Clone copying a local source directory instead.
type cloneJob struct {
	mu         sync.Mutex
	sourcePath string
	destPath   string
	progress   repotransport.Progress
	createdAt  time.Time
	subs       map[int]chan repotransport.Progress
	nextSub    int
}

func (j *cloneJob) update(p repotransport.Progress) {
	j.mu.Lock()
	j.progress = p
	subs := make([]chan repotransport.Progress, 0, len(j.subs))
	for _, ch := range j.subs {
		subs = append(subs, ch)
	}
	j.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p:
		default:
		}
	}
	if p.Done {
		j.mu.Lock()
		for _, ch := range j.subs {
			close(ch)
		}
		j.subs = nil
		j.mu.Unlock()
	}
}

func (j *cloneJob) subscribe() (<-chan repotransport.Progress, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := j.nextSub
	j.nextSub++
	ch := make(chan repotransport.Progress, 8)
	if j.subs == nil {
		j.subs = make(map[int]chan repotransport.Progress)
	}
	j.subs[id] = ch
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		delete(j.subs, id)
	}
}

func (j *cloneJob) snapshot() repotransport.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// idForPath derives a stable repo ID from a cleaned, absolute source path.
func idForPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(sum[:])[:16]
}

// handleAddRepo accepts a JSON body naming a local source directory and
// starts copying it into the server's data directory via repotransport.Clone.
// Returns 202 with the repo ID and a job to poll or stream for progress.
func (s *Server) handleAddRepo(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req addRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SourcePath == "" {
		http.Error(w, "Missing 'sourcePath' field", http.StatusBadRequest)
		return
	}
	if _, err := repotransport.ValidateSource(req.SourcePath); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := idForPath(req.SourcePath)
	destPath := filepath.Join(s.dataDir, id)

	s.jobsMu.Lock()
	if existing, ok := s.jobs[id]; ok {
		s.jobsMu.Unlock()
		resp := repoResponse{ID: id, SourcePath: req.SourcePath, CreatedAt: existing.createdAt}
		p := existing.snapshot()
		resp.Phase, resp.Percent, resp.Error = p.Phase, p.Percent, p.Error
		if state, err := s.registryState(id); err == nil {
			resp.State = state
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	job := &cloneJob{sourcePath: req.SourcePath, destPath: destPath, createdAt: time.Now()}
	s.jobs[id] = job
	s.jobsMu.Unlock()

	go s.runClone(id, job)

	resp := repoResponse{ID: id, SourcePath: req.SourcePath, State: "cloning", CreatedAt: job.createdAt}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode add-repo response", "err", err)
	}
}

// runClone drives repotransport.Clone for job and, on success, registers the
// resulting directory with the registry under id.
func (s *Server) runClone(id string, job *cloneJob) {
	err := repotransport.Clone(s.ctx, job.sourcePath, job.destPath, job.update)
	if err != nil {
		s.logger.Warn("clone failed", "id", id, "sourcePath", job.sourcePath, "err", err)
		return
	}
	if _, err := s.registry.Open(id, job.destPath); err != nil {
		s.logger.Warn("opening cloned repo failed", "id", id, "destPath", job.destPath, "err", err)
	}
}

// registryState returns the registry lifecycle state for id, if registered.
func (s *Server) registryState(id string) (string, error) {
	for _, info := range s.registry.List() {
		if info.ID == id {
			return info.State.String(), nil
		}
	}
	return "", fmt.Errorf("repo not registered: %s", id)
}

// handleListRepos returns a JSON array of every registered repo with its state.
func (s *Server) handleListRepos(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	infos := s.registry.List()
	repos := make([]repoResponse, len(infos))
	for i, info := range infos {
		repos[i] = repoResponse{
			ID:         info.ID,
			SourcePath: info.Path,
			State:      info.State.String(),
			Error:      info.Error,
			CreatedAt:  info.OpenedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(repos); err != nil {
		s.logger.Error("Failed to encode list-repos response", "err", err)
	}
}

// handleRepoStatus returns the state/error for a single repo, preferring the
// registry's view and falling back to clone-job progress if it is not yet
// registered.
func (s *Server) handleRepoStatus(w http.ResponseWriter, _ *http.Request, id string) {
	if s.registry == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	resp := repoResponse{ID: id}
	found := false
	for _, info := range s.registry.List() {
		if info.ID == id {
			resp.State = info.State.String()
			resp.Error = info.Error
			resp.SourcePath = info.Path
			resp.CreatedAt = info.OpenedAt
			found = true
			break
		}
	}

	s.jobsMu.Lock()
	job, hasJob := s.jobs[id]
	s.jobsMu.Unlock()
	if hasJob {
		p := job.snapshot()
		resp.Phase, resp.Percent = p.Phase, p.Percent
		if !found {
			resp.SourcePath = job.sourcePath
			resp.CreatedAt = job.createdAt
			resp.State = "cloning"
			resp.Error = p.Error
			found = true
		}
	}

	if !found {
		http.Error(w, "repo not found: "+id, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode repo-status response", "err", err)
	}
}

// handleRemoveRepo tears down the session and forgets the repo from the registry.
func (s *Server) handleRemoveRepo(w http.ResponseWriter, _ *http.Request, id string) {
	if s.registry == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	s.removeSession(id)
	s.registry.Forget(id)

	s.jobsMu.Lock()
	delete(s.jobs, id)
	s.jobsMu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// handleRepoProgress streams clone progress as Server-Sent Events. If the
// repo has no active clone job (already registered, or never existed), it
// sends a single terminal event and returns.
func (s *Server) handleRepoProgress(w http.ResponseWriter, r *http.Request, id string) {
	if s.registry == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Clear any write deadline set by the writeDeadline middleware —
	// SSE connections are long-lived like WebSockets.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(p repotransport.Progress) {
		data, _ := json.Marshal(map[string]interface{}{
			"phase":   p.Phase,
			"percent": p.Percent,
			"done":    p.Done,
			"error":   p.Error,
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	s.jobsMu.Lock()
	job, hasJob := s.jobs[id]
	s.jobsMu.Unlock()
	if !hasJob {
		if state, err := s.registryState(id); err == nil {
			writeEvent(repotransport.Progress{Done: true, Phase: state})
		} else {
			http.Error(w, "repo not found: "+id, http.StatusNotFound)
		}
		return
	}

	writeEvent(job.snapshot())

	ch, unsubscribe := job.subscribe()
	defer unsubscribe()

	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(p)
			if p.Done {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
