package gitserve

import (
	"encoding/json"
	"fmt"
	"github.com/rybkr/gitengine/internal/gitcore"
	"net/http"
	"strings"
)

// extractHashParam extracts and validates a hash parameter from the URL path.
// It performs method validation (GET only), path extraction, hash parsing, and
// repository retrieval. Any path segments after the hash (e.g. the "file" in
// /api/commit/diff/{hash}/file) are returned as rest, unparsed, for handlers
// like handleCommitDiff that dispatch on a trailing segment.
// Returns the parsed hash, the trailing path remainder, the repository, and a
// boolean indicating success. If validation fails, appropriate HTTP errors are
// written to the ResponseWriter.
func (s *Server) extractHashParam(w http.ResponseWriter, r *http.Request, prefix string) (gitcore.Hash, string, *gitcore.Repository, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", "", nil, false
	}

	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == "" || path == r.URL.Path {
		http.Error(w, "Missing hash in path", http.StatusBadRequest)
		return "", "", nil, false
	}
	path = strings.TrimPrefix(path, "/")

	hashStr := path
	rest := ""
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		hashStr = path[:idx]
		rest = path[idx+1:]
	}

	hash, err := gitcore.NewHash(hashStr)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid hash format: %v", err), http.StatusBadRequest)
		return "", "", nil, false
	}

	rs := sessionFromCtx(r.Context())
	if rs == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return "", "", nil, false
	}
	repo := rs.Repo()

	if repo == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return "", "", nil, false
	}

	return hash, rest, repo, true
}

// handleRepository serves repository metadata via REST API.
// Used for initial page load and debugging.
func (s *Server) handleRepository(w http.ResponseWriter, r *http.Request) {
	rs := sessionFromCtx(r.Context())
	if rs == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return
	}
	repo := rs.Repo()

	// Build current branch name from HEAD ref
	currentBranch := ""
	headRef := repo.HeadRef()
	if headRef != "" {
		if name, ok := strings.CutPrefix(headRef, "refs/heads/"); ok {
			currentBranch = name
		}
	}

	// Get branches and tags for counts
	branches := repo.Branches()
	tagNames := repo.TagNames()

	response := map[string]any{
		"name":          repo.Name(),
		"currentBranch": currentBranch,
		"headDetached":  repo.HeadDetached(),
		"headHash":      repo.Head(),
		"commitCount":   len(repo.Commits()),
		"branchCount":   len(branches),
		"tagCount":      len(tagNames),
		"tags":          tagNames,
		"description":   repo.Description(),
		"remotes":       repo.Remotes(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleTree serves tree object data via REST API.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	treeHash, _, repo, ok := s.extractHashParam(w, r, "/api/tree/")
	if !ok {
		return
	}

	tree, err := repo.GetTree(treeHash)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load tree: %v", err), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tree); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleBlob serves raw blob content via REST API.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	blobHash, _, repo, ok := s.extractHashParam(w, r, "/api/blob/")
	if !ok {
		return
	}

	content, err := repo.GetBlob(blobHash)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load blob: %v", err), http.StatusNotFound)
		return
	}

	// Detect if content is binary by scanning for null bytes in first 8KB
	isBinary := isBinaryContent(content)

	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"hash":      string(blobHash),
		"size":      len(content),
		"binary":    isBinary,
		"truncated": false,
	}

	if isBinary {
		response["content"] = ""
	} else {
		// Cap content at 512KB to prevent browser from choking on huge files
		maxSize := 512 * 1024
		text := string(content)
		if len(text) > maxSize {
			text = text[:maxSize]
			response["truncated"] = true
		}
		response["content"] = text
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// isBinaryContent checks if content appears to be binary by looking for null bytes
// in the first 8KB. This matches Git's heuristic for binary detection.
func isBinaryContent(content []byte) bool {
	checkSize := min(8192, len(content))
	for i := range checkSize {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// handleTreeBlame serves per-file blame information for a directory at a given commit.
// Path format: /api/tree/blame/{commitHash}?path={dirPath}
// Returns a map of entry names to BlameEntry structs with last-modifying commit info.
func (s *Server) handleTreeBlame(w http.ResponseWriter, r *http.Request) {
	commitHash, _, repo, ok := s.extractHashParam(w, r, "/api/tree/blame/")
	if !ok {
		return
	}

	// Parse directory path from query parameter (default to empty string for root)
	dirPath := r.URL.Query().Get("path")

	// Validate and sanitize the path to prevent directory traversal
	sanitized, err := sanitizePath(dirPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return
	}
	dirPath = sanitized

	rs := sessionFromCtx(r.Context())
	if rs == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return
	}

	// Build cache key
	cacheKey := string(commitHash) + ":" + dirPath

	// Check cache first
	if cached, ok := rs.blameCache.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		response := map[string]any{
			"entries": cached,
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
		return
	}

	// Cache miss, compute blame
	blame, err := repo.GetFileBlame(commitHash, dirPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute blame: %v", err), http.StatusNotFound)
		return
	}

	// Store in cache
	rs.blameCache.Put(cacheKey, blame)

	// Return response
	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"entries": blame,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleCommitDiff serves the diff introduced by a single commit.
// Path format: /api/commit/diff/{commitHash} for the full commit diff
// (all changed files plus aggregate stats), or
// /api/commit/diff/{commitHash}/file?path={filePath} for one file's
// line-level hunks against that commit's parent.
func (s *Server) handleCommitDiff(w http.ResponseWriter, r *http.Request) {
	commitHash, rest, repo, ok := s.extractHashParam(w, r, "/api/commit/diff/")
	if !ok {
		return
	}

	if rest == "" {
		diff, err := gitcore.ComputeCommitDiff(repo, commitHash)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to compute commit diff: %v", err), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(diff); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
		return
	}

	if rest != "file" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		http.Error(w, "Missing path query parameter", http.StatusBadRequest)
		return
	}
	sanitized, err := sanitizePath(filePath)
	if err != nil || sanitized == "" {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return
	}
	filePath = sanitized

	commit, err := repo.GetCommit(commitHash)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load commit: %v", err), http.StatusNotFound)
		return
	}

	var parentTree gitcore.Hash
	if len(commit.Parents) > 0 {
		parent, err := repo.GetCommit(commit.Parents[0])
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to load parent commit: %v", err), http.StatusInternalServerError)
			return
		}
		parentTree = parent.Tree
	}

	var oldHash gitcore.Hash
	oldFound := false
	if parentTree != "" {
		h, err := gitcore.ResolveBlobAtPath(repo, parentTree, filePath)
		if err != nil && !isNotFound(err) {
			http.Error(w, fmt.Sprintf("Failed to resolve file: %v", err), http.StatusInternalServerError)
			return
		}
		if err == nil {
			oldHash, oldFound = h, true
		}
	}

	newHash, newErr := gitcore.ResolveBlobAtPath(repo, commit.Tree, filePath)
	if newErr != nil && !isNotFound(newErr) {
		http.Error(w, fmt.Sprintf("Failed to resolve file: %v", newErr), http.StatusInternalServerError)
		return
	}
	if !oldFound && newErr != nil {
		http.Error(w, "File not present in commit or its parent", http.StatusNotFound)
		return
	}

	fileDiff, err := gitcore.ComputeFileDiff(repo, oldHash, newHash, filePath, gitcore.DefaultContextLines)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute file diff: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(fileDiff); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// isNotFound reports whether err is a gitcore.Error with Kind NotFound.
func isNotFound(err error) bool {
	kind, ok := gitcore.KindOf(err)
	return ok && kind == gitcore.NotFound
}

// handleWorkingTreeDiff serves the line-level diff between a file's on-disk
// content and the version recorded in HEAD.
// Path format: /api/working-tree/diff?path={filePath}
func (s *Server) handleWorkingTreeDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rs := sessionFromCtx(r.Context())
	if rs == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return
	}
	repo := rs.Repo()
	if repo == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return
	}

	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		http.Error(w, "Missing path query parameter", http.StatusBadRequest)
		return
	}
	sanitized, err := sanitizePath(filePath)
	if err != nil || sanitized == "" {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return
	}
	filePath = sanitized

	fileDiff, err := gitcore.ComputeWorkingTreeFileDiff(repo, filePath, gitcore.DefaultContextLines)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute working tree diff: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(fileDiff); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleConfig serves static server configuration for the frontend (current
// serving mode and cache size), used to decide whether to render
// multi-repository UI affordances.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"mode":      s.modeString(),
		"cacheSize": s.cacheSize,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
