package gitserve

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/rybkr/gitengine/internal/gitcore"
)

// readmeCandidates lists the filenames checked, in order, at the repository
// root for an overview document. Matching is case-insensitive.
var readmeCandidates = []string{"README.md", "README.markdown", "readme.md"}

// handleReadme renders the repository's root README (if any) at HEAD to HTML
// for the repository-overview panel. Returns 404 if no README is present.
func (s *Server) handleReadme(w http.ResponseWriter, r *http.Request) {
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

	commit, err := repo.GetCommit(repo.Head())
	if err != nil {
		http.Error(w, "No commits in repository", http.StatusNotFound)
		return
	}
	tree, err := repo.GetTree(commit.Tree)
	if err != nil {
		http.Error(w, "Failed to load root tree", http.StatusInternalServerError)
		return
	}

	entry, ok := findReadmeEntry(tree)
	if !ok {
		http.Error(w, "No README found at repository root", http.StatusNotFound)
		return
	}

	content, err := repo.GetBlob(entry.ID)
	if err != nil {
		http.Error(w, "Failed to load README blob", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := goldmark.Convert(content, &buf); err != nil {
		http.Error(w, "Failed to render README", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"path": entry.Name,
		"html": buf.String(),
	})
}

// findReadmeEntry looks for the first readmeCandidates match among tree's
// direct entries, case-insensitively.
func findReadmeEntry(tree *gitcore.Tree) (gitcore.TreeEntry, bool) {
	for _, candidate := range readmeCandidates {
		for _, e := range tree.Entries {
			if e.Type == "blob" && strings.EqualFold(e.Name, candidate) {
				return e, true
			}
		}
	}
	return gitcore.TreeEntry{}, false
}
