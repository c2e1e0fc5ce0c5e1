package gitserve

import (
	"github.com/rybkr/gitengine/internal/gitcore"
)

// FileStatus represents the status of a single file in the working tree.
type FileStatus struct {
	Path       string `json:"path"`
	StatusCode string `json:"statusCode"`
}

// WorkingTreeStatus groups files by their working tree state for the
// WebSocket/REST wire format. Modified/Untracked/Deleted mirror
// gitcore.WorkingTreeStatus.Buckets() exactly, so this broadcast can never
// disagree with the CLI's "status" command about what counts as deleted;
// Staged carries the finer-grained index-vs-HEAD view Buckets() doesn't
// expose.
type WorkingTreeStatus struct {
	Staged    []FileStatus `json:"staged"`
	Modified  []FileStatus `json:"modified"`
	Untracked []FileStatus `json:"untracked"`
	Deleted   []FileStatus `json:"deleted"`
}

// getWorkingTreeStatus computes working tree status entirely from the
// engine's own object store and index (gitcore.ComputeWorkingTreeStatus) and
// reshapes it into the staged/modified/untracked/deleted buckets the
// WebSocket clients expect. Returns nil if status computation fails (e.g. a
// corrupt index) rather than surfacing an error to a background poll/
// broadcast loop.
func getWorkingTreeStatus(repo *gitcore.Repository) *WorkingTreeStatus {
	raw, err := gitcore.ComputeWorkingTreeStatus(repo)
	if err != nil {
		return nil
	}

	status := &WorkingTreeStatus{
		Staged:    []FileStatus{},
		Modified:  []FileStatus{},
		Untracked: []FileStatus{},
		Deleted:   []FileStatus{},
	}

	for _, f := range raw.Files {
		if f.IndexStatus != "" {
			status.Staged = append(status.Staged, FileStatus{Path: f.Path, StatusCode: statusCodeLetter(f.IndexStatus)})
		}
	}

	modified, untracked, deleted := raw.Buckets()
	for _, p := range modified {
		status.Modified = append(status.Modified, FileStatus{Path: p, StatusCode: "M"})
	}
	for _, p := range untracked {
		status.Untracked = append(status.Untracked, FileStatus{Path: p, StatusCode: "?"})
	}
	for _, p := range deleted {
		status.Deleted = append(status.Deleted, FileStatus{Path: p, StatusCode: "D"})
	}

	return status
}

// statusCodeLetter maps gitcore's descriptive status strings to the
// single-letter porcelain-style codes the frontend renders.
func statusCodeLetter(s string) string {
	switch s {
	case "added":
		return "A"
	case "modified":
		return "M"
	case "deleted":
		return "D"
	default:
		return "?"
	}
}
