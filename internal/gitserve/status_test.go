package gitserve

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rybkr/gitengine/internal/gitcore"
)

func newStatusTestRepo(t *testing.T) *gitcore.Repository {
	t.Helper()
	repo, err := gitcore.InitRepository(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("InitRepository() error: %v", err)
	}
	return repo
}

func writeFile(t *testing.T, repo *gitcore.Repository, path, content string) {
	t.Helper()
	full := filepath.Join(repo.WorkDir(), path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
}

func codesFor(status *WorkingTreeStatus, bucket []FileStatus) map[string]string {
	m := make(map[string]string, len(bucket))
	for _, f := range bucket {
		m[f.Path] = f.StatusCode
	}
	return m
}

func TestGetWorkingTreeStatus_EmptyRepoNoFiles(t *testing.T) {
	repo := newStatusTestRepo(t)

	status := getWorkingTreeStatus(repo)
	if status == nil {
		t.Fatal("getWorkingTreeStatus() returned nil for a valid repo")
	}
	if len(status.Staged) != 0 || len(status.Modified) != 0 || len(status.Untracked) != 0 {
		t.Errorf("expected all-empty buckets, got %+v", status)
	}
}

func TestGetWorkingTreeStatus_UntrackedFiles(t *testing.T) {
	repo := newStatusTestRepo(t)
	writeFile(t, repo, "new.txt", "hello\n")
	writeFile(t, repo, "src/nested.go", "package x\n")

	status := getWorkingTreeStatus(repo)
	got := codesFor(status, status.Untracked)

	if got["new.txt"] != "?" || got["src/nested.go"] != "?" {
		t.Errorf("Untracked = %+v, want both files marked '?'", status.Untracked)
	}
	if len(status.Staged) != 0 || len(status.Modified) != 0 {
		t.Errorf("expected no staged/modified entries for untracked-only changes, got %+v", status)
	}
}

func TestGetWorkingTreeStatus_ModifiedAfterCommit(t *testing.T) {
	repo := newStatusTestRepo(t)
	writeFile(t, repo, "tracked.txt", "v1\n")

	newRepo, _, err := gitcore.Commit(repo, gitcore.CommitOptions{
		Message:      "add tracked.txt",
		Author:       gitcore.Signature{Name: "tester", Email: "t@example.com"},
		FromWorktree: true,
	})
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	repo = newRepo

	writeFile(t, repo, "tracked.txt", "v2\n")

	status := getWorkingTreeStatus(repo)
	got := codesFor(status, status.Modified)
	if got["tracked.txt"] != "M" {
		t.Errorf("Modified = %+v, want tracked.txt marked 'M'", status.Modified)
	}
	if len(status.Untracked) != 0 {
		t.Errorf("expected no untracked entries, got %+v", status.Untracked)
	}
}

func TestStatusCodeLetter(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"added", "A"},
		{"modified", "M"},
		{"deleted", "D"},
		{"", "?"},
		{"unexpected", "?"},
	}
	for _, tt := range tests {
		if got := statusCodeLetter(tt.in); got != tt.want {
			t.Errorf("statusCodeLetter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetWorkingTreeStatus_BucketsNeverNil(t *testing.T) {
	repo := newStatusTestRepo(t)
	status := getWorkingTreeStatus(repo)

	if status.Staged == nil || status.Modified == nil || status.Untracked == nil {
		t.Error("getWorkingTreeStatus() returned nil slice buckets, want empty-but-non-nil")
	}

	// Sanity: sorting the (empty) buckets should not panic on nil data.
	sort.Slice(status.Untracked, func(i, j int) bool {
		return status.Untracked[i].Path < status.Untracked[j].Path
	})
}
