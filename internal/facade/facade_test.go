package facade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rybkr/gitengine/internal/gitcore"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	repo, err := gitcore.InitRepository(t.TempDir(), DefaultBranch)
	if err != nil {
		t.Fatalf("InitRepository() error: %v", err)
	}
	f, err := New(repo)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return f
}

func TestWrite_CreatesFileAndCommit(t *testing.T) {
	f := newTestFacade(t)

	res := f.Write("hello.txt", []byte("hello\n"), "main", "add hello")
	if !res.Success {
		t.Fatalf("Write() failed: %s", res.Message)
	}
	if !res.Created {
		t.Error("Created = false, want true for a new file")
	}
	if res.Commit == "" {
		t.Error("Commit is empty after a successful write")
	}

	read := f.Read("hello.txt", "main", "")
	if !read.Success {
		t.Fatalf("Read() failed: %s", read.Message)
	}
	if string(read.Content) != "hello\n" {
		t.Errorf("content = %q, want %q", read.Content, "hello\n")
	}
}

func TestWrite_SameContentIsNoOp(t *testing.T) {
	f := newTestFacade(t)

	first := f.Write("hello.txt", []byte("hello\n"), "main", "add hello")
	if !first.Success || !first.Created {
		t.Fatalf("first write failed or did not create a commit: %+v", first)
	}

	second := f.Write("hello.txt", []byte("hello\n"), "main", "add hello again")
	if !second.Success {
		t.Fatalf("second write failed: %s", second.Message)
	}
	if second.Created {
		t.Error("Created = true for an unchanged write, want false")
	}
	if second.Commit != "" {
		t.Errorf("Commit = %q, want empty for a no-op write", second.Commit)
	}
}

func TestWrite_CreatesBranchFromHead(t *testing.T) {
	f := newTestFacade(t)

	res := f.Write("feature.txt", []byte("work\n"), "feature", "start feature")
	if !res.Success {
		t.Fatalf("Write() failed: %s", res.Message)
	}

	branches := f.Branches()
	found := false
	for _, b := range branches.Branches {
		if b == "feature" {
			found = true
		}
	}
	if !found {
		t.Errorf("branches = %v, want to include %q", branches.Branches, "feature")
	}

	// The original branch's working tree must not carry the new file.
	mainRepo := f.Repository()
	if mainRepo.HeadTarget() != "refs/heads/"+DefaultBranch {
		t.Errorf("HEAD target after Write = %q, want restored to %q", mainRepo.HeadTarget(), "refs/heads/"+DefaultBranch)
	}
	if _, err := os.Stat(filepath.Join(mainRepo.WorkDir(), "feature.txt")); !os.IsNotExist(err) {
		t.Errorf("feature.txt present on disk after restoring to %s, want absent", DefaultBranch)
	}
}

func TestDelete_RemovesFileAndCommits(t *testing.T) {
	f := newTestFacade(t)

	if res := f.Write("doomed.txt", []byte("bye\n"), "main", "add doomed"); !res.Success {
		t.Fatalf("setup write failed: %s", res.Message)
	}

	del := f.Delete("doomed.txt", "main", "remove doomed", false)
	if !del.Success {
		t.Fatalf("Delete() failed: %s", del.Message)
	}
	if !del.Deleted {
		t.Error("Deleted = false, want true")
	}

	read := f.Read("doomed.txt", "main", "")
	if read.Success {
		t.Error("Read() succeeded for a deleted file, want failure")
	}
	if read.Kind != gitcore.NotFound {
		t.Errorf("Read() Kind = %v, want NotFound", read.Kind)
	}
}

func TestDelete_AbsentFileIsNoOp(t *testing.T) {
	f := newTestFacade(t)

	del := f.Delete("never-existed.txt", "main", "remove nothing", false)
	if !del.Success {
		t.Fatalf("Delete() failed: %s", del.Message)
	}
	if del.Deleted {
		t.Error("Deleted = true for a path that was never present")
	}
}

// TestDelete_KillsEmptyBranch exercises spec §8 scenario S5: deleting the
// last tracked file on a non-default branch with kill_empty_branch set
// removes the branch once HEAD has been restored off it.
func TestDelete_KillsEmptyBranch(t *testing.T) {
	f := newTestFacade(t)

	if res := f.Write("only.txt", []byte("solo\n"), "tmp", "add only"); !res.Success {
		t.Fatalf("setup write failed: %s", res.Message)
	}
	// tmp was branched off main's bootstrap commit, which carries .gitignore;
	// strip it so tmp's only tracked file really is only.txt.
	if del := f.Delete(".gitignore", "tmp", "drop bootstrap file", false); !del.Success {
		t.Fatalf("setup delete of .gitignore failed: %s", del.Message)
	}

	del := f.Delete("only.txt", "tmp", "remove only", true)
	if !del.Success {
		t.Fatalf("Delete() failed: %s", del.Message)
	}
	if !del.Deleted {
		t.Error("Deleted = false, want true")
	}

	branches := f.Branches().Branches
	for _, b := range branches {
		if b == "tmp" {
			t.Errorf("branches = %v, want %q removed after kill_empty_branch delete", branches, "tmp")
		}
	}

	// The default branch is never touched by kill_empty_branch.
	repo := f.Repository()
	if repo.HeadTarget() != "refs/heads/"+DefaultBranch {
		t.Errorf("HEAD target after kill = %q, want restored to %q", repo.HeadTarget(), "refs/heads/"+DefaultBranch)
	}
}

// TestDelete_KillEmptyBranchNeverKillsDefault confirms the default branch
// survives even when every tracked file on it is removed with
// kill_empty_branch set.
func TestDelete_KillEmptyBranchNeverKillsDefault(t *testing.T) {
	f := newTestFacade(t)

	del := f.Delete(".gitignore", DefaultBranch, "drop bootstrap file", true)
	if !del.Success {
		t.Fatalf("Delete() failed: %s", del.Message)
	}

	found := false
	for _, b := range f.Branches().Branches {
		if b == DefaultBranch {
			found = true
		}
	}
	if !found {
		t.Error("default branch was removed, want it to survive kill_empty_branch")
	}
}

func TestMerge_JoinsTwoParentsOntoBranch(t *testing.T) {
	f := newTestFacade(t)

	if res := f.Write("feature.txt", []byte("work\n"), "feature", "start feature"); !res.Success {
		t.Fatalf("setup write failed: %s", res.Message)
	}

	merge := f.Merge(DefaultBranch, "feature", "merge feature")
	if !merge.Success {
		t.Fatalf("Merge() failed: %s", merge.Message)
	}
	if merge.Commit == "" {
		t.Error("Commit is empty after a successful merge")
	}

	read := f.Read("feature.txt", DefaultBranch, "")
	if !read.Success || string(read.Content) != "work\n" {
		t.Errorf("Read(feature.txt, %s) = %+v, want success with merged content", DefaultBranch, read)
	}
}

func TestGrep_FindsMatchingLines(t *testing.T) {
	f := newTestFacade(t)

	f.Write("a.txt", []byte("hello world\nsecond line\n"), "main", "add a")
	f.Write("b.txt", []byte("another hello\n"), "main", "add b")

	grep := f.Grep("hello", "main")
	if !grep.Success {
		t.Fatalf("Grep() failed: %s", grep.Message)
	}
	if len(grep.Matches) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(grep.Matches), grep.Matches)
	}
}

func TestReset_MovesBranchRef(t *testing.T) {
	f := newTestFacade(t)

	first := f.Write("a.txt", []byte("1\n"), "main", "first")
	second := f.Write("a.txt", []byte("2\n"), "main", "second")
	if !first.Success || !second.Success {
		t.Fatalf("setup writes failed")
	}

	reset := f.Reset("main", first.Commit, true)
	if !reset.Success {
		t.Fatalf("Reset() failed: %s", reset.Message)
	}
	if reset.Commit != first.Commit {
		t.Errorf("Reset() Commit = %q, want %q", reset.Commit, first.Commit)
	}

	read := f.Read("a.txt", "main", "")
	if !read.Success || string(read.Content) != "1\n" {
		t.Errorf("Read(a.txt) after hard reset = %+v, want content %q", read, "1\n")
	}
}

func TestRestore_OverwritesUncommittedChange(t *testing.T) {
	f := newTestFacade(t)

	if res := f.Write("a.txt", []byte("committed\n"), "main", "add a"); !res.Success {
		t.Fatalf("setup write failed: %s", res.Message)
	}

	repo := f.Repository()
	absPath := filepath.Join(repo.WorkDir(), "a.txt")
	if err := os.WriteFile(absPath, []byte("uncommitted\n"), 0o644); err != nil {
		t.Fatalf("writing uncommitted change: %v", err)
	}

	restore := f.Restore("a.txt", "main")
	if !restore.Success {
		t.Fatalf("Restore() failed: %s", restore.Message)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(content) != "committed\n" {
		t.Errorf("content after Restore = %q, want %q", content, "committed\n")
	}
}

func TestRename_MovesFileAndCommits(t *testing.T) {
	f := newTestFacade(t)

	if res := f.Write("old/name.txt", []byte("content\n"), "main", "add file"); !res.Success {
		t.Fatalf("setup write failed: %s", res.Message)
	}

	ren := f.Rename("old/name.txt", "new/name.txt", "main", "rename file")
	if !ren.Success {
		t.Fatalf("Rename() failed: %s", ren.Message)
	}

	if read := f.Read("new/name.txt", "main", ""); !read.Success || string(read.Content) != "content\n" {
		t.Errorf("Read(new path) = %+v, want success with original content", read)
	}
	if read := f.Read("old/name.txt", "main", ""); read.Success {
		t.Error("Read(old path) succeeded after rename, want failure")
	}
}

func TestRename_MissingSourceFails(t *testing.T) {
	f := newTestFacade(t)

	ren := f.Rename("missing.txt", "dest.txt", "main", "rename missing")
	if ren.Success {
		t.Error("Rename() succeeded for a nonexistent source, want failure")
	}
	if ren.Kind != gitcore.NotFound {
		t.Errorf("Kind = %v, want NotFound", ren.Kind)
	}
}

func TestLs_ListsEntriesWithBlame(t *testing.T) {
	f := newTestFacade(t)

	if res := f.Write("dir/a.txt", []byte("a\n"), "main", "add a"); !res.Success {
		t.Fatalf("setup write failed: %s", res.Message)
	}
	if res := f.Write("dir/b.txt", []byte("b\n"), "main", "add b"); !res.Success {
		t.Fatalf("setup write failed: %s", res.Message)
	}

	ls := f.Ls("dir", "main")
	if !ls.Success {
		t.Fatalf("Ls() failed: %s", ls.Message)
	}
	if len(ls.Entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(ls.Entries), ls.Entries)
	}
	for _, e := range ls.Entries {
		if e.LastCommit == nil {
			t.Errorf("entry %q missing LastCommit annotation", e.Name)
		}
	}
}

func TestLogs_WalksCommitHistory(t *testing.T) {
	f := newTestFacade(t)

	f.Write("a.txt", []byte("1\n"), "main", "first")
	f.Write("a.txt", []byte("2\n"), "main", "second")

	logs := f.Logs("main", 0)
	if !logs.Success {
		t.Fatalf("Logs() failed: %s", logs.Message)
	}
	// initial commit (from InitRepository) + first + second == 3
	if len(logs.Logs) != 3 {
		t.Errorf("got %d log entries, want 3: %+v", len(logs.Logs), logs.Logs)
	}
}

func TestBranches_ListsCreatedBranches(t *testing.T) {
	f := newTestFacade(t)

	f.Write("x.txt", []byte("x\n"), "side", "start side branch")

	branches := f.Branches().Branches
	want := map[string]bool{DefaultBranch: true, "side": true}
	for _, b := range branches {
		delete(want, b)
	}
	if len(want) != 0 {
		t.Errorf("branches = %v, missing %v", branches, want)
	}
}

func TestWrite_RejectsPathEscape(t *testing.T) {
	f := newTestFacade(t)

	res := f.Write("../escape.txt", []byte("x\n"), "main", "escape")
	if res.Success {
		t.Error("Write() succeeded for a path escaping the repository root, want failure")
	}
	if res.Kind != gitcore.PreconditionFailed {
		t.Errorf("Kind = %v, want PreconditionFailed", res.Kind)
	}
}
