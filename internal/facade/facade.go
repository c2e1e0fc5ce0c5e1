// Package facade provides the file-level operations (read, write, delete,
// rename, ls, branches, logs) layered on top of internal/gitcore. Each
// mutating call saves the current branch, switches to the target branch
// (creating it from HEAD if absent), applies the filesystem change, stages
// and commits, then restores the original branch — the same choreography
// SimpleGit.py uses around dulwich's porcelain helpers, rebuilt here on the
// engine's own commit pipeline and checkout engine instead of shelling out.
package facade

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/rybkr/gitengine/internal/gitcore"
)

// DefaultBranch is used when a caller passes an empty branch name.
const DefaultBranch = "main"

// Envelope is the common result shape every façade call returns: whether the
// call succeeded, a human-readable message, and (on success) the branch and
// commit the change landed on. A failed call carries Kind so callers can
// branch on the engine's error taxonomy without parsing Message.
type Envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Branch  string       `json:"branch,omitempty"`
	File    string       `json:"file,omitempty"`
	Commit  gitcore.Hash `json:"commit,omitempty"`
	Kind    gitcore.Kind `json:"-"`
}

// Facade wraps a *gitcore.Repository with the file-level operations. The
// zero value is not usable; construct with New.
type Facade struct {
	mu   sync.Mutex
	repo *gitcore.Repository
}

// New wraps repo. If the repository has no commits at all yet (HEAD is unborn
// and no branch exists), it bootstraps an initial commit on DefaultBranch
// from the working tree's current contents so that
// every subsequent façade call has a branch tip to diff no-op writes against,
// mirroring SimpleGit.py's constructor-time bootstrap.
func New(repo *gitcore.Repository) (*Facade, error) {
	f := &Facade{repo: repo}
	if repo.Head() == "" && len(repo.ListHeads()) == 0 {
		newRepo, _, err := gitcore.Commit(repo, gitcore.CommitOptions{
			Branch:       DefaultBranch,
			Message:      "initial commit",
			FromWorktree: true,
		})
		if err != nil {
			return nil, fmt.Errorf("facade.New: bootstrapping %s: %w", DefaultBranch, err)
		}
		f.repo = newRepo
	}
	return f, nil
}

// Repository returns the façade's current repository handle. Ref-changing
// façade calls replace this handle internally; callers that need the latest
// view (e.g. a server re-broadcasting status) should call this again after
// each mutating call rather than caching the pointer.
func (f *Facade) Repository() *gitcore.Repository {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repo
}

// WriteResult is the result envelope for Write.
type WriteResult struct {
	Envelope
	Created bool `json:"created"`
}

// Write stores content at path on branch (creating the branch from HEAD if
// it does not yet exist) and commits the change. If the working tree already
// has the exact same content at path, the branch's tip tree is unchanged and
// no commit is made — Write still reports Success but Created is false,
// matching spec's "same content is success-without-commit, not an error."
func (f *Facade) Write(path string, content []byte, branch, message string) WriteResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	if message == "" {
		message = "update " + path
	}

	relPath, err := cleanRelPath(path)
	if err != nil {
		return WriteResult{Envelope: f.fail("Write", branch, path, err)}
	}

	created, commit, err := f.perform(branch, message, func() error {
		absPath := filepath.Join(f.repo.WorkDir(), relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return &gitcore.Error{Kind: gitcore.IOError, Op: "Write", Err: err}
		}
		if err := os.WriteFile(absPath, content, 0o644); err != nil { //nolint:gosec // G306: working-tree content, not a secret
			return &gitcore.Error{Kind: gitcore.IOError, Op: "Write", Err: err}
		}
		return nil
	})
	if err != nil {
		return WriteResult{Envelope: f.fail("Write", branch, relPath, err)}
	}

	msg := "wrote " + relPath
	if !created {
		msg = "no changes: " + relPath + " already matches"
	}
	return WriteResult{
		Envelope: Envelope{Success: true, Message: msg, Branch: branch, File: relPath, Commit: commit},
		Created:  created,
	}
}

// DeleteResult is the result envelope for Delete.
type DeleteResult struct {
	Envelope
	Deleted bool `json:"deleted"`
}

// Delete removes path from branch and commits the change. Deleting a path
// that is not present on disk is not an error: the working-tree snapshot is
// unchanged, so the commit is skipped and Deleted is false.
//
// If killEmptyBranch is set and, after the delete, branch has no tracked
// files left, branch is removed once HEAD has been restored — spec §4.8's
// "delete kills empty branch" (scenario S5). The default branch is never
// killed. If branch is itself the branch HEAD is currently on (so the
// save/restore choreography in perform never moves HEAD off it), HEAD is
// first switched to DefaultBranch so branch can be deleted cleanly.
func (f *Facade) Delete(path string, branch, message string, killEmptyBranch bool) DeleteResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	if message == "" {
		message = "delete " + path
	}

	relPath, err := cleanRelPath(path)
	if err != nil {
		return DeleteResult{Envelope: f.fail("Delete", branch, path, err)}
	}

	var existed bool
	created, commit, err := f.perform(branch, message, func() error {
		absPath := filepath.Join(f.repo.WorkDir(), relPath)
		if _, statErr := os.Lstat(absPath); statErr == nil {
			existed = true
		} else if !os.IsNotExist(statErr) {
			return &gitcore.Error{Kind: gitcore.IOError, Op: "Delete", Err: statErr}
		}
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return &gitcore.Error{Kind: gitcore.IOError, Op: "Delete", Err: err}
		}
		return nil
	})
	if err != nil {
		return DeleteResult{Envelope: f.fail("Delete", branch, relPath, err)}
	}

	msg := "deleted " + relPath
	if !existed {
		msg = "no changes: " + relPath + " was not present"
	}

	if killEmptyBranch {
		if killed, killErr := f.killBranchIfEmpty(branch); killErr != nil {
			return DeleteResult{Envelope: f.fail("Delete", branch, relPath, killErr)}
		} else if killed {
			msg += "; branch " + branch + " removed (no tracked files remain)"
		}
	}

	return DeleteResult{
		Envelope: Envelope{Success: true, Message: msg, Branch: branch, File: relPath, Commit: commit},
		Deleted:  created && existed,
	}
}

// killBranchIfEmpty deletes branch if its tip commit's tree has no tracked
// files left. The default branch is never a candidate. If branch is the
// branch HEAD currently targets, HEAD is switched to DefaultBranch first so
// the ref can be removed without leaving HEAD dangling.
func (f *Facade) killBranchIfEmpty(branch string) (killed bool, err error) {
	if branch == DefaultBranch {
		return false, nil
	}

	tip, err := f.repo.BranchCommit(branch)
	if err != nil {
		return false, err
	}
	c, err := f.repo.GetCommit(tip)
	if err != nil {
		return false, err
	}
	if c.Tree != gitcore.EmptyTreeHash {
		return false, nil
	}

	if f.currentBranch() == branch {
		if err := f.checkout(DefaultBranch); err != nil {
			return false, err
		}
	}

	if err := f.repo.DeleteBranch(branch, DefaultBranch); err != nil {
		return false, err
	}
	reopened, err := f.repo.Reopen()
	if err != nil {
		return false, err
	}
	f.repo = reopened
	return true, nil
}

// RenameResult is the result envelope for Rename.
type RenameResult struct {
	Envelope
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// Rename moves oldPath to newPath on branch and commits the change.
func (f *Facade) Rename(oldPath, newPath, branch, message string) RenameResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	if message == "" {
		message = fmt.Sprintf("rename %s to %s", oldPath, newPath)
	}

	oldRel, err := cleanRelPath(oldPath)
	if err != nil {
		return RenameResult{Envelope: f.fail("Rename", branch, oldPath, err)}
	}
	newRel, err := cleanRelPath(newPath)
	if err != nil {
		return RenameResult{Envelope: f.fail("Rename", branch, newPath, err)}
	}

	created, commit, err := f.perform(branch, message, func() error {
		oldAbs := filepath.Join(f.repo.WorkDir(), oldRel)
		newAbs := filepath.Join(f.repo.WorkDir(), newRel)
		if _, statErr := os.Lstat(oldAbs); statErr != nil {
			if os.IsNotExist(statErr) {
				return &gitcore.Error{Kind: gitcore.NotFound, Op: "Rename", Err: fmt.Errorf("%q does not exist", oldRel)}
			}
			return &gitcore.Error{Kind: gitcore.IOError, Op: "Rename", Err: statErr}
		}
		if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
			return &gitcore.Error{Kind: gitcore.IOError, Op: "Rename", Err: err}
		}
		if err := os.Rename(oldAbs, newAbs); err != nil {
			return &gitcore.Error{Kind: gitcore.IOError, Op: "Rename", Err: err}
		}
		return nil
	})
	if err != nil {
		return RenameResult{Envelope: f.fail("Rename", branch, oldRel, err), OldPath: oldRel, NewPath: newRel}
	}

	return RenameResult{
		Envelope: Envelope{Success: true, Message: fmt.Sprintf("renamed %s to %s", oldRel, newRel), Branch: branch, Commit: commit},
		OldPath:  oldRel,
		NewPath:  newRel,
	}
}

// ReadResult is the result envelope for Read.
type ReadResult struct {
	Envelope
	Content []byte `json:"-"`
}

// Read returns the content of path as recorded on branch's tip commit (or,
// if commit is non-empty, that exact commit rather than the branch tip).
// Unlike Write/Delete/Rename this never touches HEAD or the working tree: it
// resolves the blob directly from the object graph.
func (f *Facade) Read(path string, branch string, commit gitcore.Hash) ReadResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	relPath, err := cleanRelPath(path)
	if err != nil {
		return ReadResult{Envelope: f.fail("Read", branch, path, err)}
	}

	tip := commit
	if tip == "" {
		tip, err = f.repo.BranchCommit(branch)
		if err != nil {
			return ReadResult{Envelope: f.fail("Read", branch, relPath, err)}
		}
	}
	c, err := f.repo.GetCommit(tip)
	if err != nil {
		return ReadResult{Envelope: f.fail("Read", branch, relPath, &gitcore.Error{Kind: gitcore.NotFound, Op: "Read", Err: err})}
	}

	blobHash, err := gitcore.ResolveBlobAtPath(f.repo, c.Tree, relPath)
	if err != nil {
		return ReadResult{Envelope: f.fail("Read", branch, relPath, err)}
	}
	content, err := f.repo.GetBlob(blobHash)
	if err != nil {
		return ReadResult{Envelope: f.fail("Read", branch, relPath, &gitcore.Error{Kind: gitcore.IOError, Op: "Read", Err: err})}
	}

	return ReadResult{
		Envelope: Envelope{Success: true, Message: "read " + relPath, Branch: branch, File: relPath, Commit: tip},
		Content:  content,
	}
}

// LsEntry is one child of a directory listing, annotated with the commit
// that last touched it (per GetFileBlame's "last modified" semantics).
type LsEntry struct {
	Name       string             `json:"name"`
	IsDir      bool               `json:"isDir"`
	LastCommit *gitcore.BlameEntry `json:"lastCommit,omitempty"`
}

// LsResult is the result envelope for Ls.
type LsResult struct {
	Envelope
	Entries []LsEntry `json:"entries"`
}

// Ls lists the immediate children of dirPath ("" for the repository root) on
// branch's tip commit, each annotated with the commit that last modified it.
func (f *Facade) Ls(dirPath, branch string) LsResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	dirPath = strings.Trim(filepath.ToSlash(dirPath), "/")

	tip, err := f.repo.BranchCommit(branch)
	if err != nil {
		return LsResult{Envelope: f.fail("Ls", branch, dirPath, err)}
	}
	c, err := f.repo.GetCommit(tip)
	if err != nil {
		return LsResult{Envelope: f.fail("Ls", branch, dirPath, &gitcore.Error{Kind: gitcore.NotFound, Op: "Ls", Err: err})}
	}

	tree, err := f.repo.ResolveTreeAtPath(c.Tree, dirPath)
	if err != nil {
		return LsResult{Envelope: f.fail("Ls", branch, dirPath, err)}
	}

	blame, err := f.repo.GetFileBlame(tip, dirPath)
	if err != nil {
		// Blame is an enrichment, not a requirement: a failure here still
		// yields a usable listing, just without LastCommit annotations.
		blame = nil
	}

	entries := make([]LsEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, LsEntry{
			Name:       e.Name,
			IsDir:      e.Type == "tree" || e.Mode == "040000",
			LastCommit: blame[e.Name],
		})
	}

	return LsResult{
		Envelope: Envelope{Success: true, Message: fmt.Sprintf("listed %d entries", len(entries)), Branch: branch, File: dirPath, Commit: tip},
		Entries:  entries,
	}
}

// BranchesResult is the result envelope for Branches.
type BranchesResult struct {
	Envelope
	Branches []string `json:"branches"`
}

// Branches lists every branch name, sorted.
func (f *Facade) Branches() BranchesResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return BranchesResult{
		Envelope: Envelope{Success: true, Message: "listed branches"},
		Branches: f.repo.ListHeads(),
	}
}

// LogEntry is one commit in a Logs result.
type LogEntry struct {
	ID      gitcore.Hash `json:"id"`
	Message string       `json:"message"`
}

// LogsResult is the result envelope for Logs.
type LogsResult struct {
	Envelope
	Logs []LogEntry `json:"logs"`
}

// Logs returns up to maxEntries commits from branch's tip back along first
// parents, newest first. History is not filtered by path.
func (f *Facade) Logs(branch string, maxEntries int) LogsResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	tip, err := f.repo.BranchCommit(branch)
	if err != nil {
		return LogsResult{Envelope: f.fail("Logs", branch, "", err)}
	}

	// CommitLog walks from the repo handle's own HEAD; a façade caller may
	// ask for a branch other than the checked-out one, so resolve via the
	// tip commit directly rather than relying on HEAD.
	commits := f.repo.Commits()
	head, ok := commits[tip]
	if !ok {
		return LogsResult{Envelope: f.fail("Logs", branch, "", &gitcore.Error{Kind: gitcore.NotFound, Op: "Logs", Err: fmt.Errorf("commit %s not loaded", tip)})}
	}

	var logs []LogEntry
	visited := map[gitcore.Hash]bool{}
	queue := []*gitcore.Commit{head}
	for len(queue) > 0 && (maxEntries <= 0 || len(logs) < maxEntries) {
		c := queue[0]
		queue = queue[1:]
		if visited[c.ID] {
			continue
		}
		visited[c.ID] = true
		logs = append(logs, LogEntry{ID: c.ID, Message: c.Message})
		if len(c.Parents) > 0 {
			if parent, ok := commits[c.Parents[0]]; ok && !visited[c.Parents[0]] {
				queue = append(queue, parent)
			}
		}
	}

	return LogsResult{
		Envelope: Envelope{Success: true, Message: fmt.Sprintf("%d log entries", len(logs)), Branch: branch},
		Logs:     logs,
	}
}

// MergeResult is the result envelope for Merge.
type MergeResult struct {
	Envelope
}

// Merge joins otherBranch into branch with a trivial two-parent commit: no
// conflict resolution is attempted, and the resulting tree is otherBranch's
// tree outright (gitcore.Merge's "theirs" strategy). branch's ref is
// advanced to the new commit; if branch is currently checked out, the
// working tree and index are also updated to match via the checkout engine.
func (f *Facade) Merge(branch, otherBranch, message string) MergeResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	if message == "" {
		message = fmt.Sprintf("merge %s into %s", otherBranch, branch)
	}

	ours, err := f.repo.BranchCommit(branch)
	if err != nil {
		return MergeResult{Envelope: f.fail("Merge", branch, "", err)}
	}
	theirs, err := f.repo.BranchCommit(otherBranch)
	if err != nil {
		return MergeResult{Envelope: f.fail("Merge", branch, "", err)}
	}

	reopened, commitHash, err := gitcore.Merge(f.repo, ours, theirs, message)
	if err != nil {
		return MergeResult{Envelope: f.fail("Merge", branch, "", err)}
	}
	f.repo = reopened

	if err := f.repo.WriteRef("refs/heads/"+branch, commitHash); err != nil {
		return MergeResult{Envelope: f.fail("Merge", branch, "", err)}
	}
	reopened, err = f.repo.Reopen()
	if err != nil {
		return MergeResult{Envelope: f.fail("Merge", branch, "", err)}
	}
	f.repo = reopened

	if f.currentBranch() == branch {
		if err := f.checkout(branch); err != nil {
			return MergeResult{Envelope: f.fail("Merge", branch, "", err)}
		}
	}

	return MergeResult{
		Envelope: Envelope{
			Success: true,
			Message: fmt.Sprintf("merged %s into %s", otherBranch, branch),
			Branch:  branch,
			Commit:  commitHash,
		},
	}
}

// GrepMatch is one line matched by Grep.
type GrepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepResult is the result envelope for Grep.
type GrepResult struct {
	Envelope
	Matches []GrepMatch `json:"matches"`
}

// Grep searches every tracked file's content on branch's tip tree for
// pattern (a regular expression) and returns every matching line, grounded
// in truegit.py's grep() which walks the working tree; here it walks the
// tree object directly so it reflects the committed snapshot regardless of
// what is currently checked out.
func (f *Facade) Grep(pattern, branch string) GrepResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return GrepResult{Envelope: f.fail("Grep", branch, "", &gitcore.Error{Kind: gitcore.InvalidFormat, Op: "Grep", Err: err})}
	}

	tip, err := f.repo.BranchCommit(branch)
	if err != nil {
		return GrepResult{Envelope: f.fail("Grep", branch, "", err)}
	}
	c, err := f.repo.GetCommit(tip)
	if err != nil {
		return GrepResult{Envelope: f.fail("Grep", branch, "", &gitcore.Error{Kind: gitcore.NotFound, Op: "Grep", Err: err})}
	}

	paths, err := gitcore.FlattenTreePaths(f.repo, c.Tree)
	if err != nil {
		return GrepResult{Envelope: f.fail("Grep", branch, "", err)}
	}

	var matches []GrepMatch
	sortedPaths := make([]string, 0, len(paths))
	for path := range paths {
		sortedPaths = append(sortedPaths, path)
	}
	sort.Strings(sortedPaths)

	for _, path := range sortedPaths {
		content, err := f.repo.GetBlob(paths[path])
		if err != nil {
			continue // binary/missing blob: skip rather than fail the whole search
		}
		for i, line := range strings.Split(string(content), "\n") {
			if re.MatchString(line) {
				matches = append(matches, GrepMatch{Path: path, Line: i + 1, Text: line})
			}
		}
	}

	return GrepResult{
		Envelope: Envelope{Success: true, Message: fmt.Sprintf("%d matches", len(matches)), Branch: branch},
		Matches:  matches,
	}
}

// Reset moves branch's ref directly to commitHash. When hard is true, the
// working tree and index are also reconciled to the new tip via the
// checkout engine (if branch is currently checked out); when false, only
// the ref moves, mirroring truegit.py's reset(hard=False) leaving the
// working tree untouched.
func (f *Facade) Reset(branch string, commitHash gitcore.Hash, hard bool) Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	if _, err := f.repo.GetCommit(commitHash); err != nil {
		return f.fail("Reset", branch, "", &gitcore.Error{Kind: gitcore.NotFound, Op: "Reset", Err: err})
	}

	if err := f.repo.WriteRef("refs/heads/"+branch, commitHash); err != nil {
		return f.fail("Reset", branch, "", err)
	}
	reopened, err := f.repo.Reopen()
	if err != nil {
		return f.fail("Reset", branch, "", err)
	}
	f.repo = reopened

	if hard && f.currentBranch() == branch {
		if err := f.checkout(branch); err != nil {
			return f.fail("Reset", branch, "", err)
		}
	}

	return Envelope{Success: true, Message: fmt.Sprintf("reset %s to %s", branch, commitHash), Branch: branch, Commit: commitHash}
}

// Restore overwrites path in the working tree with its content from
// branch's tip commit, discarding any uncommitted change, mirroring
// truegit.py's restore(). It does not touch the index or create a commit.
func (f *Facade) Restore(path, branch string) Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch = orDefault(branch)
	relPath, err := cleanRelPath(path)
	if err != nil {
		return f.fail("Restore", branch, path, err)
	}

	tip, err := f.repo.BranchCommit(branch)
	if err != nil {
		return f.fail("Restore", branch, relPath, err)
	}
	c, err := f.repo.GetCommit(tip)
	if err != nil {
		return f.fail("Restore", branch, relPath, &gitcore.Error{Kind: gitcore.NotFound, Op: "Restore", Err: err})
	}

	blobHash, err := gitcore.ResolveBlobAtPath(f.repo, c.Tree, relPath)
	if err != nil {
		return f.fail("Restore", branch, relPath, err)
	}
	content, err := f.repo.GetBlob(blobHash)
	if err != nil {
		return f.fail("Restore", branch, relPath, &gitcore.Error{Kind: gitcore.IOError, Op: "Restore", Err: err})
	}

	absPath := filepath.Join(f.repo.WorkDir(), relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return f.fail("Restore", branch, relPath, &gitcore.Error{Kind: gitcore.IOError, Op: "Restore", Err: err})
	}
	if err := os.WriteFile(absPath, content, 0o644); err != nil { //nolint:gosec // G306: working-tree content, not a secret
		return f.fail("Restore", branch, relPath, &gitcore.Error{Kind: gitcore.IOError, Op: "Restore", Err: err})
	}

	return Envelope{Success: true, Message: "restored " + relPath, Branch: branch, File: relPath, Commit: tip}
}

// perform runs the save-branch/switch-or-create/apply/stage+commit/
// restore-branch choreography described in spec §4.8: save the branch HEAD
// currently points to, switch to branch (creating it from the current HEAD
// commit if it doesn't exist yet), run apply against the now-checked-out
// working tree, commit the whole working tree as a snapshot if it changed,
// then restore the original branch. Every step's error is aggregated via
// multierr so a failure during restore is never silently dropped.
func (f *Facade) perform(branch, message string, apply func() error) (created bool, commit gitcore.Hash, err error) {
	saved := f.currentBranch()

	if switchErr := f.switchOrCreate(branch); switchErr != nil {
		return false, "", switchErr
	}

	applyErr := apply()

	var commitErr error
	if applyErr == nil {
		created, commit, commitErr = f.commitIfChanged(branch, message)
	}

	var restoreErr error
	if saved != "" && saved != branch {
		restoreErr = f.checkout(saved)
	}

	if combined := multierr.Combine(applyErr, commitErr, restoreErr); combined != nil {
		return false, "", combined
	}
	return created, commit, nil
}

// currentBranch returns the branch name HEAD points to, or "" if detached or
// unborn-without-a-symbolic-target.
func (f *Facade) currentBranch() string {
	if f.repo.HeadDetached() {
		return ""
	}
	const prefix = "refs/heads/"
	ref := f.repo.HeadTarget()
	if name, ok := strings.CutPrefix(ref, prefix); ok {
		return name
	}
	return ""
}

// switchOrCreate checks out branch, first creating its ref from the current
// HEAD commit if no branch by that name exists anywhere yet. If branch is
// already the current branch, this is a no-op (no checkout round-trip).
func (f *Facade) switchOrCreate(branch string) error {
	if f.currentBranch() == branch {
		return nil
	}

	if _, err := f.repo.BranchCommit(branch); err != nil {
		if kind, ok := gitcore.KindOf(err); ok && kind == gitcore.BranchMissing {
			if head := f.repo.Head(); head != "" {
				if createErr := f.repo.CreateBranch(branch, head); createErr != nil {
					return createErr
				}
			}
		} else if !ok {
			return err
		}
		// kind == Unborn: branch is already HEAD's symbolic target without a
		// ref file; Checkout below handles that as an empty-tree checkout.
	}

	return f.checkout(branch)
}

// checkout runs the engine's checkout pipeline and swaps in the reopened
// handle on success.
func (f *Facade) checkout(branch string) error {
	reopened, err := gitcore.Checkout(f.repo, branch)
	if err != nil {
		return err
	}
	f.repo = reopened
	return nil
}

// commitIfChanged snapshots the working tree and commits it to branch only
// if doing so would change the branch tip's tree, implementing spec's
// no-op-write detection uniformly for write/delete/rename.
func (f *Facade) commitIfChanged(branch, message string) (created bool, commit gitcore.Hash, err error) {
	newTree, err := gitcore.BuildTreeFromWorktree(f.repo, f.repo.WorkDir())
	if err != nil {
		return false, "", err
	}

	if tip, tipErr := f.repo.BranchCommit(branch); tipErr == nil {
		if c, cErr := f.repo.GetCommit(tip); cErr == nil && c.Tree == newTree {
			return false, "", nil
		}
	}

	reopened, hash, err := gitcore.Commit(f.repo, gitcore.CommitOptions{
		Branch:       branch,
		Message:      message,
		FromWorktree: true,
	})
	if err != nil {
		return false, "", err
	}
	f.repo = reopened
	return true, hash, nil
}

// fail builds a failure Envelope, extracting Kind from err when it is (or
// wraps) a *gitcore.Error.
func (f *Facade) fail(op, branch, file string, err error) Envelope {
	kind, _ := gitcore.KindOf(err)
	return Envelope{Success: false, Message: op + ": " + err.Error(), Branch: branch, File: file, Kind: kind}
}

// cleanRelPath rejects absolute paths and "..", returning a slash-separated
// path relative to the repository root.
func cleanRelPath(path string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(path))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", &gitcore.Error{Kind: gitcore.PreconditionFailed, Op: "cleanRelPath", Err: fmt.Errorf("empty path")}
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &gitcore.Error{Kind: gitcore.PreconditionFailed, Op: "cleanRelPath", Err: fmt.Errorf("path %q escapes the repository root", path)}
	}
	return clean, nil
}

func orDefault(branch string) string {
	if branch == "" {
		return DefaultBranch
	}
	return branch
}
