package gitcore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CommitOptions configures a single commit-pipeline invocation.
type CommitOptions struct {
	Branch    string // target branch; defaults to HEAD's current target
	Message   string
	Author    Signature // zero value uses the repository's default identity
	Committer Signature // zero value uses Author
	// FromWorktree selects working-tree-commit mode (spec §4.6 mode 2):
	// the scanner enumerates every file outside .git and builds the tree
	// directly, bypassing the index. Otherwise the tree is built from the
	// current index (mode 1).
	FromWorktree bool
}

// Commit builds a tree from the index (or the working tree, per
// opts.FromWorktree), creates a commit object with the branch's current tip
// as parent (or none if unborn), and advances the branch ref. If the branch
// was unborn, this call creates it. On any failure before the ref update, no
// ref changes are made; objects may already exist on disk, which is
// harmless under write-once content addressing.
//
// Returns a freshly reopened Repository handle.
func Commit(repo *Repository, opts CommitOptions) (*Repository, Hash, error) {
	branch := opts.Branch
	if branch == "" {
		branch = currentBranchName(repo)
		if branch == "" {
			return nil, "", &Error{Kind: PreconditionFailed, Op: "Commit", Err: fmt.Errorf("HEAD is detached and no branch was specified")}
		}
	}

	var tree Hash
	var err error
	if opts.FromWorktree {
		tree, err = BuildTreeFromWorktree(repo, repo.WorkDir())
	} else {
		idx, idxErr := ReadIndex(repo.GitDir())
		if idxErr != nil {
			return nil, "", fmt.Errorf("Commit: %w", idxErr)
		}
		tree, err = idx.ToTree(repo)
	}
	if err != nil {
		return nil, "", fmt.Errorf("Commit: %w", err)
	}

	var parents []Hash
	tip, tipErr := repo.BranchCommit(branch)
	switch {
	case tipErr == nil:
		parents = []Hash{tip}
	default:
		if kind, ok := KindOf(tipErr); !ok || kind != Unborn {
			return nil, "", fmt.Errorf("Commit: %w", tipErr)
		}
	}

	author := opts.Author
	if author.Name == "" {
		author = repo.Identity()
	}
	if author.When.IsZero() {
		author.When = time.Now()
	}
	committer := opts.Committer
	if committer.Name == "" {
		committer = author
	}
	if committer.When.IsZero() {
		committer.When = author.When
	}

	commitHash, err := repo.WriteCommit(tree, parents, author, committer, opts.Message)
	if err != nil {
		return nil, "", fmt.Errorf("Commit: %w", err)
	}

	if err := repo.WriteRef("refs/heads/"+branch, commitHash); err != nil {
		return nil, "", fmt.Errorf("Commit: advancing %s: %w", branch, err)
	}

	// After a successful commit, rebuild the index from the new tree so that
	// stat values may differ only in ways that do not invent fake modifications.
	if err := rebuildIndexFromTree(repo, tree); err != nil {
		return nil, "", fmt.Errorf("Commit: rebuilding index: %w", err)
	}

	reopened, err := repo.Reopen()
	if err != nil {
		return nil, "", fmt.Errorf("Commit: reopen: %w", err)
	}
	return reopened, commitHash, nil
}

// rebuildIndexFromTree walks tree and writes an index entry for every blob,
// mirroring truegit.py's post-commit index rebuild.
func rebuildIndexFromTree(repo *Repository, tree Hash) error {
	entries := make(map[string]expectedEntry)
	if tree != EmptyTreeHash {
		if err := walkTreeFiles(repo, tree, "", entries); err != nil {
			return err
		}
	}
	idx := NewIndex()
	for path, e := range entries {
		mode := uint32(0o100644)
		if e.symlink {
			mode = 0o120000
		} else if e.executable {
			mode = 0o100755
		}
		idx.Set(IndexEntry{Mode: mode, Hash: e.oid, Path: path})
	}
	return SaveIndex(repo.GitDir(), idx)
}

// currentBranchName returns the branch name HEAD points to, or "" if detached.
func currentBranchName(repo *Repository) string {
	ref := repo.HeadTarget()
	if repo.HeadDetached() {
		return ""
	}
	const prefix = "refs/heads/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ""
}

// Merge creates a trivial two-parent commit joining ours and theirs: no
// conflict resolution is attempted. The resulting tree is theirs's tree
// outright, matching the "theirs" strategy truegit.py's merge() uses when it
// cannot fast-forward. This is intentionally the full extent of merge
// support: conflict-resolving merges are out of scope.
func Merge(repo *Repository, ours, theirs Hash, message string) (*Repository, Hash, error) {
	oursCommit, err := repo.GetCommit(ours)
	if err != nil {
		return nil, "", fmt.Errorf("Merge: %w", err)
	}
	theirsCommit, err := repo.GetCommit(theirs)
	if err != nil {
		return nil, "", fmt.Errorf("Merge: %w", err)
	}

	author := repo.Identity()
	now := time.Now()
	author.When = now
	committer := author

	commitHash, err := repo.WriteCommit(theirsCommit.Tree, []Hash{oursCommit.ID, theirsCommit.ID}, author, committer, message)
	if err != nil {
		return nil, "", fmt.Errorf("Merge: %w", err)
	}
	return repo, commitHash, nil
}

// InitRepository bootstraps a fresh .git directory at root (creating it if
// root itself does not yet exist), writes HEAD pointing at defaultBranch, and
// creates an initial commit whose tree contains a single ".gitignore" file
// with the content "# initial\n" (spec §8 scenario S1). If root already
// contains a .git directory, InitRepository is a no-op and simply opens it.
func InitRepository(root, defaultBranch string) (*Repository, error) {
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	gitDir := filepath.Join(root, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		return NewRepository(root)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Kind: IOError, Op: "InitRepository", Err: err}
	}
	for _, dir := range []string{"objects", filepath.Join("refs", "heads"), filepath.Join("refs", "tags"), filepath.Join("refs", "remotes")} {
		if err := os.MkdirAll(filepath.Join(gitDir, dir), 0o755); err != nil {
			return nil, &Error{Kind: IOError, Op: "InitRepository", Err: err}
		}
	}

	headContent := fmt.Sprintf("ref: refs/heads/%s\n", defaultBranch)
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte(headContent), 0o644); err != nil { //nolint:gosec // G306: not a secret
		return nil, &Error{Kind: IOError, Op: "InitRepository", Err: err}
	}

	config := "[core]\n\trepositoryformatversion = 0\n\tfilemode = true\n\tbare = false\n"
	if err := os.WriteFile(filepath.Join(gitDir, "config"), []byte(config), 0o644); err != nil { //nolint:gosec // G306: not a secret
		return nil, &Error{Kind: IOError, Op: "InitRepository", Err: err}
	}

	repo, err := NewRepository(root)
	if err != nil {
		return nil, fmt.Errorf("InitRepository: opening freshly bootstrapped repo: %w", err)
	}

	blobHash, err := repo.WriteBlob([]byte("# initial\n"))
	if err != nil {
		return nil, fmt.Errorf("InitRepository: %w", err)
	}
	treeHash, err := repo.WriteTree([]TreeEntry{{ID: blobHash, Name: ".gitignore", Mode: "100644", Type: "blob"}})
	if err != nil {
		return nil, fmt.Errorf("InitRepository: %w", err)
	}

	identity := repo.Identity()
	identity.When = time.Now()
	commitHash, err := repo.WriteCommit(treeHash, nil, identity, identity, "initial commit")
	if err != nil {
		return nil, fmt.Errorf("InitRepository: %w", err)
	}
	if err := repo.WriteRef("refs/heads/"+defaultBranch, commitHash); err != nil {
		return nil, fmt.Errorf("InitRepository: %w", err)
	}
	if err := rebuildIndexFromTree(repo, treeHash); err != nil {
		return nil, fmt.Errorf("InitRepository: %w", err)
	}

	return repo.Reopen()
}
