package gitcore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WriteRef writes "<hex>\n" to refs/heads|tags|remotes/<name>. The caller
// supplies the full ref path (e.g. "refs/heads/main").
func (r *Repository) WriteRef(refname string, oid Hash) error {
	path := filepath.Join(r.gitDir, filepath.FromSlash(refname))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{Kind: IOError, Op: "WriteRef", Err: err}
	}
	if err := os.WriteFile(path, []byte(string(oid)+"\n"), 0o644); err != nil { //nolint:gosec // G306: ref files are not secrets
		return &Error{Kind: IOError, Op: "WriteRef", Err: err}
	}
	return nil
}

// WriteSymbolicRef writes "ref: <target>\n" to refname. Used for HEAD.
func (r *Repository) WriteSymbolicRef(refname, target string) error {
	path := filepath.Join(r.gitDir, filepath.FromSlash(refname))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{Kind: IOError, Op: "WriteSymbolicRef", Err: err}
	}
	content := fmt.Sprintf("ref: %s\n", target)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { //nolint:gosec // G306: ref files are not secrets
		return &Error{Kind: IOError, Op: "WriteSymbolicRef", Err: err}
	}
	return nil
}

// DeleteRef removes the loose ref file for refname, if present. Packed-refs
// entries are not touched; this engine only writes loose refs.
func (r *Repository) DeleteRef(refname string) error {
	path := filepath.Join(r.gitDir, filepath.FromSlash(refname))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: IOError, Op: "DeleteRef", Err: err}
	}
	return nil
}

// ListHeads returns all branch names, sorted.
func (r *Repository) ListHeads() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0)
	for ref := range r.refs {
		if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HeadTarget returns the symbolic target ref of HEAD (e.g. "refs/heads/main"),
// or the literal oid if HEAD is detached.
func (r *Repository) HeadTarget() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.headDetached {
		return string(r.head)
	}
	return r.headRef
}

// BranchCommit resolves a branch name to its tip commit hash. Returns an
// *Error with Kind Unborn if the branch is the HEAD target but has no ref
// file yet, or BranchMissing if no such branch exists at all and it is not
// the current HEAD target.
func (r *Repository) BranchCommit(branch string) (Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refname := "refs/heads/" + branch
	if hash, ok := r.refs[refname]; ok {
		return hash, nil
	}
	if !r.headDetached && r.headRef == refname {
		return "", &Error{Kind: Unborn, Op: "BranchCommit", Err: fmt.Errorf("branch %q is unborn", branch)}
	}
	return "", &Error{Kind: BranchMissing, Op: "BranchCommit", Err: fmt.Errorf("branch %q does not exist", branch)}
}

// CreateBranch writes refs/heads/<name> pointing at startPoint. Fails with
// BranchExists if the branch already has a ref file.
func (r *Repository) CreateBranch(name string, startPoint Hash) error {
	refname := "refs/heads/" + name
	r.mu.RLock()
	_, exists := r.refs[refname]
	r.mu.RUnlock()
	if exists {
		return &Error{Kind: BranchExists, Op: "CreateBranch", Err: fmt.Errorf("branch %q already exists", name)}
	}
	return r.WriteRef(refname, startPoint)
}

// DeleteBranch removes refs/heads/<name>. The default branch may never be
// deleted; callers must first move HEAD off name if it is current (see
// facade.Delete's kill_empty_branch handling).
func (r *Repository) DeleteBranch(name, defaultBranch string) error {
	if name == defaultBranch {
		return &Error{Kind: PreconditionFailed, Op: "DeleteBranch", Err: fmt.Errorf("refusing to delete default branch %q", name)}
	}
	return r.DeleteRef("refs/heads/" + name)
}

// CreateTag writes refs/tags/<name> pointing directly at target. Only
// lightweight tags are supported (a plain ref, no tag object); annotated
// tags are out of scope. Fails with TagExists if the tag already exists.
func (r *Repository) CreateTag(name string, target Hash) error {
	refname := "refs/tags/" + name
	r.mu.RLock()
	_, exists := r.refs[refname]
	r.mu.RUnlock()
	if exists {
		return &Error{Kind: TagExists, Op: "CreateTag", Err: fmt.Errorf("tag %q already exists", name)}
	}
	return r.WriteRef(refname, target)
}

// DeleteTag removes refs/tags/<name>.
func (r *Repository) DeleteTag(name string) error {
	return r.DeleteRef("refs/tags/" + name)
}
