package gitcore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// expectedEntry is one file the checkout engine must leave on disk: its
// blob oid and whether it is executable.
type expectedEntry struct {
	oid        Hash
	executable bool
	symlink    bool
}

// Checkout switches HEAD to branch, reconciling the working tree and index
// against its tip commit's tree. It implements the seven-step algorithm:
// rewrite HEAD, resolve the target tree, compute the expected path set,
// delete everything outside it, materialize every expected path, rebuild the
// index, and audit the result. It never touches anything under ".git", and
// running it twice in a row leaves the working tree and index unchanged the
// second time.
//
// On success it returns a freshly reopened Repository handle, per the
// engine's rule that ref-changing operations invalidate cached state.
func Checkout(repo *Repository, branch string) (*Repository, error) {
	workDir := repo.WorkDir()

	// Step 1: atomically rewrite HEAD, then reopen to drop any cached ref view.
	if err := repo.WriteSymbolicRef("HEAD", "refs/heads/"+branch); err != nil {
		return nil, fmt.Errorf("Checkout %s: %w", branch, err)
	}
	repo, err := repo.Reopen()
	if err != nil {
		return nil, fmt.Errorf("Checkout %s: reopen after HEAD rewrite: %w", branch, err)
	}

	// Step 2: resolve the target commit; unborn means an empty tree.
	var targetTree Hash
	tip, err := repo.BranchCommit(branch)
	switch {
	case err == nil:
		commit, cErr := repo.GetCommit(tip)
		if cErr != nil {
			return nil, fmt.Errorf("Checkout %s: %w", branch, cErr)
		}
		targetTree = commit.Tree
	default:
		if kind, ok := KindOf(err); !ok || kind != Unborn {
			return nil, fmt.Errorf("Checkout %s: %w", branch, err)
		}
		targetTree = EmptyTreeHash
	}

	// Step 3: compute the expected set.
	expected := make(map[string]expectedEntry)
	if targetTree != EmptyTreeHash {
		if err := walkTreeFiles(repo, targetTree, "", expected); err != nil {
			return nil, fmt.Errorf("Checkout %s: %w", branch, err)
		}
	}

	// Step 4: delete every on-disk path that isn't expected.
	if err := pruneWorktree(workDir, expected); err != nil {
		return nil, fmt.Errorf("Checkout %s: %w", branch, err)
	}

	// Step 5: materialize every expected path.
	if err := materialize(repo, workDir, expected); err != nil {
		return nil, fmt.Errorf("Checkout %s: %w", branch, err)
	}

	// Step 6: rebuild the index from the target tree.
	idx := NewIndex()
	for path, e := range expected {
		mode := uint32(0o100644)
		if e.symlink {
			mode = 0o120000
		} else if e.executable {
			mode = 0o100755
		}
		idx.Set(IndexEntry{Mode: mode, Hash: e.oid, Path: path})
	}
	if err := SaveIndex(repo.GitDir(), idx); err != nil {
		return nil, fmt.Errorf("Checkout %s: %w", branch, err)
	}

	// Step 7: final audit.
	if err := auditWorktree(workDir, expected); err != nil {
		return nil, &Error{Kind: CheckoutIncomplete, Op: "Checkout", Err: err}
	}

	return repo.Reopen()
}

// walkTreeFiles populates expected with every blob reachable from treeHash,
// keyed by its slash-separated path relative to the working tree root.
func walkTreeFiles(repo *Repository, treeHash Hash, prefix string, expected map[string]expectedEntry) error {
	tree, err := repo.GetTree(treeHash)
	if err != nil {
		return err
	}
	for _, entry := range tree.Entries {
		path := entry.Name
		if prefix != "" {
			path = prefix + "/" + entry.Name
		}
		switch entry.Type {
		case "tree":
			if err := walkTreeFiles(repo, entry.ID, path, expected); err != nil {
				return err
			}
		case "blob":
			expected[path] = expectedEntry{
				oid:        entry.ID,
				executable: entry.Mode == "100755",
				symlink:    entry.Mode == "120000",
			}
		}
	}
	return nil
}

// pruneWorktree deletes every file outside .git whose relative path is not
// in expected, then removes directories left empty (or containing nothing
// under expected) bottom-up.
func pruneWorktree(workDir string, expected map[string]expectedEntry) error {
	var toRemove []string
	var dirs []string

	err := filepath.WalkDir(workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(workDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if _, ok := expected[relSlash]; !ok {
			toRemove = append(toRemove, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var errs error
	for _, f := range toRemove {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}

	// Remove directories bottom-up: longest paths first.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		rel := filepath.ToSlash(mustRel(workDir, d))
		if hasExpectedUnder(rel, expected) {
			continue
		}
		if err := os.RemoveAll(d); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func hasExpectedUnder(dir string, expected map[string]expectedEntry) bool {
	prefix := dir + "/"
	for path := range expected {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

// materialize writes every expected blob to disk, creating parent
// directories as needed and applying the executable bit for mode 100755.
func materialize(repo *Repository, workDir string, expected map[string]expectedEntry) error {
	for path, e := range expected {
		full := filepath.Join(workDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}

		content, err := repo.GetBlob(e.oid)
		if err != nil {
			return fmt.Errorf("materialize %s: %w", path, err)
		}

		if e.symlink {
			_ = os.Remove(full)
			if err := os.Symlink(string(content), full); err != nil {
				return fmt.Errorf("materialize symlink %s: %w", path, err)
			}
			continue
		}

		mode := os.FileMode(0o644)
		if e.executable {
			mode = 0o755
		}
		if err := os.WriteFile(full, content, mode); err != nil {
			return fmt.Errorf("materialize %s: %w", path, err)
		}
		if err := os.Chmod(full, mode); err != nil {
			return fmt.Errorf("materialize %s: chmod: %w", path, err)
		}
	}
	return nil
}

// auditWorktree rescans workDir and fails if any path outside .git is not in
// expected — the final consistency check the checkout engine's contract requires.
func auditWorktree(workDir string, expected map[string]expectedEntry) error {
	var residual []string
	err := filepath.WalkDir(workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(workDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if _, ok := expected[relSlash]; !ok {
			residual = append(residual, relSlash)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(residual) > 0 {
		return fmt.Errorf("residual paths after checkout: %s", strings.Join(residual, ", "))
	}
	return nil
}
