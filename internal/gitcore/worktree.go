package gitcore

import (
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// WorktreeFile is one file reported by the working-tree scanner: its
// repo-relative path (slash-separated), its content, and whether the
// executable bit is set.
type WorktreeFile struct {
	Path       string
	Content    []byte
	Executable bool
	IsSymlink  bool
}

// ScanWorktree walks workDir depth-first, excluding ".git" at the top level
// (and anywhere ".git" would be reached by following that subtree), and
// returns every regular file and symlink it finds.
//
// Path strings are normalized to NFC so that a file named identically on a
// filesystem using a different Unicode normalization form (notably macOS's
// HFS+/APFS, which decomposes accented characters) still hashes to the same
// tree-entry name as it would on a Linux checkout of the same commit.
func ScanWorktree(workDir string) ([]WorktreeFile, error) {
	var files []WorktreeFile

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

		relSlash := norm.NFC.String(filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			files = append(files, WorktreeFile{Path: relSlash, Content: []byte(target), IsSymlink: true})
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		//nolint:gosec // G304: path is produced by WalkDir over the caller's own working tree
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		files = append(files, WorktreeFile{
			Path:       relSlash,
			Content:    content,
			Executable: info.Mode()&0o111 != 0,
		})
		return nil
	})
	if err != nil {
		return nil, &Error{Kind: IOError, Op: "ScanWorktree", Err: err}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// BuildTreeFromWorktree scans workDir and writes a tree object directly from
// what it finds, without going through the index. Used by the commit
// pipeline's working-tree-commit mode (spec §4.6).
func BuildTreeFromWorktree(repo *Repository, workDir string) (Hash, error) {
	files, err := ScanWorktree(workDir)
	if err != nil {
		return "", err
	}

	idx := NewIndex()
	for _, f := range files {
		mode := uint32(0o100644)
		if f.IsSymlink {
			mode = 0o120000
		} else if f.Executable {
			mode = 0o100755
		}
		hash, err := repo.WriteBlob(f.Content)
		if err != nil {
			return "", err
		}
		idx.Set(IndexEntry{Mode: mode, Hash: hash, FileSize: uint32(len(f.Content)), Path: f.Path}) //nolint:gosec // G115: truncated to 32 bits per the on-disk format
	}

	return idx.ToTree(repo)
}
