// Package repotransport moves repository data between two local directories:
// it clones, fetches, and pushes by copying loose objects and refs, the way
// truegit.py's clone()/fetch()/push() use shutil.copytree/shutil.copy rather
// than speaking the Git wire protocol. No network transport is implemented;
// source and destination are always paths on the same filesystem.
package repotransport

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Progress reports copy progress during Clone. Phase names one of the two
// concurrent legs ("objects" or "refs"); Percent is coarse: 0 when a leg
// starts and 100 when it finishes.
type Progress struct {
	Phase   string
	Percent int
	Done    bool
	Error   string
}

// copyRetryAttempts bounds how many times a single file copy is retried
// after a transient I/O error (e.g. EINTR, momentary ENOSPC on a loop device).
const copyRetryAttempts = 3

// ValidateSource reports whether path looks like a Git directory: either a
// working copy (path/.git) or a bare repository (path itself laid out like one).
func ValidateSource(path string) (gitDir string, err error) {
	candidate := filepath.Join(path, ".git")
	if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
		gitDir = candidate
	} else if looksLikeGitDir(path) {
		gitDir = path
	} else {
		return "", fmt.Errorf("%s is not a Git repository", path)
	}
	return gitDir, nil
}

func looksLikeGitDir(path string) bool {
	for _, must := range []string{"objects", "HEAD"} {
		if _, err := os.Stat(filepath.Join(path, must)); err != nil {
			return false
		}
	}
	return true
}

// Clone copies sourcePath's Git directory into a fresh bare repository at
// destGitDir. Objects and refs are copied concurrently via errgroup, each
// file copy wrapped in a short retry loop for transient filesystem errors.
func Clone(ctx context.Context, sourcePath, destGitDir string, onProgress func(Progress)) error {
	srcGitDir, err := ValidateSource(sourcePath)
	if err != nil {
		return fmt.Errorf("Clone: %w", err)
	}

	if err := os.MkdirAll(destGitDir, 0o755); err != nil {
		return fmt.Errorf("Clone: creating %s: %w", destGitDir, err)
	}

	report := func(phase string, pct int) {
		if onProgress != nil {
			onProgress(Progress{Phase: phase, Percent: pct})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report("objects", 0)
		if err := copyTree(gctx, filepath.Join(srcGitDir, "objects"), filepath.Join(destGitDir, "objects")); err != nil {
			return fmt.Errorf("copying objects: %w", err)
		}
		report("objects", 100)
		return nil
	})
	g.Go(func() error {
		report("refs", 0)
		if err := copyRefs(gctx, srcGitDir, destGitDir); err != nil {
			return fmt.Errorf("copying refs: %w", err)
		}
		report("refs", 100)
		return nil
	})

	if err := g.Wait(); err != nil {
		_ = os.RemoveAll(destGitDir)
		if onProgress != nil {
			onProgress(Progress{Done: true, Error: err.Error()})
		}
		return fmt.Errorf("Clone: %w", err)
	}

	if err := copyFileWithRetry(ctx, filepath.Join(srcGitDir, "HEAD"), filepath.Join(destGitDir, "HEAD")); err != nil {
		return fmt.Errorf("Clone: copying HEAD: %w", err)
	}

	if onProgress != nil {
		onProgress(Progress{Done: true})
	}
	return nil
}

// Fetch copies every loose object present in sourcePath but absent from
// repoGitDir, then updates repoGitDir's refs/remotes/<remote>/* to mirror
// sourcePath's refs/heads/*. It never touches repoGitDir's own refs/heads.
func Fetch(ctx context.Context, repoGitDir, sourcePath, remote string) error {
	srcGitDir, err := ValidateSource(sourcePath)
	if err != nil {
		return fmt.Errorf("Fetch: %w", err)
	}
	if err := copyMissingObjects(ctx, filepath.Join(srcGitDir, "objects"), filepath.Join(repoGitDir, "objects")); err != nil {
		return fmt.Errorf("Fetch: %w", err)
	}
	if err := mirrorHeads(srcGitDir, filepath.Join(repoGitDir, "refs", "remotes", remote)); err != nil {
		return fmt.Errorf("Fetch: %w", err)
	}
	return nil
}

// Push is Fetch in the opposite direction: it copies repoGitDir's missing
// objects and refs/heads/* into destPath, which must already be a Git
// directory. Branch refs at destPath are overwritten outright — this engine
// does not implement non-fast-forward rejection.
func Push(ctx context.Context, repoGitDir, destPath string) error {
	destGitDir, err := ValidateSource(destPath)
	if err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	if err := copyMissingObjects(ctx, filepath.Join(repoGitDir, "objects"), filepath.Join(destGitDir, "objects")); err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	if err := copyRefTree(filepath.Join(repoGitDir, "refs", "heads"), filepath.Join(destGitDir, "refs", "heads")); err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	return nil
}

// Pull performs only the Fetch step: it does not move the local branch.
// Advancing or merging to the remote tip is the caller's responsibility
// (gitcore.Checkout or gitcore.Merge) since a fast-forward-only pull and a
// merging pull differ in semantics the transport layer has no opinion about.
func Pull(ctx context.Context, repoGitDir, sourcePath, remote string) error {
	return Fetch(ctx, repoGitDir, sourcePath, remote)
}

// mirrorHeads replaces destRefsDir's contents with a copy of every ref under
// srcGitDir/refs/heads.
func mirrorHeads(srcGitDir, destRefsDir string) error {
	srcHeads := filepath.Join(srcGitDir, "refs", "heads")
	if _, err := os.Stat(srcHeads); os.IsNotExist(err) {
		return nil
	}
	return copyRefTree(srcHeads, destRefsDir)
}

func copyRefTree(srcDir, destDir string) error {
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		dest := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		return copyFileWithRetry(context.Background(), path, dest)
	})
}

// copyRefs copies refs/ and packed-refs (if present) from srcGitDir to
// destGitDir. HEAD is copied separately by Clone once both legs finish.
func copyRefs(ctx context.Context, srcGitDir, destGitDir string) error {
	if err := copyRefTree(filepath.Join(srcGitDir, "refs"), filepath.Join(destGitDir, "refs")); err != nil {
		return err
	}
	packed := filepath.Join(srcGitDir, "packed-refs")
	if _, err := os.Stat(packed); err == nil {
		if err := copyFileWithRetry(ctx, packed, filepath.Join(destGitDir, "packed-refs")); err != nil {
			return err
		}
	}
	return nil
}

// copyTree copies every file under srcDir to destDir, preserving the
// directory structure (the loose-object fan-out layout).
func copyTree(ctx context.Context, srcDir, destDir string) error {
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		dest := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		return copyFileWithRetry(ctx, path, dest)
	})
}

// copyMissingObjects copies loose objects present under srcDir but absent
// under destDir. Git objects are content-addressed and write-once, so a file
// that already exists at the destination never needs re-copying.
func copyMissingObjects(ctx context.Context, srcDir, destDir string) error {
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		dest := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if _, err := os.Stat(dest); err == nil {
			return nil // write-once: already present
		}
		return copyFileWithRetry(ctx, path, dest)
	})
}

// copyFileWithRetry copies src to dest, retrying a bounded number of times on
// transient I/O errors using a short constant backoff.
func copyFileWithRetry(ctx context.Context, src, dest string) error {
	backoff := retry.WithMaxRetries(copyRetryAttempts, retry.NewConstant(20*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := copyFile(src, dest); err != nil {
			if os.IsNotExist(err) {
				return err // permanent: source vanished, retrying won't help
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	//nolint:gosec // G304: src is derived from a caller-validated Git directory
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp-copy"
	if err := os.WriteFile(tmp, data, info.Mode()); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
