package executor

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/steveyegge/dupescan/internal/types"
)

// backupPath maps a source path to its location under the run's backup
// directory, mirroring the layout relative to root. Paths outside root are
// kept under "_external" with their absolute layout.
func backupPath(runDir, root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && rel != ".." &&
			!strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.Join(runDir, rel)
		}
	}
	abs := strings.TrimLeft(filepath.ToSlash(filepath.Clean(path)), "/")
	abs = strings.ReplaceAll(abs, ":", "")
	return filepath.Join(runDir, "_external", filepath.FromSlash(abs))
}

// copyVerified copies src to dst through a temp file in dst's directory,
// fsyncs and renames it into place, then re-reads dst and compares its
// SHA-256 with the bytes read from src. The source is never modified.
func copyVerified(fs afero.Fs, src, dst string) (uint64, error) {
	info, err := fs.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating backup directory: %w", err)
	}

	in, err := fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp, err := afero.TempFile(fs, dir, ".backup-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	srcHash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, srcHash), in)
	if err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpPath)
		return 0, fmt.Errorf("copying: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpPath)
		return 0, fmt.Errorf("syncing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return 0, fmt.Errorf("closing: %w", err)
	}
	if err := fs.Rename(tmpPath, dst); err != nil {
		_ = fs.Remove(tmpPath)
		return 0, fmt.Errorf("renaming into place: %w", err)
	}

	// Best effort: keep the original mode and timestamps on the backup
	_ = fs.Chmod(dst, info.Mode().Perm())
	_ = fs.Chtimes(dst, info.ModTime(), info.ModTime())

	var want types.Digest
	copy(want[:], srcHash.Sum(nil))
	got, err := digestFile(fs, dst)
	if err != nil {
		return 0, fmt.Errorf("verifying backup: %w", err)
	}
	if got != want {
		return 0, fmt.Errorf("backup digest %s does not match source digest %s", got, want)
	}

	return uint64(n), nil
}

func digestFile(fs afero.Fs, path string) (types.Digest, error) {
	var d types.Digest
	f, err := fs.Open(path)
	if err != nil {
		return d, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return d, err
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// checkWritable verifies that dir can receive backups. In apply mode the
// directory is created and a probe file is written and removed. In dry run
// nothing is created: the nearest existing ancestor must be a directory with
// the owner write bit set.
func checkWritable(fs afero.Fs, dir string, apply bool) error {
	if apply {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
		probe, err := afero.TempFile(fs, dir, ".probe-*")
		if err != nil {
			return err
		}
		name := probe.Name()
		_ = probe.Close()
		return fs.Remove(name)
	}

	for p := filepath.Clean(dir); ; p = filepath.Dir(p) {
		info, err := fs.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", p)
			}
			if info.Mode().Perm()&0200 == 0 {
				return fmt.Errorf("%s is not writable", p)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
		if parent := filepath.Dir(p); parent == p {
			return fmt.Errorf("no existing ancestor of %s", dir)
		}
	}
}
