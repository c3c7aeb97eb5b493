// Package git answers reference questions about files in a git work tree.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Git runs the git CLI.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
}

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// TopLevel returns the root of the work tree containing dir.
// SECURITY: dir must be a validated, trusted path.
func (g *Git) TopLevel(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", dir, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s is not inside a git work tree: %w", dir, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GrepFiles lists tracked files under repoPath whose content contains
// literal. Paths are relative to the repository root.
// SECURITY: repoPath must be a validated, trusted path.
func (g *Git) GrepFiles(ctx context.Context, repoPath, literal string) ([]string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath,
		"grep", "-l", "-z", "-F", "--full-name", "-I", "-e", literal)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		// Exit status 1 means no match
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && stderr.Len() == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("git grep failed in %s: %w (%s)", repoPath, err, strings.TrimSpace(stderr.String()))
	}

	var files []string
	for _, name := range strings.Split(string(output), "\x00") {
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}

// ReferenceChecker treats a file as referenced when some other tracked file
// in the work tree mentions its base name.
type ReferenceChecker struct {
	git      *Git
	toplevel string

	mu    sync.Mutex
	cache map[string][]string // base name -> files mentioning it
}

// NewReferenceChecker returns a checker for the work tree containing dir.
// It fails when git is missing or dir is not in a work tree.
func NewReferenceChecker(ctx context.Context, dir string) (*ReferenceChecker, error) {
	g, err := NewGit(ctx)
	if err != nil {
		return nil, err
	}
	toplevel, err := g.TopLevel(ctx, dir)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(toplevel); err == nil {
		toplevel = resolved
	}
	return &ReferenceChecker{git: g, toplevel: toplevel, cache: make(map[string][]string)}, nil
}

// Referenced implements decision.ReferenceChecker. Paths outside the work
// tree are never referenced.
func (r *ReferenceChecker) Referenced(ctx context.Context, path string) (bool, error) {
	rel, ok := r.relative(path)
	if !ok {
		return false, nil
	}

	base := filepath.Base(path)
	r.mu.Lock()
	files, cached := r.cache[base]
	r.mu.Unlock()

	if !cached {
		var err error
		files, err = r.git.GrepFiles(ctx, r.toplevel, base)
		if err != nil {
			return false, err
		}
		r.mu.Lock()
		r.cache[base] = files
		r.mu.Unlock()
	}

	for _, f := range files {
		if f != rel {
			return true, nil
		}
	}
	return false, nil
}

// relative returns path relative to the work tree root, slash-separated.
func (r *ReferenceChecker) relative(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(resolved, filepath.Base(abs))
	}
	rel, err := filepath.Rel(r.toplevel, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
