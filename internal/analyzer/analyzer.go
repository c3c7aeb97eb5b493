// Package analyzer walks a file tree and turns every eligible file into a
// FileRecord: a content digest, a feature vector and the metadata the
// decision engine needs.
package analyzer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/pathmatch"
	"github.com/steveyegge/dupescan/internal/types"
)

const (
	// binarySniffLen is how much of a file is checked for NUL bytes
	binarySniffLen = 8 << 10

	// maxFeatureBytes caps the content fed to the extractor. The digest
	// always covers the whole file.
	maxFeatureBytes = 8 << 20
)

// Skip details
const (
	DetailBelowMinSize   = "below minimum size"
	DetailIgnored        = "matches ignore pattern"
	DetailNotIncluded    = "not matched by include patterns"
	DetailSymlink        = "symlink"
	DetailSymlinkOutside = "symlink outside root"
	DetailNotRegular     = "not a regular file"
	DetailOutsideRoot    = "outside root"
)

// ProgressFunc is called by the collector after each file finishes.
type ProgressFunc func(done, total int)

// Analyzer produces FileRecords from a tree.
type Analyzer struct {
	fs        afero.Fs
	extractor FeatureExtractor
	ignore    *pathmatch.Matcher
	include   *pathmatch.Matcher
	minSize   int64
	maxFiles  int
	workers   int

	// Progress is optional
	Progress ProgressFunc

	logger *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithExtractor replaces the default ShingleExtractor.
func WithExtractor(e FeatureExtractor) Option {
	return func(a *Analyzer) { a.extractor = e }
}

// WithLogger sets the logger. nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithProgress sets a progress callback.
func WithProgress(p ProgressFunc) Option {
	return func(a *Analyzer) { a.Progress = p }
}

// New builds an Analyzer over fs from the scan configuration.
func New(fs afero.Fs, cfg config.ScanConfig, opts ...Option) (*Analyzer, error) {
	ignore, err := pathmatch.Compile(cfg.IgnorePatterns)
	if err != nil {
		return nil, fmt.Errorf("ignore patterns: %w", err)
	}
	include, err := pathmatch.Compile(cfg.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	a := &Analyzer{
		fs:        fs,
		extractor: NewShingleExtractor(),
		ignore:    ignore,
		include:   include,
		minSize:   cfg.MinFileSize,
		maxFiles:  cfg.MaxFilesToAnalyze,
		workers:   workers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Dimensions returns the feature vector length every record will carry.
func (a *Analyzer) Dimensions() int {
	return a.extractor.Dimensions()
}

// Result is the outcome of analyzing a tree.
type Result struct {
	// Records are sorted by path
	Records []types.FileRecord

	// Errors holds per-file skips and failures, sorted by path
	Errors []*types.FileError

	// Truncated counts eligible files left out by MaxFilesToAnalyze
	Truncated int
}

// AnalyzeFile analyzes a single file under root with the same filtering a
// walk of root applies: ignore and include patterns (relative to root),
// symlinks, non-regular files and the size floor. Symlinks are never followed.
func (a *Analyzer) AnalyzeFile(ctx context.Context, root, path string) (types.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.FileRecord{}, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonSkipped, DetailOutsideRoot, nil)
	}
	rel = filepath.ToSlash(rel)

	info, err := a.lstat(path)
	if err != nil {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonUnreadable, "", err)
	}
	if a.inIgnoredDir(rel) {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonSkipped, DetailIgnored, nil)
	}
	if detail := a.skipDetail(root, path, rel, info); detail != "" {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonSkipped, detail, nil)
	}

	return a.analyze(path, info)
}

// inIgnoredDir reports whether a directory above rel matches a directory
// ignore pattern, which a walk would have pruned.
func (a *Analyzer) inIgnoredDir(rel string) bool {
	for dir := pathpkg.Dir(rel); dir != "." && dir != "/"; dir = pathpkg.Dir(dir) {
		if a.ignore.MatchDir(dir) {
			return true
		}
	}
	return false
}

// skipDetail returns why a non-directory entry is not analyzed, or "".
func (a *Analyzer) skipDetail(root, path, rel string, info os.FileInfo) string {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		if a.symlinkOutside(root, path) {
			return DetailSymlinkOutside
		}
		return DetailSymlink
	case !info.Mode().IsRegular():
		return DetailNotRegular
	case a.ignore.Match(rel):
		return DetailIgnored
	case !a.include.Empty() && !a.include.Match(rel):
		return DetailNotIncluded
	case info.Size() < a.minSize:
		return DetailBelowMinSize
	}
	return ""
}

func (a *Analyzer) analyze(path string, info os.FileInfo) (types.FileRecord, error) {
	f, err := a.fs.Open(path)
	if err != nil {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonUnreadable, "", err)
	}
	defer f.Close()

	h := sha256.New()
	sample := &cappedBuffer{max: maxFeatureBytes}
	n, err := io.Copy(h, io.TeeReader(f, sample))
	if err != nil {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonUnreadable, "", err)
	}

	rec := types.FileRecord{
		Path:         path,
		SizeBytes:    uint64(n),
		LastModified: info.ModTime(),
	}
	copy(rec.Digest[:], h.Sum(nil))

	content := sample.Bytes()
	if isBinary(content) {
		rec.Opaque = true
		rec.FeatureVector = make([]float64, a.extractor.Dimensions())
		return rec, nil
	}

	vec, err := a.extractor.Extract(content)
	if err != nil {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonUnreadable, "feature extraction", err)
	}
	if len(vec) != a.extractor.Dimensions() {
		return types.FileRecord{}, types.NewFileError(path, types.ReasonHeterogeneousFeatureVector,
			fmt.Sprintf("got %d dimensions, want %d", len(vec), a.extractor.Dimensions()), nil)
	}
	rec.FeatureVector = vec
	return rec, nil
}

type candidate struct {
	path string
	info os.FileInfo
}

type outcome struct {
	rec types.FileRecord
	err *types.FileError
}

// Analyze walks root in lexical order and analyzes every eligible file on a
// bounded worker pool. Per-file problems are returned in Result.Errors; the
// returned error is reserved for an unreadable root, cancellation and an
// extractor whose vector length differs from its Dimensions, which would
// make every later similarity meaningless.
func (a *Analyzer) Analyze(ctx context.Context, root string) (Result, error) {
	var res Result

	candidates, skipped, err := a.walk(ctx, root)
	if err != nil {
		return Result{}, err
	}
	res.Errors = skipped

	if a.maxFiles > 0 && len(candidates) > a.maxFiles {
		res.Truncated = len(candidates) - a.maxFiles
		candidates = candidates[:a.maxFiles]
		a.logger.Info("file limit reached", "max_files", a.maxFiles, "truncated", res.Truncated)
	}

	results := make(chan outcome)
	collected := make(chan struct{})
	total := len(candidates)

	// Single collector; workers never touch res
	go func() {
		defer close(collected)
		done := 0
		for o := range results {
			done++
			if o.err != nil {
				res.Errors = append(res.Errors, o.err)
			} else {
				res.Records = append(res.Records, o.rec)
			}
			if a.Progress != nil {
				a.Progress(done, total)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := a.analyze(c.path, c.info)
			if errors.Is(err, types.ErrHeterogeneousFeatureVector) {
				a.logger.Error("feature extractor broke its dimensionality", "path", c.path, "error", err)
				return err
			}
			if err != nil {
				var fe *types.FileError
				if !errors.As(err, &fe) {
					fe = types.NewFileError(c.path, types.ReasonUnreadable, "", err)
				}
				a.logger.Warn("file unreadable", "path", c.path, "error", fe.Err)
				results <- outcome{err: fe}
				return nil
			}
			results <- outcome{rec: rec}
			return nil
		})
	}
	err = g.Wait()
	close(results)
	<-collected
	if err != nil {
		return Result{}, fmt.Errorf("analyzing %s: %w", root, err)
	}

	sort.Slice(res.Records, func(i, j int) bool { return res.Records[i].Path < res.Records[j].Path })
	sort.SliceStable(res.Errors, func(i, j int) bool { return res.Errors[i].Path < res.Errors[j].Path })

	a.logger.Info("analysis complete",
		"root", root, "records", len(res.Records), "errors", len(res.Errors))
	return res, nil
}

// walk collects the files that pass filtering, in lexical order.
func (a *Analyzer) walk(ctx context.Context, root string) ([]candidate, []*types.FileError, error) {
	var (
		candidates []candidate
		skipped    []*types.FileError
	)

	skip := func(path, detail string) {
		a.logger.Debug("skipping file", "path", path, "reason", detail)
		skipped = append(skipped, types.NewFileError(path, types.ReasonSkipped, detail, nil))
	}

	err := afero.Walk(a.fs, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return fmt.Errorf("reading root: %w", err)
			}
			a.logger.Warn("cannot read path", "path", path, "error", err)
			skipped = append(skipped, types.NewFileError(path, types.ReasonUnreadable, "", err))
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if path != root && a.ignore.MatchDir(rel) {
				a.logger.Debug("pruning directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}

		if detail := a.skipDetail(root, path, rel, info); detail != "" {
			skip(path, detail)
			return nil
		}

		candidates = append(candidates, candidate{path: path, info: info})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return candidates, skipped, nil
}

// symlinkOutside reports whether the link at path resolves outside root.
// Links that cannot be read are treated as outside.
func (a *Analyzer) symlinkOutside(root, path string) bool {
	reader, ok := a.fs.(afero.LinkReader)
	if !ok {
		return true
	}
	target, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return true
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	rel, err := filepath.Rel(root, filepath.Clean(target))
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (a *Analyzer) lstat(path string) (os.FileInfo, error) {
	if l, ok := a.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return a.fs.Stat(path)
}

// isBinary reports whether content looks binary (NUL in the first 8 KiB).
func isBinary(content []byte) bool {
	if len(content) > binarySniffLen {
		content = content[:binarySniffLen]
	}
	return bytes.IndexByte(content, 0) >= 0
}

// cappedBuffer keeps the first max bytes written and discards the rest
// while reporting full writes, so it can sit behind io.TeeReader.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}
