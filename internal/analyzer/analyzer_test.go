package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/similarity"
	"github.com/steveyegge/dupescan/internal/types"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	}
}

func scanConfig() config.ScanConfig {
	cfg := config.DefaultConfig().Scan
	cfg.Workers = 4
	return cfg
}

func paths(records []types.FileRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Path)
	}
	return out
}

func errorFor(errs []*types.FileError, path string) *types.FileError {
	for _, e := range errs {
		if e.Path == path {
			return e
		}
	}
	return nil
}

func TestAnalyze_DigestsAndOrdering(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/b.txt":     "the quick brown fox",
		"/data/a.txt":     "the quick brown fox",
		"/data/sub/c.txt": "something else entirely",
	})
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/data/a.txt", mtime, mtime))

	a, err := New(fs, scanConfig())
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), "/data")
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Equal(t, []string{"/data/a.txt", "/data/b.txt", "/data/sub/c.txt"}, paths(res.Records))

	recA, recB, recC := res.Records[0], res.Records[1], res.Records[2]
	assert.Equal(t, recA.Digest, recB.Digest)
	assert.NotEqual(t, recA.Digest, recC.Digest)
	assert.Equal(t, uint64(len("the quick brown fox")), recA.SizeBytes)
	assert.True(t, recA.LastModified.Equal(mtime))
	assert.Len(t, recA.FeatureVector, DefaultBuckets)
	assert.InDelta(t, 1.0, similarity.Cosine(recA.FeatureVector, recB.FeatureVector), 1e-9)
	assert.False(t, recA.Opaque)
}

func TestAnalyze_DigestIgnoresMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/one.txt": "same bytes",
		"/data/two.md":  "same bytes",
	})
	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/data/one.txt", old, old))

	a, err := New(fs, scanConfig())
	require.NoError(t, err)
	res, err := a.Analyze(context.Background(), "/data")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, res.Records[0].Digest, res.Records[1].Digest)
}

func TestAnalyze_Filtering(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/keep.txt":              "long enough content",
		"/data/tiny.txt":              "x",
		"/data/debug.log":             "log line content here",
		"/data/node_modules/pkg/a.js": "module.exports = {}",
		"/data/src/node_modules/b.js": "module.exports = {}",
		"/data/docs/readme.md":        "documentation body",
		"/data/.git/objects/ab/cd01":  "packed object data",
	})

	cfg := scanConfig()
	cfg.MinFileSize = 5
	cfg.IgnorePatterns = append(cfg.IgnorePatterns, "*.log")

	a, err := New(fs, cfg)
	require.NoError(t, err)
	res, err := a.Analyze(context.Background(), "/data")
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/docs/readme.md", "/data/keep.txt"}, paths(res.Records))

	tiny := errorFor(res.Errors, "/data/tiny.txt")
	require.NotNil(t, tiny)
	assert.Equal(t, types.ReasonSkipped, tiny.Reason)
	assert.Equal(t, DetailBelowMinSize, tiny.Detail)
	assert.ErrorIs(t, tiny, types.ErrSkipped)

	logErr := errorFor(res.Errors, "/data/debug.log")
	require.NotNil(t, logErr)
	assert.Equal(t, DetailIgnored, logErr.Detail)

	// Pruned directories are not reported file by file
	assert.Nil(t, errorFor(res.Errors, "/data/node_modules/pkg/a.js"))
	assert.Nil(t, errorFor(res.Errors, "/data/.git/objects/ab/cd01"))
}

func TestAnalyze_IncludePatterns(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/a.md":  "markdown content",
		"/data/b.txt": "text content",
		"/data/c.md":  "more markdown",
	})

	cfg := scanConfig()
	cfg.IncludePatterns = []string{"*.md"}
	a, err := New(fs, cfg)
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.md", "/data/c.md"}, paths(res.Records))
	skipped := errorFor(res.Errors, "/data/b.txt")
	require.NotNil(t, skipped)
	assert.Equal(t, DetailNotIncluded, skipped.Detail)
}

func TestAnalyze_BinaryIsOpaque(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/image.bin": "PNG\x00\x01\x02\x03 header bytes",
	})

	a, err := New(fs, scanConfig())
	require.NoError(t, err)
	res, err := a.Analyze(context.Background(), "/data")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.True(t, rec.Opaque)
	assert.Len(t, rec.FeatureVector, DefaultBuckets)
	for _, x := range rec.FeatureVector {
		assert.Zero(t, x)
	}
	assert.False(t, rec.Digest.IsZero())
}

func TestAnalyze_MaxFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/a.txt": "alpha content",
		"/data/b.txt": "bravo content",
		"/data/c.txt": "charlie content",
		"/data/d.log": "delta content",
	})

	cfg := scanConfig()
	cfg.IgnorePatterns = []string{"*.log"}
	cfg.MaxFilesToAnalyze = 2
	a, err := New(fs, cfg)
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.txt", "/data/b.txt"}, paths(res.Records))
	assert.Equal(t, 1, res.Truncated)
}

// failOpenFs fails Open for one path.
type failOpenFs struct {
	afero.Fs
	fail string
}

func (f failOpenFs) Open(name string) (afero.File, error) {
	if name == f.fail {
		return nil, os.ErrPermission
	}
	return f.Fs.Open(name)
}

func TestAnalyze_UnreadableFile(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFiles(t, mem, map[string]string{
		"/data/ok.txt":     "readable content",
		"/data/locked.txt": "secret content",
	})

	a, err := New(failOpenFs{Fs: mem, fail: "/data/locked.txt"}, scanConfig())
	require.NoError(t, err)
	res, err := a.Analyze(context.Background(), "/data")
	require.NoError(t, err, "per-file failures never abort the run")

	assert.Equal(t, []string{"/data/ok.txt"}, paths(res.Records))
	locked := errorFor(res.Errors, "/data/locked.txt")
	require.NotNil(t, locked)
	assert.Equal(t, types.ReasonUnreadable, locked.Reason)
	assert.ErrorIs(t, locked, types.ErrUnreadable)
	assert.ErrorIs(t, locked, os.ErrPermission)
}

func TestAnalyze_MissingRoot(t *testing.T) {
	a, err := New(afero.NewMemMapFs(), scanConfig())
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "/nope")
	assert.Error(t, err)
}

func TestAnalyze_Canceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/data/a.txt": "content"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a, err := New(fs, scanConfig())
	require.NoError(t, err)
	_, err = a.Analyze(ctx, "/data")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAnalyze_Progress(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/a.txt": "alpha content",
		"/data/b.txt": "bravo content",
		"/data/c.txt": "charlie content",
	})

	var calls atomic.Int32
	var lastTotal atomic.Int32
	a, err := New(fs, scanConfig(), WithProgress(func(done, total int) {
		calls.Add(1)
		lastTotal.Store(int32(total))
	}))
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(3), lastTotal.Load())
}

func TestAnalyze_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	target := filepath.Join(root, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("real file content"), 0644))
	external := filepath.Join(outside, "external.txt")
	require.NoError(t, os.WriteFile(external, []byte("outside content"), 0644))

	if err := os.Symlink(target, filepath.Join(root, "inside-link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	require.NoError(t, os.Symlink(external, filepath.Join(root, "outside-link.txt")))
	require.NoError(t, os.Symlink("../"+filepath.Base(outside), filepath.Join(root, "relative-out")))

	a, err := New(afero.NewOsFs(), scanConfig())
	require.NoError(t, err)
	res, err := a.Analyze(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{target}, paths(res.Records))

	inside := errorFor(res.Errors, filepath.Join(root, "inside-link.txt"))
	require.NotNil(t, inside)
	assert.Equal(t, DetailSymlink, inside.Detail)

	out := errorFor(res.Errors, filepath.Join(root, "outside-link.txt"))
	require.NotNil(t, out)
	assert.Equal(t, types.ReasonSkipped, out.Reason)
	assert.Equal(t, DetailSymlinkOutside, out.Detail)

	rel := errorFor(res.Errors, filepath.Join(root, "relative-out"))
	require.NotNil(t, rel)
	assert.Equal(t, DetailSymlinkOutside, rel.Detail)
}

func TestAnalyzeFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/a.txt":          "hello world again",
		"/data/e.txt":          "",
		"/data/debug.log":      "log line one",
		"/data/build/out.txt":  "generated output",
		"/data/notes.md":       "markdown notes here",
		"/elsewhere/stray.txt": "not under the root",
	})

	cfg := scanConfig()
	cfg.IgnorePatterns = []string{"*.log", "build/"}
	cfg.IncludePatterns = []string{"*.txt", "*.log"}
	a, err := New(fs, cfg)
	require.NoError(t, err)

	rec, err := a.AnalyzeFile(context.Background(), "/data", "/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.txt", rec.Path)

	tests := []struct {
		name   string
		path   string
		reason types.ReasonCode
		detail string
	}{
		{"below minimum size", "/data/e.txt", types.ReasonSkipped, DetailBelowMinSize},
		{"ignore pattern", "/data/debug.log", types.ReasonSkipped, DetailIgnored},
		{"inside ignored directory", "/data/build/out.txt", types.ReasonSkipped, DetailIgnored},
		{"not included", "/data/notes.md", types.ReasonSkipped, DetailNotIncluded},
		{"outside root", "/elsewhere/stray.txt", types.ReasonSkipped, DetailOutsideRoot},
		{"directory", "/data", types.ReasonSkipped, DetailNotRegular},
		{"missing", "/data/missing.txt", types.ReasonUnreadable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.AnalyzeFile(context.Background(), "/data", tt.path)
			var fe *types.FileError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.reason, fe.Reason)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, fe.Detail)
			}
		})
	}
}

func TestAnalyzeFile_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	target := filepath.Join(root, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("real file content"), 0644))
	external := filepath.Join(outside, "external.txt")
	require.NoError(t, os.WriteFile(external, []byte("outside content"), 0644))

	inside := filepath.Join(root, "inside-link.txt")
	if err := os.Symlink(target, inside); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	out := filepath.Join(root, "outside-link.txt")
	require.NoError(t, os.Symlink(external, out))

	a, err := New(afero.NewOsFs(), scanConfig())
	require.NoError(t, err)

	_, err = a.AnalyzeFile(context.Background(), root, inside)
	var fe *types.FileError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, DetailSymlink, fe.Detail)

	_, err = a.AnalyzeFile(context.Background(), root, out)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, types.ReasonSkipped, fe.Reason)
	assert.Equal(t, DetailSymlinkOutside, fe.Detail)
}

// fixedExtractor returns a vector of the given length for content "long"
// and of Dimensions() otherwise.
type fixedExtractor struct{ long int }

func (fixedExtractor) Dimensions() int { return 3 }

func (f fixedExtractor) Extract(content []byte) ([]float64, error) {
	if string(content) == "long" {
		return make([]float64, f.long), nil
	}
	return []float64{1, 0, 0}, nil
}

func TestAnalyze_WrongVectorLengthFailsRun(t *testing.T) {
	for _, long := range []int{2, 4} {
		t.Run(fmt.Sprintf("%d dimensions", long), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFiles(t, fs, map[string]string{
				"/data/a.txt":          "short",
				"/data/b.txt":          "long",
			})

			a, err := New(fs, scanConfig(), WithExtractor(fixedExtractor{long: long}))
			require.NoError(t, err)

			_, err = a.Analyze(context.Background(), "/data")
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrHeterogeneousFeatureVector)

			var fe *types.FileError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "/data/b.txt", fe.Path)
			assert.Equal(t, types.ReasonHeterogeneousFeatureVector, fe.Reason)
		})
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	cfg := scanConfig()
	cfg.IgnorePatterns = []string{"re:[unclosed"}
	_, err := New(afero.NewMemMapFs(), cfg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "ignore patterns"))
}
