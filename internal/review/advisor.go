// Package review asks Claude for short advisory notes on duplicate groups
// that fell below the safety threshold. Notes help a human decide; they
// never change whether a group is cleaned up automatically.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/dupescan/internal/types"
)

const (
	// ModelHaiku is fast and cheap, which suits one short note per group
	ModelHaiku = "claude-3-5-haiku-20241022"

	defaultMaxTokens    = 512
	defaultExcerptBytes = 1500
	maxNoteLength       = 500
)

// GetDefaultModel returns the model to use, checking DUPESCAN_REVIEW_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("DUPESCAN_REVIEW_MODEL"); model != "" {
		return model
	}
	return ModelHaiku
}

// messagesAPI is the part of the Anthropic client the advisor uses.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Config configures a ClaudeAdvisor.
type Config struct {
	APIKey string // Falls back to ANTHROPIC_API_KEY
	Model  string // Default: GetDefaultModel()

	MaxTokens int
	Retry     RetryConfig

	// Fs, when set, supplies content excerpts for the prompt
	Fs           afero.Fs
	ExcerptBytes int

	Logger *slog.Logger
}

// ClaudeAdvisor implements engine.Reviewer with the Anthropic Messages API.
type ClaudeAdvisor struct {
	messages  messagesAPI
	model     string
	maxTokens int
	retry     RetryConfig
	sem       *semaphore.Weighted

	fs           afero.Fs
	excerptBytes int

	logger *slog.Logger
}

// noteResponse is the JSON shape the model is asked to return
type noteResponse struct {
	Note string `json:"note"`
}

// NewClaudeAdvisor creates an advisor. It fails without an API key.
func NewClaudeAdvisor(cfg Config) (*ClaudeAdvisor, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newAdvisor(&client.Messages, cfg), nil
}

func newAdvisor(messages messagesAPI, cfg Config) *ClaudeAdvisor {
	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryConfig()
	}
	excerpt := cfg.ExcerptBytes
	if excerpt <= 0 {
		excerpt = defaultExcerptBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &ClaudeAdvisor{
		messages:     messages,
		model:        model,
		maxTokens:    maxTokens,
		retry:        retry,
		sem:          sem,
		fs:           cfg.Fs,
		excerptBytes: excerpt,
		logger:       logger,
	}
}

// Review returns a note per recommendation, keyed by group ID. Automatic
// recommendations are ignored. Groups whose call failed are missing from
// the map and their errors are joined into the returned error.
func (a *ClaudeAdvisor) Review(ctx context.Context, groups []types.DuplicateGroup, recs []types.Recommendation) (map[string]string, error) {
	byID := make(map[string]types.DuplicateGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	var (
		mu    sync.Mutex
		notes = make(map[string]string)
		errs  []error
	)

	// Concurrency is bounded by the semaphore in retryWithBackoff
	var g errgroup.Group
	for _, rec := range recs {
		if rec.Automatic {
			continue
		}
		group, ok := byID[rec.GroupID]
		if !ok {
			continue
		}
		g.Go(func() error {
			note, err := a.Note(ctx, group, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("group %s: %w", rec.GroupID, err))
				return nil
			}
			notes[rec.GroupID] = note
			return nil
		})
	}
	_ = g.Wait()

	return notes, errors.Join(errs...)
}

// Note asks the model what a reviewer should check before resolving the group.
func (a *ClaudeAdvisor) Note(ctx context.Context, group types.DuplicateGroup, rec types.Recommendation) (string, error) {
	prompt := a.buildPrompt(group, rec)

	var response *anthropic.Message
	err := a.retryWithBackoff(ctx, "review-note", func(attemptCtx context.Context) error {
		resp, apiErr := a.messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: int64(a.maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	parsed, err := parseJSON[noteResponse](text.String())
	if err != nil {
		return "", err
	}
	note := strings.TrimSpace(parsed.Note)
	if note == "" {
		return "", fmt.Errorf("response contained an empty note")
	}

	a.logger.Debug("review note received",
		"group_id", group.ID,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)
	return truncate(note, maxNoteLength), nil
}

func (a *ClaudeAdvisor) buildPrompt(group types.DuplicateGroup, rec types.Recommendation) string {
	var b strings.Builder

	b.WriteString("You are helping a person decide whether files flagged as near-duplicates can be cleaned up.\n")
	b.WriteString("The tool keeps one canonical file and removes the others after backing them up.\n")
	b.WriteString("This group scored below the automatic cleanup threshold, so a person will decide.\n\n")

	fmt.Fprintf(&b, "Detection method: %s\n", group.Method)
	fmt.Fprintf(&b, "Similarity: %.3f (confidence %.3f, threshold %.3f)\n", group.Similarity, rec.Confidence, rec.SafetyThreshold)
	fmt.Fprintf(&b, "Bytes that would be reclaimed: %d\n", group.WastedBytes)
	fmt.Fprintf(&b, "Canonical file (kept): %s\n", rec.CanonicalPath)
	fmt.Fprintf(&b, "Canonical chosen because: %s\n", rec.Rationale)
	b.WriteString("Files that would be removed:\n")
	for _, p := range rec.Remove {
		fmt.Fprintf(&b, "  - %s\n", p)
	}

	if a.fs != nil {
		b.WriteString("\nExcerpts:\n")
		paths := append([]string{rec.CanonicalPath}, rec.Remove...)
		for _, p := range paths {
			excerpt, err := a.excerpt(p)
			if err != nil {
				a.logger.Debug("no excerpt for prompt", "path", p, "error", err)
				continue
			}
			fmt.Fprintf(&b, "--- %s ---\n%s\n", p, excerpt)
		}
	}

	b.WriteString("\nIn one or two sentences, say what the reviewer should compare before approving removal ")
	b.WriteString("(for example which sections differ or which copy looks authoritative).\n")
	b.WriteString(`Respond with JSON only: {"note": "..."}`)
	return b.String()
}

// excerpt returns up to excerptBytes of valid UTF-8 from the start of path.
func (a *ClaudeAdvisor) excerpt(path string) (string, error) {
	f, err := a.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, a.excerptBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	buf = buf[:n]
	// Drop a rune cut in half at the boundary
	for len(buf) > 0 && !utf8.Valid(buf) {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}
