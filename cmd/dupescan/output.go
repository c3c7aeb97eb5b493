package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/steveyegge/dupescan/internal/engine"
	"github.com/steveyegge/dupescan/internal/types"
)

// confirmWord must be typed to remove groups below the safety threshold
const confirmWord = "remove"

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// scanProgress draws the analyze progress bar on a terminal.
type scanProgress struct {
	w       io.Writer
	enabled bool
	bar     *progressbar.ProgressBar
}

func newScanProgress(w io.Writer, enabled bool) *scanProgress {
	if f, ok := w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		enabled = false
	}
	return &scanProgress{w: w, enabled: enabled}
}

func (p *scanProgress) update(done, total int) {
	if !p.enabled || total <= 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Analyzing files[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprintln(p.w); err != nil {
					slog.Warn("failed to write newline after progress bar", "error", err)
				}
			}),
		)
	}
	_ = p.bar.Set(done)
}

// finish completes the bar after a successful scan and clears it otherwise.
func (p *scanProgress) finish(ok bool) {
	if p.bar == nil {
		return
	}
	if ok {
		_ = p.bar.Finish()
		return
	}
	_ = p.bar.Clear()
}

func printReport(w io.Writer, r *engine.Report) {
	s := r.Stats
	fmt.Fprintf(w, "\n%s\n", cyan("=== Duplicate Scan ==="))
	fmt.Fprintf(w, "Run:       %s\n", r.RunID)
	fmt.Fprintf(w, "Root:      %s\n", r.Root)
	fmt.Fprintf(w, "Files:     %d analyzed, %d skipped, %d unreadable\n",
		s.FilesAnalyzed, s.FilesSkipped, s.FilesUnreadable)
	if s.Truncated > 0 {
		fmt.Fprintf(w, "           %s\n", yellow(fmt.Sprintf("%d files not analyzed (max files reached)", s.Truncated)))
	}
	fmt.Fprintf(w, "Groups:    %d (%d exact, %d statistical, %d ml-cluster)\n",
		s.Groups, s.ExactGroups, s.StatisticalGroups, s.ClusterGroups)
	fmt.Fprintf(w, "Decisions: %s automatic, %s need review\n",
		green(s.Automatic), yellow(s.Manual))
	fmt.Fprintf(w, "Wasted:    %s\n", formatBytes(s.WastedBytes))

	if r.ClusteringErr != nil {
		fmt.Fprintf(w, "%s clustering skipped: %v\n", yellow("!"), r.ClusteringErr)
	}
	if r.ReviewErr != nil {
		fmt.Fprintf(w, "%s some review notes are missing: %v\n", yellow("!"), r.ReviewErr)
	}

	for i, rec := range r.Recommendations {
		g := r.Groups[i]
		status := green("automatic")
		if !rec.Automatic {
			status = yellow("needs review")
		}
		fmt.Fprintf(w, "\n%s %s  %s  similarity %.3f  confidence %.3f  %s\n",
			cyan(fmt.Sprintf("[%d]", i+1)), g.Method, status, g.Similarity, rec.Confidence, formatBytes(g.WastedBytes))
		fmt.Fprintf(w, "  keep   %s %s\n", rec.CanonicalPath, gray("("+rec.Rationale+")"))
		for _, p := range rec.Remove {
			fmt.Fprintf(w, "  remove %s\n", p)
		}
		if rec.ReviewNote != "" {
			fmt.Fprintf(w, "  note   %s\n", rec.ReviewNote)
		}
	}

	if len(r.GroupErrors) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Reference check failed, canonical chosen by modification time:"))
		for _, ge := range r.GroupErrors {
			fmt.Fprintf(w, "  %v\n", ge)
		}
	}
	if len(r.FileErrors) > 0 {
		unreadable := 0
		for _, fe := range r.FileErrors {
			if fe.Reason != types.ReasonSkipped {
				unreadable++
				slog.Debug("file not analyzed", "path", fe.Path, "reason", fe.Reason, "detail", fe.Detail)
			}
		}
		if unreadable > 0 {
			fmt.Fprintf(w, "\n%s %d files could not be read (use --log-level debug for details)\n", yellow("!"), unreadable)
		}
	}
}

func printExecution(w io.Writer, res types.ExecutionResult) {
	fmt.Fprintln(w)
	if res.Mode == types.ModeDryRun {
		fmt.Fprintf(w, "%s\n", cyan("=== Dry Run ==="))
		fmt.Fprintf(w, "Would clean up %d groups, reclaiming %s\n",
			len(res.WouldApplyGroupIDs), formatBytes(res.BytesReclaimable))
		if n := len(res.NeedsConfirmationGroupIDs); n > 0 {
			fmt.Fprintf(w, "%s %d of them need confirmation when applied\n", yellow("!"), n)
		}
		if len(res.AlreadyResolvedGroupIDs) > 0 {
			fmt.Fprintf(w, "Already resolved: %d groups\n", len(res.AlreadyResolvedGroupIDs))
		}
		fmt.Fprintf(w, "%s\n", gray("Nothing was changed. Re-run with --apply to back up and remove files."))
	} else {
		fmt.Fprintf(w, "%s\n", cyan("=== Cleanup ==="))
		fmt.Fprintf(w, "%s Cleaned up %d groups, saved %s\n",
			green("✓"), len(res.AppliedGroupIDs), formatBytes(res.BytesSaved))
		if len(res.AlreadyResolvedGroupIDs) > 0 {
			fmt.Fprintf(w, "Already resolved: %d groups\n", len(res.AlreadyResolvedGroupIDs))
		}
		if len(res.BackupPaths) > 0 {
			fmt.Fprintf(w, "Backups:   %d files (restore with: dupescan restore %s)\n", len(res.BackupPaths), res.RunID)
		}
	}

	if len(res.SkippedGroupIDs) > 0 {
		fmt.Fprintf(w, "Skipped:   %s\n", yellow(fmt.Sprintf("%d groups", len(res.SkippedGroupIDs))))
		for _, ge := range res.Errors {
			fmt.Fprintf(w, "  %s %s\n", yellow("-"), ge.Error())
		}
	}
}

// confirmManual lists the manual groups and asks for the confirmation word.
// Anything else, including Ctrl+C or EOF, declines.
func confirmManual(w io.Writer, manual []types.Recommendation) bool {
	files := 0
	fmt.Fprintf(w, "\n%s\n", yellow("The following groups are below the safety threshold:"))
	for _, rec := range manual {
		fmt.Fprintf(w, "  keep %s (confidence %.3f)\n", rec.CanonicalPath, rec.Confidence)
		for _, p := range rec.Remove {
			fmt.Fprintf(w, "    remove %s\n", p)
			files++
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("Type %q to remove %d files from %d groups: ", confirmWord, files, len(manual)),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          w,
	})
	if err != nil {
		slog.Warn("cannot read confirmation", "error", err)
		return false
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		if !errors.Is(err, readline.ErrInterrupt) && !errors.Is(err, io.EOF) {
			slog.Warn("cannot read confirmation", "error", err)
		}
		return false
	}
	return strings.TrimSpace(line) == confirmWord
}

// formatBytes renders n with a binary unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
