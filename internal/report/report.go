// Package report renders a snapshot diff into a plain-text artifact
// retained on disk for audit and attached to notifications.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mkalnins/sswatch/internal/listing"
)

// Artifact is a generated report file, handed to the notifier by path.
type Artifact struct {
	Path    string
	Size    int64
	Summary string
	// Diff is the delta the artifact was rendered from; the notifier
	// uses it for its suppression decision.
	Diff listing.Diff
}

// Builder writes report artifacts under a fixed directory.
type Builder struct {
	dir    string
	logger *slog.Logger
}

// NewBuilder creates a Builder rooted at dir.
func NewBuilder(dir string, logger *slog.Logger) *Builder {
	return &Builder{
		dir:    dir,
		logger: logger.With(slog.String("component", "report-builder")),
	}
}

// Build renders the diff and writes `<task>-<runID>.txt`. The content is
// a pure function of task name, run id, and diff, so identical inputs
// produce identical artifacts.
func (b *Builder) Build(taskName, runID string, diff listing.Diff) (*Artifact, error) {
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	content := Render(taskName, runID, diff)
	path := filepath.Join(b.dir, fmt.Sprintf("%s-%s.txt", taskName, runID))
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return nil, fmt.Errorf("writing report artifact: %w", err)
	}

	artifact := &Artifact{
		Path:    path,
		Size:    int64(len(content)),
		Summary: summarize(taskName, diff),
		Diff:    diff,
	}
	b.logger.Debug("report written",
		slog.String("task", taskName),
		slog.String("path", path),
		slog.Int64("bytes", artifact.Size),
	)
	return artifact, nil
}

// Render produces the report text. Exported for golden-file tests.
func Render(taskName, runID string, diff listing.Diff) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Listing report for task %q (run %s)\n", taskName, runID)
	fmt.Fprintf(&sb, "%s\n", diff.String())
	sb.WriteString("\n")

	if diff.Empty() {
		sb.WriteString("No changes since the previous run.\n")
		return sb.String()
	}

	if len(diff.Added) > 0 {
		fmt.Fprintf(&sb, "NEW (%d)\n", len(diff.Added))
		for _, r := range diff.Added {
			writeRecord(&sb, r)
		}
		sb.WriteString("\n")
	}

	if len(diff.Changed) > 0 {
		fmt.Fprintf(&sb, "CHANGED (%d)\n", len(diff.Changed))
		for _, c := range diff.Changed {
			fmt.Fprintf(&sb, "  [%s] %s\n", c.New.ExternalID, c.New.Title)
			if c.Old.PriceCents != c.New.PriceCents {
				fmt.Fprintf(&sb, "      price %s -> %s\n",
					formatPrice(c.Old.PriceCents, c.Old.Currency),
					formatPrice(c.New.PriceCents, c.New.Currency))
			}
			if c.New.URL != "" {
				fmt.Fprintf(&sb, "      %s\n", c.New.URL)
			}
		}
		sb.WriteString("\n")
	}

	if len(diff.Removed) > 0 {
		fmt.Fprintf(&sb, "GONE (%d)\n", len(diff.Removed))
		for _, r := range diff.Removed {
			writeRecord(&sb, r)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Prune removes report artifacts whose modification time is older than
// maxAge. Unreadable entries are skipped, not fatal.
func (b *Builder) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading report directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, entry.Name())); err != nil {
			b.logger.Warn("failed to prune report", slog.String("name", entry.Name()), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		b.logger.Info("pruned old reports", slog.Int("count", removed))
	}
	return removed, nil
}

func writeRecord(sb *strings.Builder, r listing.Record) {
	fmt.Fprintf(sb, "  [%s] %s", r.ExternalID, r.Title)
	if r.PriceCents >= 0 {
		fmt.Fprintf(sb, " - %s", formatPrice(r.PriceCents, r.Currency))
	}
	if r.Location != "" {
		fmt.Fprintf(sb, " - %s", r.Location)
	}
	sb.WriteString("\n")
	if r.URL != "" {
		fmt.Fprintf(sb, "      %s\n", r.URL)
	}
}

func summarize(taskName string, diff listing.Diff) string {
	if diff.Empty() {
		return fmt.Sprintf("%s: no changes", taskName)
	}
	return fmt.Sprintf("%s: %d new, %d gone, %d changed",
		taskName, len(diff.Added), len(diff.Removed), len(diff.Changed))
}

func formatPrice(cents int64, currency string) string {
	if cents < 0 {
		return "n/a"
	}
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if currency != "" {
		s += " " + currency
	}
	return s
}
