package report

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkalnins/sswatch/internal/listing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleDiff() listing.Diff {
	return listing.Diff{
		Added: []listing.Record{
			{ExternalID: "abc11", Title: "3 rooms, Parka iela", PriceCents: 4500000, Currency: "EUR", Location: "Ogre", URL: "https://example.test/msg/abc11.html"},
		},
		Removed: []listing.Record{
			{ExternalID: "def22", Title: "1 room, Skolas iela", PriceCents: 2100000, Currency: "EUR", Location: "Ogre"},
		},
		Changed: []listing.Change{
			{
				Old: listing.Record{ExternalID: "ghi33", Title: "2 rooms, Brīvības iela", PriceCents: 3150000, Currency: "EUR"},
				New: listing.Record{ExternalID: "ghi33", Title: "2 rooms, Brīvības iela", PriceCents: 3300000, Currency: "EUR", URL: "https://example.test/msg/ghi33.html"},
			},
		},
		Unchanged: 8,
	}
}

func TestRenderDeterministic(t *testing.T) {
	diff := sampleDiff()
	first := Render("ogre", "run-1", diff)
	second := Render("ogre", "run-1", diff)
	if first != second {
		t.Error("identical inputs produced different report content")
	}
}

func TestRenderSections(t *testing.T) {
	content := Render("ogre", "run-1", sampleDiff())

	for _, want := range []string{
		`Listing report for task "ogre" (run run-1)`,
		"NEW (1)",
		"GONE (1)",
		"CHANGED (1)",
		"[abc11] 3 rooms, Parka iela - 45000.00 EUR - Ogre",
		"https://example.test/msg/abc11.html",
		"price 31500.00 EUR -> 33000.00 EUR",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("report missing %q\n%s", want, content)
		}
	}
}

func TestRenderEmptyDiff(t *testing.T) {
	content := Render("ogre", "run-9", listing.Diff{Unchanged: 12})
	if !strings.Contains(content, "No changes since the previous run.") {
		t.Errorf("empty diff should still render a minimal report, got:\n%s", content)
	}
	if strings.Contains(content, "NEW") || strings.Contains(content, "GONE") {
		t.Error("empty diff report should not contain change sections")
	}
}

func TestBuildWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir, testLogger())

	artifact, err := b.Build("ogre", "run-1", sampleDiff())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantPath := filepath.Join(dir, "ogre-run-1.txt")
	if artifact.Path != wantPath {
		t.Errorf("path = %q, want %q", artifact.Path, wantPath)
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if int64(len(data)) != artifact.Size {
		t.Errorf("Size = %d, file has %d bytes", artifact.Size, len(data))
	}
	if artifact.Summary != "ogre: 1 new, 1 gone, 1 changed" {
		t.Errorf("unexpected summary %q", artifact.Summary)
	}
}

func TestBuildEmptyDiffSummary(t *testing.T) {
	b := NewBuilder(t.TempDir(), testLogger())
	artifact, err := b.Build("jelgava", "run-2", listing.Diff{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if artifact.Summary != "jelgava: no changes" {
		t.Errorf("unexpected summary %q", artifact.Summary)
	}
	if artifact.Size == 0 {
		t.Error("empty diff should still produce a non-empty artifact")
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir, testLogger())

	old := filepath.Join(dir, "ogre-old.txt")
	if err := os.WriteFile(old, []byte("stale"), 0o640); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(dir, "ogre-new.txt")
	if err := os.WriteFile(fresh, []byte("fresh"), 0o640); err != nil {
		t.Fatal(err)
	}

	removed, err := b.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale report should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh report should have been kept")
	}
}
