// Package listing defines the scraped listing record model, content
// hashing, and snapshot comparison.
package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Record is one scraped listing in normalized form.
type Record struct {
	// ExternalID is the source site's stable identifier for the listing,
	// unique within one task's snapshot.
	ExternalID string    `json:"external_id"`
	Title      string    `json:"title"`
	// PriceCents is the asking price in minor currency units. Negative
	// means the price could not be parsed from the source.
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency,omitempty"`
	Location   string    `json:"location,omitempty"`
	PostedAt   time.Time `json:"posted_at,omitempty"`
	URL        string    `json:"url"`
	// ContentHash is deterministic over the normalized fields above.
	// Store persists it; Diff compares it.
	ContentHash string `json:"content_hash"`
}

// Hash computes the deterministic content hash over the normalized fields.
// The external ID and URL participate so that a relisted item under a new
// ID is never mistaken for the old one.
func (r Record) Hash() string {
	var b strings.Builder
	b.WriteString(r.ExternalID)
	b.WriteByte(0)
	b.WriteString(r.Title)
	b.WriteByte(0)
	fmt.Fprintf(&b, "%d", r.PriceCents)
	b.WriteByte(0)
	b.WriteString(r.Currency)
	b.WriteByte(0)
	b.WriteString(r.Location)
	b.WriteByte(0)
	if !r.PostedAt.IsZero() {
		b.WriteString(r.PostedAt.UTC().Format(time.RFC3339))
	}
	b.WriteByte(0)
	b.WriteString(r.URL)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Snapshot is the full set of records for a task at a point in time.
type Snapshot struct {
	TaskName string
	RunID    string
	TakenAt  time.Time
	Records  []Record
}

// Change pairs the previous and current versions of a modified record.
type Change struct {
	Old Record `json:"old"`
	New Record `json:"new"`
}

// Diff is the delta between two snapshots of the same task.
type Diff struct {
	Added   []Record `json:"added"`
	Removed []Record `json:"removed"`
	Changed []Change `json:"changed"`
	// Unchanged is the count of overlapping records whose hash did not move.
	Unchanged int `json:"unchanged"`
}

// Empty reports whether the diff carries no additions, removals, or changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Counts returns the added/removed/changed totals.
func (d Diff) Counts() (added, removed, changed int) {
	return len(d.Added), len(d.Removed), len(d.Changed)
}

// String summarizes the diff for logs and report headers.
func (d Diff) String() string {
	return fmt.Sprintf("added=%d removed=%d changed=%d unchanged=%d",
		len(d.Added), len(d.Removed), len(d.Changed), d.Unchanged)
}
