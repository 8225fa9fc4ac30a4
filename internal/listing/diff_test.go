package listing

import (
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"
)

func makeRecord(id string, priceCents int64) Record {
	r := Record{
		ExternalID: id,
		Title:      "Flat " + id,
		PriceCents: priceCents,
		Currency:   "EUR",
		Location:   "Ogre",
		PostedAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		URL:        "https://example.test/msg/" + id,
	}
	r.ContentHash = r.Hash()
	return r
}

func TestHashDeterministic(t *testing.T) {
	a := makeRecord("msg-1", 4500000)
	b := makeRecord("msg-1", 4500000)
	if a.ContentHash != b.ContentHash {
		t.Errorf("hash not deterministic: %s vs %s", a.ContentHash, b.ContentHash)
	}

	c := makeRecord("msg-1", 4600000)
	if a.ContentHash == c.ContentHash {
		t.Error("hash did not change with price")
	}
}

func TestComputeDiff_FirstRun(t *testing.T) {
	current := []Record{makeRecord("b", 200), makeRecord("a", 100)}

	diff := ComputeDiff(nil, current)

	if len(diff.Added) != 2 || len(diff.Removed) != 0 || len(diff.Changed) != 0 {
		t.Fatalf("first run diff = %s, want all added", diff)
	}
	if diff.Added[0].ExternalID != "a" || diff.Added[1].ExternalID != "b" {
		t.Errorf("added not ordered by ID: %v", diff.Added)
	}
	if diff.Empty() {
		t.Error("diff with additions must not be empty")
	}
}

func TestComputeDiff_Unchanged(t *testing.T) {
	records := []Record{makeRecord("a", 100), makeRecord("b", 200)}
	prev := &Snapshot{TaskName: "ogre", Records: records}

	diff := ComputeDiff(prev, records)

	if !diff.Empty() {
		t.Errorf("diff of identical sets = %s, want empty", diff)
	}
	if diff.Unchanged != 2 {
		t.Errorf("unchanged = %d, want 2", diff.Unchanged)
	}
}

// Ten prior listings; the new fetch returns nine of them (one with a new
// price) plus two new ones. One listing disappeared.
func TestComputeDiff_OgreScenario(t *testing.T) {
	var prevRecords []Record
	for i := range 10 {
		prevRecords = append(prevRecords, makeRecord(fmt.Sprintf("msg-%02d", i), int64(1000+i)))
	}
	prev := &Snapshot{TaskName: "ogre", Records: prevRecords}

	var current []Record
	// msg-00 dropped, msg-01..msg-09 kept, msg-05 repriced.
	for i := 1; i < 10; i++ {
		price := int64(1000 + i)
		if i == 5 {
			price = 9999
		}
		current = append(current, makeRecord(fmt.Sprintf("msg-%02d", i), price))
	}
	current = append(current, makeRecord("msg-10", 2000), makeRecord("msg-11", 2100))

	diff := ComputeDiff(prev, current)

	added, removed, changed := diff.Counts()
	if added != 2 || removed != 1 || changed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/1/1", added, removed, changed)
	}
	if diff.Unchanged != 8 {
		t.Errorf("unchanged = %d, want 8", diff.Unchanged)
	}
	if diff.Removed[0].ExternalID != "msg-00" {
		t.Errorf("removed = %s, want msg-00", diff.Removed[0].ExternalID)
	}
	if diff.Changed[0].New.ExternalID != "msg-05" {
		t.Errorf("changed = %s, want msg-05", diff.Changed[0].New.ExternalID)
	}
	if diff.Changed[0].Old.PriceCents == diff.Changed[0].New.PriceCents {
		t.Error("changed entry carries identical prices")
	}
}

func TestApplyDiff_RoundTrip(t *testing.T) {
	var prevRecords []Record
	for i := range 6 {
		prevRecords = append(prevRecords, makeRecord(fmt.Sprintf("msg-%d", i), int64(100*i)))
	}
	prev := &Snapshot{TaskName: "ogre", Records: prevRecords}

	current := []Record{
		makeRecord("msg-1", 100),
		makeRecord("msg-2", 777), // repriced
		makeRecord("msg-4", 400),
		makeRecord("msg-5", 500),
		makeRecord("msg-9", 900), // new
	}

	diff := ComputeDiff(prev, current)
	rebuilt := ApplyDiff(prev, diff)

	want := append([]Record(nil), current...)
	sort.Slice(want, func(i, j int) bool { return want[i].ExternalID < want[j].ExternalID })

	if !reflect.DeepEqual(rebuilt, want) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", rebuilt, want)
	}
}

func TestApplyDiff_FirstRun(t *testing.T) {
	current := []Record{makeRecord("a", 1), makeRecord("b", 2)}
	diff := ComputeDiff(nil, current)
	rebuilt := ApplyDiff(nil, diff)
	if !reflect.DeepEqual(rebuilt, current) {
		t.Errorf("round trip from empty baseline mismatch: %v", rebuilt)
	}
}
