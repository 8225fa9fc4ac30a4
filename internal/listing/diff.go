package listing

import "sort"

// ComputeDiff compares the last persisted snapshot against freshly
// extracted records. A nil previous snapshot is the first run for the
// task: every current record is reported as added.
//
// Comparison is by external ID; overlapping IDs with differing content
// hashes are reported as changed. The result is ordered by external ID
// so that reports built from the same inputs are byte-identical.
func ComputeDiff(prev *Snapshot, current []Record) Diff {
	var diff Diff

	prevByID := make(map[string]Record)
	if prev != nil {
		for _, r := range prev.Records {
			prevByID[r.ExternalID] = r
		}
	}

	currentIDs := make(map[string]struct{}, len(current))
	for _, cur := range current {
		currentIDs[cur.ExternalID] = struct{}{}
		old, ok := prevByID[cur.ExternalID]
		switch {
		case !ok:
			diff.Added = append(diff.Added, cur)
		case old.ContentHash != cur.ContentHash:
			diff.Changed = append(diff.Changed, Change{Old: old, New: cur})
		default:
			diff.Unchanged++
		}
	}

	for id, old := range prevByID {
		if _, ok := currentIDs[id]; !ok {
			diff.Removed = append(diff.Removed, old)
		}
	}

	sort.Slice(diff.Added, func(i, j int) bool {
		return diff.Added[i].ExternalID < diff.Added[j].ExternalID
	})
	sort.Slice(diff.Removed, func(i, j int) bool {
		return diff.Removed[i].ExternalID < diff.Removed[j].ExternalID
	})
	sort.Slice(diff.Changed, func(i, j int) bool {
		return diff.Changed[i].New.ExternalID < diff.Changed[j].New.ExternalID
	})

	return diff
}

// ApplyDiff reconstructs the current record set from a previous snapshot
// plus the diff that ComputeDiff produced from it. Output is ordered by
// external ID. ComputeDiff and ApplyDiff round-trip.
func ApplyDiff(prev *Snapshot, diff Diff) []Record {
	byID := make(map[string]Record)
	if prev != nil {
		for _, r := range prev.Records {
			byID[r.ExternalID] = r
		}
	}
	for _, r := range diff.Removed {
		delete(byID, r.ExternalID)
	}
	for _, c := range diff.Changed {
		byID[c.New.ExternalID] = c.New
	}
	for _, r := range diff.Added {
		byID[r.ExternalID] = r
	}

	out := make([]Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}
