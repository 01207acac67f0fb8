package news

import "fmt"

// MergeStats summarizes what a reconciliation did.
type MergeStats struct {
	New     int
	Skipped int
	Updated int
}

// Changed reports whether the merge altered the dataset.
func (s MergeStats) Changed() bool {
	return s.New > 0 || s.Updated > 0
}

// Reconcile merges a batch of incoming records into the existing canonical
// dataset using the fingerprint as the join key.
//
// New fingerprints are always appended. Seen fingerprints are dropped under
// PolicySkip or replace the stored record under PolicyOverwrite; overwrite
// never re-mints identity. Duplicate fingerprints within the incoming batch
// resolve to the last occurrence. The merged result is sorted by
// (agency, published_at) ascending.
//
// Reconcile is computed entirely in memory and is transactional from the
// caller's point of view: either the whole merged dataset is returned, or an
// error is returned and existing is untouched. Callers must validate and
// exclude unfingerprintable records beforehand; encountering one here is an
// error, not a silent drop.
func Reconcile(existing *Dataset, incoming []Record, policy MergePolicy) (*Dataset, MergeStats, error) {
	stats := MergeStats{}
	if existing == nil {
		existing = NewDataset()
	}

	// Collapse in-batch duplicates first, keeping the last occurrence but the
	// first occurrence's position, so batch order stays meaningful.
	order := make([]Fingerprint, 0, len(incoming))
	latest := make(map[Fingerprint]Record, len(incoming))
	for i, rec := range incoming {
		fp, err := NewFingerprint(rec)
		if err != nil {
			return nil, MergeStats{}, fmt.Errorf("reconcile incoming record %d: %w", i, err)
		}
		if _, seen := latest[fp]; !seen {
			order = append(order, fp)
		}
		latest[fp] = rec
	}

	merged := existing.clone()
	for _, fp := range order {
		rec := latest[fp]
		if !merged.Contains(fp) {
			merged.append(fp, rec)
			stats.New++
			continue
		}
		switch policy {
		case PolicyOverwrite:
			merged.replace(fp, rec)
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	merged.sortCanonical()
	return merged, stats, nil
}
