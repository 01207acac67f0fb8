package news

import (
	"fmt"
	"sort"
)

type entry struct {
	fp  Fingerprint
	rec Record
}

// Dataset is the in-memory form of the canonical dataset: an ordered,
// fingerprint-keyed collection of records. It is a plain value passed through
// load -> reconcile -> save, never a module-level singleton.
type Dataset struct {
	entries []entry
	index   map[Fingerprint]int
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{index: make(map[Fingerprint]int)}
}

// DatasetFrom builds a dataset from already-canonical records, computing each
// fingerprint. It fails on records that cannot be fingerprinted or on
// duplicate fingerprints, since neither should exist in a persisted snapshot.
func DatasetFrom(records []Record) (*Dataset, error) {
	d := NewDataset()
	for i, rec := range records {
		fp, err := NewFingerprint(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := d.index[fp]; dup {
			return nil, fmt.Errorf("record %d (%s): %w", i, rec.Title, ErrDuplicateInSet)
		}
		d.index[fp] = len(d.entries)
		d.entries = append(d.entries, entry{fp: fp, rec: rec})
	}
	return d, nil
}

// Len returns the number of records in the dataset.
func (d *Dataset) Len() int {
	return len(d.entries)
}

// Contains reports whether the fingerprint is present.
func (d *Dataset) Contains(fp Fingerprint) bool {
	_, ok := d.index[fp]
	return ok
}

// Get returns the record stored under the fingerprint.
func (d *Dataset) Get(fp Fingerprint) (Record, bool) {
	i, ok := d.index[fp]
	if !ok {
		return Record{}, false
	}
	return d.entries[i].rec, true
}

// Records returns a copy of the records in dataset order.
func (d *Dataset) Records() []Record {
	out := make([]Record, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.rec
	}
	return out
}

// Fingerprints returns the fingerprints in dataset order.
func (d *Dataset) Fingerprints() []Fingerprint {
	out := make([]Fingerprint, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.fp
	}
	return out
}

// clone returns a deep enough copy that mutating the result leaves the
// original untouched.
func (d *Dataset) clone() *Dataset {
	c := &Dataset{
		entries: make([]entry, len(d.entries)),
		index:   make(map[Fingerprint]int, len(d.index)),
	}
	copy(c.entries, d.entries)
	for fp, i := range d.index {
		c.index[fp] = i
	}
	return c
}

func (d *Dataset) append(fp Fingerprint, rec Record) {
	d.index[fp] = len(d.entries)
	d.entries = append(d.entries, entry{fp: fp, rec: rec})
}

func (d *Dataset) replace(fp Fingerprint, rec Record) {
	d.entries[d.index[fp]] = entry{fp: fp, rec: rec}
}

// sortCanonical orders records by (agency, published_at) ascending, with the
// fingerprint as a final tie-break so the ordering is deterministic across
// repeated runs on identical input.
func (d *Dataset) sortCanonical() {
	sort.SliceStable(d.entries, func(i, j int) bool {
		a, b := d.entries[i], d.entries[j]
		if a.rec.Agency != b.rec.Agency {
			return a.rec.Agency < b.rec.Agency
		}
		if !a.rec.PublishedAt.Equal(*b.rec.PublishedAt) {
			return a.rec.PublishedAt.Before(*b.rec.PublishedAt)
		}
		return a.fp < b.fp
	})
	for i, e := range d.entries {
		d.index[e.fp] = i
	}
}
