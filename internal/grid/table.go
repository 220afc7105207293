package grid

import "go.uber.org/zap"

// Record is one observed/predicted sample from a dataset.
type Record struct {
	Label     string `json:"grid_label,omitempty"`
	Coord     Coord  `json:"coord"`
	Actual    bool   `json:"actual"`
	Predicted bool   `json:"predicted"`
}

// Classification returns the record's classification.
func (r Record) Classification() Classification {
	return Classify(r.Actual, r.Predicted)
}

// Table maps cell keys to records. It is read-only once built, so concurrent
// lookups need no locking.
type Table struct {
	index      Index
	entries    map[Key]Record
	duplicates int
}

// Build snaps every record into idx and inserts it. When two records share a
// key the later one wins; records are never aggregated.
func Build(idx Index, records []Record) *Table {
	t := &Table{
		index:   idx,
		entries: make(map[Key]Record, len(records)),
	}
	for _, r := range records {
		k := idx.Snap(r.Coord)
		if _, ok := t.entries[k]; ok {
			t.duplicates++
		}
		t.entries[k] = r
	}
	if t.duplicates > 0 {
		zap.L().Debug("grid: duplicate keys overwritten",
			zap.Int("duplicates", t.duplicates),
			zap.Int("cells", len(t.entries)),
		)
	}
	return t
}

// Index returns the quantizer the table was built with.
func (t *Table) Index() Index {
	return t.index
}

// Len returns the number of distinct cells.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Duplicates returns how many records were overwritten during Build.
func (t *Table) Duplicates() int {
	if t == nil {
		return 0
	}
	return t.duplicates
}

// Lookup returns the record stored under k.
func (t *Table) Lookup(k Key) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	r, ok := t.entries[k]
	return r, ok
}

// Classify returns the classification of k, TrueNegative when absent.
func (t *Table) Classify(k Key) Classification {
	r, ok := t.Lookup(k)
	if !ok {
		return TrueNegative
	}
	return r.Classification()
}

// ClassifyCoord snaps c with the table's index and classifies it.
func (t *Table) ClassifyCoord(c Coord) Classification {
	if t == nil {
		return TrueNegative
	}
	return t.Classify(t.index.Snap(c))
}

// Aggregate counts the classifications of keys.
func (t *Table) Aggregate(keys []Key) Counts {
	counts := make(Counts)
	for _, k := range keys {
		counts[t.Classify(k)]++
	}
	return counts
}

// Summary counts every cell in the table.
func (t *Table) Summary() Counts {
	counts := make(Counts)
	if t == nil {
		return counts
	}
	for _, r := range t.entries {
		counts[r.Classification()]++
	}
	return counts
}
