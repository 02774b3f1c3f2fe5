package metrics

import (
	"sort"
	"time"
)

// Snapshot is an immutable view of the latest sample per kind.
type Snapshot struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Entries   []Entry   `json:"entries"`
}

// NewSnapshot builds a snapshot from per-kind entries. Empty samples are
// dropped so absent hardware never shows up as a zero reading.
func NewSnapshot(seq uint64, ts time.Time, latest map[Kind]Entry) Snapshot {
	entries := make([]Entry, 0, len(latest))
	for kind, entry := range latest {
		if entry.Sample.Empty() {
			continue
		}
		entry.Kind = kind
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Kind.order() < entries[j].Kind.order()
	})
	return Snapshot{Seq: seq, Timestamp: ts, Entries: entries}
}

// Get returns the entry for kind if present.
func (s Snapshot) Get(kind Kind) (Entry, bool) {
	for _, entry := range s.Entries {
		if entry.Kind == kind {
			return entry, true
		}
	}
	return Entry{}, false
}

// Has reports whether kind is present.
func (s Snapshot) Has(kind Kind) bool {
	_, ok := s.Get(kind)
	return ok
}

// Select returns a copy containing only the given kinds, in the given order.
// Duplicate and absent kinds are skipped.
func (s Snapshot) Select(kinds []Kind) Snapshot {
	out := Snapshot{Seq: s.Seq, Timestamp: s.Timestamp, Entries: make([]Entry, 0, len(kinds))}
	seen := make(map[Kind]struct{}, len(kinds))
	for _, kind := range kinds {
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		if entry, ok := s.Get(kind); ok {
			out.Entries = append(out.Entries, entry)
		}
	}
	return out
}
