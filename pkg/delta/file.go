package delta

import (
	"sort"

	"github.com/kudu-go/kudu/pkg/common"
)

// Stats is the per-file DeltaStats of spec §4.C: min/max timestamp,
// per-column update counters, delete/reinsert counts, and the live-row-count
// delta the file contributes, supplemented from original_source with
// per-column counters (spec §4.N "Supplemented features").
type Stats struct {
	MinTimestamp      common.Timestamp
	MaxTimestamp      common.Timestamp
	ColumnUpdateCount map[common.ColumnID]int64
	DeleteCount       int64
	ReinsertCount     int64
	LiveRowCountDelta int64
}

func newStats() Stats {
	return Stats{ColumnUpdateCount: make(map[common.ColumnID]int64)}
}

func (s *Stats) observe(ts common.Timestamp, cl RowChangeList) {
	if s.MinTimestamp == 0 || ts < s.MinTimestamp {
		s.MinTimestamp = ts
	}
	if ts > s.MaxTimestamp {
		s.MaxTimestamp = ts
	}
	switch cl.Type {
	case Delete:
		s.DeleteCount++
		s.LiveRowCountDelta--
	case Reinsert:
		s.ReinsertCount++
		s.LiveRowCountDelta++
	default:
		for _, u := range cl.Updates {
			s.ColumnUpdateCount[u.ColumnID]++
		}
	}
}

// File is the in-memory representation of an on-disk REDO or UNDO delta
// file: a sorted sequence of (key, change-list) plus its Stats.
type File struct {
	DeltaType Type
	Entries   []Entry
	Stats     Stats
	ByteSize  int64
}

// NewFile sorts entries per typ's ordering and computes Stats in one pass,
// matching spec §4.C's file invariant ("a REDO file's keys sort by
// ascending rowid, then descending timestamp; an UNDO file by ascending
// rowid, then ascending timestamp").
func NewFile(typ Type, entries []Entry) (*File, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i].Key, sorted[j].Key) })

	f := &File{DeltaType: typ, Entries: sorted, Stats: newStats()}
	for _, e := range sorted {
		cl, err := UnmarshalRowChangeList(e.ChangeList)
		if err != nil {
			return nil, err
		}
		f.Stats.observe(e.Key.Timestamp, cl)
		f.ByteSize += int64(len(e.ChangeList))
	}
	return f, nil
}

// ForRow returns every entry in the file for rowID, in the file's stored
// order (which for a fixed rowid is the direction-dependent timestamp
// order NewFile already sorted by). Entries are primarily sorted by rowid,
// so the matching run is located by binary search rather than a full scan.
func (f *File) ForRow(rowID common.RowID) []Entry {
	lo := sort.Search(len(f.Entries), func(i int) bool { return f.Entries[i].Key.RowID >= rowID })
	hi := sort.Search(len(f.Entries), func(i int) bool { return f.Entries[i].Key.RowID > rowID })
	if lo >= hi {
		return nil
	}
	return f.Entries[lo:hi]
}
