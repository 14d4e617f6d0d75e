// Package delta implements the DeltaTracker of spec §4.C: an in-memory
// delta memstore, REDO/UNDO delta files, compaction, and ancient-history
// accounting.
// Grounded on original_source/src/kudu/tablet/diskrowset.h.
package delta

import "github.com/kudu-go/kudu/pkg/common"

// Type distinguishes REDO deltas (forward, replayed after the base row) from
// UNDO deltas (backward, replayed before it to reconstruct history).
type Type uint8

const (
	Redo Type = iota
	Undo
)

// Key is a delta's (rowid, timestamp, delta-type) identity, per spec §3
// "Delta key". Ordering is direction-dependent: ascending rowid, then
// descending timestamp for REDO; ascending rowid, then ascending timestamp
// for UNDO.
type Key struct {
	RowID     common.RowID
	Timestamp common.Timestamp
	Type      Type
}

// Less orders a and b per Key's direction-dependent convention. Both keys
// must carry the same Type; DMS and each delta file only ever hold one.
func Less(a, b Key) bool {
	if a.RowID != b.RowID {
		return a.RowID < b.RowID
	}
	if a.Type == Redo {
		return a.Timestamp > b.Timestamp
	}
	return a.Timestamp < b.Timestamp
}
