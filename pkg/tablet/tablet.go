package tablet

import (
	"sync"
	"sync/atomic"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/delta"
	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

// OperationResult reports the outcome of a single-row mutation, per spec
// §4.D "MutateRow ... returns whether the row existed/was a duplicate."
type OperationResult struct {
	AlreadyPresent bool
	NotFound       bool
	Timestamp      common.Timestamp
}

// Tablet ties MemRowSet, DiskRowSets, and their DeltaTrackers together into
// the single mutable unit of spec §4.D: row mutation routing (MRS for
// resident rows, DeltaTracker for on-disk rows), Flush, and merge
// compaction.
type Tablet struct {
	mu       sync.RWMutex
	id       common.ID
	schema   *schema.Schema
	bs       BlockStore
	mrs      *MemRowSet
	rowsets  []*DiskRowSet
	clock    uint64 // monotonic logical MVCC clock, per spec §3 "Timestamp"
	liveRows int64

	TargetRowSetSizeRows int
	WriteBloomFilters    bool
	MaintenancePriority  int32 // per spec §4.F "priority (taken from tablet metadata)"

	stopped int32 // atomic; set by Stop, consulted by maintenance ops deciding fatal vs. tolerable failure
}

func NewTablet(id common.ID, s *schema.Schema, bs BlockStore) *Tablet {
	return &Tablet{
		id:                   id,
		schema:               s,
		bs:                   bs,
		mrs:                  NewMemRowSet(),
		TargetRowSetSizeRows: 1 << 20,
		WriteBloomFilters:    true,
	}
}

// ID returns the tablet's identity, used for maintenance-op tie-breaking
// and logging.
func (t *Tablet) ID() common.ID { return t.id }

// Stop marks the tablet stopped, per spec §7 "maintenance op failures that
// are not the tablet-stopped flag are fatal to the tablet": once set, a
// failed flush/compact/GC is an expected race with shutdown rather than a
// bug.
func (t *Tablet) Stop() { atomic.StoreInt32(&t.stopped, 1) }

// HasBeenStopped reports whether Stop has been called.
func (t *Tablet) HasBeenStopped() bool { return atomic.LoadInt32(&t.stopped) != 0 }

// Priority returns the tablet's maintenance-op tie-break priority.
func (t *Tablet) Priority() int32 { return t.MaintenancePriority }

func (t *Tablet) nextTimestamp() common.Timestamp {
	return common.Timestamp(atomic.AddUint64(&t.clock, 1))
}

// LiveRowCount is the fast-path row count spec §4.D keeps instead of
// scanning every rowset; it is maintained incrementally by every mutation
// below and has no separate stats-based fallback since this module never
// loses the in-memory counter across a restart boundary within one process.
func (t *Tablet) LiveRowCount() int64 { return atomic.LoadInt64(&t.liveRows) }

// encodeColumnValue converts one client-supplied typed Go value into the raw
// on-disk byte form (little-endian truncated uint64 for fixed-width
// columns, verbatim for binary/dict columns) that MemRowSet rows and
// DiskRowSetWriter.AppendEncodedBlock both expect, so a row's bytes never
// need reinterpreting once written.
func encodeColumnValue(col schema.ColumnSchema, v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if isFixedWidth(col) {
		u, err := valueToUint64(col.Type, v)
		if err != nil {
			return nil, err
		}
		return uint64ToRawBytes(u, columnElemSize(col.Type)), nil
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, kuduerr.NewInvalidArgument("column %q expects string/[]byte, got %T", col.Name, v)
	}
}

// InsertRow adds a brand-new row, failing with AlreadyPresent if the key
// already exists anywhere in the tablet (MRS or any DiskRowSet).
func (t *Tablet) InsertRow(values []interface{}) (OperationResult, error) {
	if len(values) != len(t.schema.Columns) {
		return OperationResult{}, kuduerr.NewInvalidArgument("expected %d column values, got %d", len(t.schema.Columns), len(values))
	}
	key, err := EncodeKey(t.schema, values[:t.schema.NumKeyColumns])
	if err != nil {
		return OperationResult{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, found := t.mrs.Lookup(key); found {
		return OperationResult{AlreadyPresent: true}, nil
	}
	for _, rs := range t.rowsets {
		rowID, found, err := rs.FindRowIDByKey(key)
		if err != nil {
			return OperationResult{}, err
		}
		if found {
			deleted, err := rs.Tracker.CheckRowDeleted(rowID)
			if err != nil {
				return OperationResult{}, err
			}
			if !deleted {
				return OperationResult{AlreadyPresent: true}, nil
			}
		}
	}

	cols := make(map[common.ColumnID][]byte, len(t.schema.Columns))
	for i, col := range t.schema.Columns {
		b, err := encodeColumnValue(col, values[i])
		if err != nil {
			return OperationResult{}, err
		}
		cols[col.ID] = b
	}
	ts := t.nextTimestamp()
	if err := t.mrs.Insert(key, cols, ts); err != nil {
		return OperationResult{}, err
	}
	atomic.AddInt64(&t.liveRows, 1)
	return OperationResult{Timestamp: ts}, nil
}

// locate finds key's current owner: either a live MemRowSet row, or a
// (DiskRowSet, RowID) pair. Both results nil/zero and found=false means the
// key is absent.
func (t *Tablet) locate(key []byte) (row *mrsRow, rs *DiskRowSet, rowID common.RowID, found bool, err error) {
	if r, ok := t.mrs.Lookup(key); ok {
		return r, nil, 0, true, nil
	}
	for _, candidate := range t.rowsets {
		id, ok, err := candidate.FindRowIDByKey(key)
		if err != nil {
			return nil, nil, 0, false, err
		}
		if ok {
			return nil, candidate, id, true, nil
		}
	}
	return nil, nil, 0, false, nil
}

// UpdateRow applies column updates to an existing, live row.
func (t *Tablet) UpdateRow(keyValues []interface{}, updates []delta.ColumnUpdate) (OperationResult, error) {
	key, err := EncodeKey(t.schema, keyValues)
	if err != nil {
		return OperationResult{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	row, rs, rowID, found, err := t.locate(key)
	if err != nil {
		return OperationResult{}, err
	}
	if !found {
		return OperationResult{NotFound: true}, nil
	}
	ts := t.nextTimestamp()
	cl := delta.RowChangeList{Type: delta.Update, Updates: updates}
	if row != nil {
		row.ApplyMutation(ts, cl)
		return OperationResult{Timestamp: ts}, nil
	}
	deleted, err := rs.Tracker.CheckRowDeleted(rowID)
	if err != nil {
		return OperationResult{}, err
	}
	if deleted {
		return OperationResult{NotFound: true}, nil
	}
	rs.Tracker.Update(rowID, cl, ts)
	return OperationResult{Timestamp: ts}, nil
}

// DeleteRow marks an existing, live row deleted.
func (t *Tablet) DeleteRow(keyValues []interface{}) (OperationResult, error) {
	key, err := EncodeKey(t.schema, keyValues)
	if err != nil {
		return OperationResult{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	row, rs, rowID, found, err := t.locate(key)
	if err != nil {
		return OperationResult{}, err
	}
	if !found {
		return OperationResult{NotFound: true}, nil
	}
	ts := t.nextTimestamp()
	cl := delta.RowChangeList{Type: delta.Delete}
	if row != nil {
		if row.deleted {
			return OperationResult{NotFound: true}, nil
		}
		row.ApplyMutation(ts, cl)
		atomic.AddInt64(&t.liveRows, -1)
		return OperationResult{Timestamp: ts}, nil
	}
	deleted, err := rs.Tracker.CheckRowDeleted(rowID)
	if err != nil {
		return OperationResult{}, err
	}
	if deleted {
		return OperationResult{NotFound: true}, nil
	}
	rs.Tracker.Update(rowID, cl, ts)
	atomic.AddInt64(&t.liveRows, -1)
	return OperationResult{Timestamp: ts}, nil
}

const maxTimestamp = common.Timestamp(^uint64(0))

// Flush drains the current MemRowSet into a new immutable DiskRowSet (or
// several, if it exceeds TargetRowSetSizeRows), per spec §4.D "Flush:
// snapshot the current MRS, create a new empty MRS, write the snapshot out
// as one or more DiskRowSets."
func (t *Tablet) Flush() ([]*DiskRowSetMeta, error) {
	t.mu.Lock()
	snap := t.mrs.Drain()
	t.mu.Unlock()

	if snap.Len() == 0 {
		return nil, nil
	}

	out := NewRollingDiskRowSetWriter(t.bs, t.schema, t.TargetRowSetSizeRows, t.WriteBloomFilters)
	const batchSize = 256
	batch := make([]EncodedRow, 0, batchSize)
	var flushErr error
	snap.Ascend(func(r *mrsRow) bool {
		cols, deleted := r.Snapshot(maxTimestamp)
		if deleted {
			return true // dropped: never made it to a durable rowset
		}
		values := make([][]byte, len(t.schema.Columns))
		nulls := make([]bool, len(t.schema.Columns))
		for i, col := range t.schema.Columns {
			v, ok := cols[col.ID]
			nulls[i] = !ok || v == nil
			values[i] = v
		}
		batch = append(batch, EncodedRow{Key: r.key, ColValues: values, ColNulls: nulls})
		if len(batch) >= batchSize {
			if err := out.AppendEncodedBlock(batch); err != nil {
				flushErr = err
				return false
			}
			batch = batch[:0]
		}
		return true
	})
	if flushErr != nil {
		return nil, flushErr
	}
	if len(batch) > 0 {
		if err := out.AppendEncodedBlock(batch); err != nil {
			return nil, err
		}
	}

	metas, err := out.Finish()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, meta := range metas {
		rs, err := OpenDiskRowSet(t.bs, t.schema, meta)
		if err != nil {
			return nil, err
		}
		t.rowsets = append(t.rowsets, rs)
	}
	return metas, nil
}

// CompactRowSets merges inputs (a subset of t.rowsets, typically those whose
// key ranges overlap per spec §4.D "pick overlapping DiskRowSets") into a
// fresh, smaller set of DiskRowSets, evaluated at snapshot so concurrently
// deleted rows are dropped rather than carried forward.
func (t *Tablet) CompactRowSets(inputs []*DiskRowSet, snapshot common.Timestamp) ([]*DiskRowSetMeta, error) {
	metas, err := MergeCompact(t.bs, t.schema, inputs, snapshot, t.TargetRowSetSizeRows, t.WriteBloomFilters)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	replaced := make(map[*DiskRowSet]bool, len(inputs))
	for _, rs := range inputs {
		replaced[rs] = true
	}
	kept := t.rowsets[:0:0]
	for _, rs := range t.rowsets {
		if !replaced[rs] {
			kept = append(kept, rs)
		}
	}
	for _, meta := range metas {
		rs, err := OpenDiskRowSet(t.bs, t.schema, meta)
		if err != nil {
			return nil, err
		}
		kept = append(kept, rs)
	}
	t.rowsets = kept
	return metas, nil
}

// RowSets returns a snapshot of the tablet's current DiskRowSet list, for
// maintenance-op scoring and compaction candidate selection.
func (t *Tablet) RowSets() []*DiskRowSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*DiskRowSet(nil), t.rowsets...)
}

// MemRowSetSize reports the current MRS's row count.
func (t *Tablet) MemRowSetSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mrs.Len()
}

// MemRowSetByteSize reports the current MRS's resident byte size, the
// RamAnchoredBytes input to spec §4.F's flush-op scoring.
func (t *Tablet) MemRowSetByteSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mrs.ByteSize()
}
