package tablet

import (
	"sync"

	"github.com/google/btree"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/delta"
	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// mutationRecord is one link of a row's mutation chain, per spec §3
// "MemRowSet ... a running mutation list per row (a linked chain of
// (timestamp, RowChangeList) records)".
type mutationRecord struct {
	Timestamp common.Timestamp
	ChangeList delta.RowChangeList
}

// mrsRow is one row's in-memory state: a full live column snapshot plus the
// chain of mutations applied since insert.
type mrsRow struct {
	mu        sync.Mutex
	key       []byte
	insert    map[common.ColumnID][]byte // nil value: column is NULL
	mutations []mutationRecord
	deleted   bool
}

func (r *mrsRow) Less(than btree.Item) bool {
	return string(r.key) < string(than.(*mrsRow).key)
}

// MemRowSet is the in-memory ordered index from primary key to row, per
// spec §3 "MemRowSet": rows and mutations live in a per-MRS arena,
// destroyed only after a flush has durably committed. The arena ownership
// is modeled here as "rows stay reachable via the tree until Flush drains
// it", per the teacher's per-job ownership convention rather than a manual
// arena allocator, which Go's GC makes unnecessary.
type MemRowSet struct {
	mu    sync.RWMutex
	tree  *btree.BTree
	bytes int64 // sum of key + column value bytes live in the tree, for flush-op scoring
}

func NewMemRowSet() *MemRowSet {
	return &MemRowSet{tree: btree.New(32)}
}

func (m *MemRowSet) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

// ByteSize estimates the MRS's resident size, the RamAnchoredBytes input to
// spec §4.F's flush scoring. It sums key and column-value bytes, skipping
// per-row/tree overhead as the original's approximate accounting also does.
func (m *MemRowSet) ByteSize() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

func rowByteSize(key []byte, cols map[common.ColumnID][]byte) int64 {
	n := int64(len(key))
	for _, v := range cols {
		n += int64(len(v))
	}
	return n
}

// Lookup finds the row for key, or (nil, false).
func (m *MemRowSet) Lookup(key []byte) (*mrsRow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item := m.tree.Get(&mrsRow{key: key})
	if item == nil {
		return nil, false
	}
	return item.(*mrsRow), true
}

// Insert adds a brand-new row, failing if key already exists (callers must
// check Lookup first per spec §4.D's MutateRow sequencing, but Insert
// itself stays defensive).
func (m *MemRowSet) Insert(key []byte, cols map[common.ColumnID][]byte, ts common.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tree.Get(&mrsRow{key: key}) != nil {
		return kuduerr.NewAlreadyPresent("key already present in MemRowSet")
	}
	row := &mrsRow{key: append([]byte(nil), key...), insert: cols}
	m.tree.ReplaceOrInsert(row)
	m.bytes += rowByteSize(key, cols)
	return nil
}

// ApplyMutation appends a mutation record to the row's chain under its own
// lock, letting readers proceed concurrently against other rows.
func (r *mrsRow) ApplyMutation(ts common.Timestamp, cl delta.RowChangeList) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, mutationRecord{Timestamp: ts, ChangeList: cl})
	switch cl.Type {
	case delta.Delete:
		r.deleted = true
	case delta.Reinsert:
		r.deleted = false
	}
}

// Snapshot materializes the row's columns as of ts by replaying its
// mutation chain over the insert state, in timestamp order.
func (r *mrsRow) Snapshot(ts common.Timestamp) (cols map[common.ColumnID][]byte, deleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cols = make(map[common.ColumnID][]byte, len(r.insert))
	for k, v := range r.insert {
		cols[k] = v
	}
	for _, m := range r.mutations {
		if m.Timestamp > ts {
			continue
		}
		switch m.ChangeList.Type {
		case delta.Delete:
			deleted = true
		case delta.Reinsert:
			deleted = false
		default:
			for _, u := range m.ChangeList.Updates {
				if u.Null {
					cols[u.ColumnID] = nil
				} else {
					cols[u.ColumnID] = u.Value
				}
			}
		}
	}
	return cols, deleted
}

// Ascend visits every row in key order, for flush/compaction streaming.
func (m *MemRowSet) Ascend(visit func(*mrsRow) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.tree.Ascend(func(it btree.Item) bool {
		return visit(it.(*mrsRow))
	})
}

// Drain atomically detaches the current tree, leaving this MemRowSet empty,
// the "snapshot the current MRS, create a new empty MRS" step of spec
// §4.D's Flush.
func (m *MemRowSet) Drain() *MemRowSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &MemRowSet{tree: m.tree, bytes: m.bytes}
	m.tree = btree.New(32)
	m.bytes = 0
	return snap
}
