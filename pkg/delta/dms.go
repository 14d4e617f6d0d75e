package delta

import (
	"sync"

	"github.com/google/btree"

	"github.com/kudu-go/kudu/pkg/common"
)

// Entry is one (key, change-list) pair, the unit both DMS and DeltaFile
// store, per spec §4.C "DMS ... value = RowChangeList bytes".
type Entry struct {
	Key        Key
	ChangeList []byte
}

type dmsItem Entry

func (i dmsItem) Less(than btree.Item) bool {
	return Less(Key(i.Key), Key(than.(dmsItem).Key))
}

// DMS is the ordered in-memory map of spec §4.C "DMS (delta memstore)":
// keyed by delta-key, REDO-ordered (ascending rowid, descending timestamp),
// supporting point lookup by rowid, range scan for a row, and bulk flush.
type DMS struct {
	mu       sync.RWMutex
	tree     *btree.BTree
	byteSize int64
}

func NewDMS() *DMS {
	return &DMS{tree: btree.New(32)}
}

// Update records a new REDO entry for rowID at timestamp ts.
func (d *DMS) Update(rowID common.RowID, ts common.Timestamp, changeList []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	item := dmsItem{Key: Key{RowID: rowID, Timestamp: ts, Type: Redo}, ChangeList: changeList}
	d.tree.ReplaceOrInsert(item)
	d.byteSize += int64(len(changeList))
}

// Get returns every entry recorded for rowID, newest timestamp first (DMS
// key order for a fixed rowid is descending timestamp).
func (d *DMS) Get(rowID common.RowID) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Entry
	lo := dmsItem{Key: Key{RowID: rowID, Timestamp: ^common.Timestamp(0), Type: Redo}}
	hi := dmsItem{Key: Key{RowID: rowID + 1, Timestamp: ^common.Timestamp(0), Type: Redo}}
	d.tree.AscendRange(lo, hi, func(it btree.Item) bool {
		e := Entry(it.(dmsItem))
		out = append(out, e)
		return true
	})
	return out
}

// Len returns the number of entries currently buffered.
func (d *DMS) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.Len()
}

func (d *DMS) ByteSize() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byteSize
}

// Flush drains the DMS in key order (ascending rowid, descending
// timestamp, matching REDO file order) and resets it to empty, per spec
// §4.C "FlushDMS() — atomically swap in a new DMS".
func (d *DMS) Flush() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, 0, d.tree.Len())
	d.tree.Ascend(func(it btree.Item) bool {
		out = append(out, Entry(it.(dmsItem)))
		return true
	})
	d.tree = btree.New(32)
	d.byteSize = 0
	return out
}
