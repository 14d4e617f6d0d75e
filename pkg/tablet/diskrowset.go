package tablet

import (
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/kudu-go/kudu/pkg/cfile"
	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/delta"
	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

// Row is one row handed to a DiskRowSetWriter: Values is parallel to the
// schema's column list (nil entries mean NULL).
type Row struct {
	Values []interface{}
}

// DiskRowSetMeta is the durable handle to an already-written DiskRowSet: the
// block ids a BlockStore needs to reopen every constituent CFile, per spec
// §4.D "A DiskRowSet is a set of per-column CFiles plus a key index CFile
// and (optionally) a bloom CFile".
type DiskRowSetMeta struct {
	ColumnBlocks  map[common.ColumnID]string
	KeyIndexBlock string
	BloomBlock    string // empty if no bloom filter was written
	RowCount      int
	MinKey        []byte
	MaxKey        []byte
}

// DiskRowSetWriter builds one immutable DiskRowSet: per-column CFiles, a
// PLAIN-encoded key-index CFile keyed by the composite primary key, and an
// optional bloom filter over those same keys.
type DiskRowSetWriter struct {
	schema      *schema.Schema
	bs          BlockStore
	writeBloom  bool
	expectedKeys int

	colWriters map[common.ColumnID]*cfile.Writer
	colBlocks  map[common.ColumnID]string
	colCloser  map[common.ColumnID]closer

	keyWriter *cfile.Writer
	keyBlock  string
	keyCloser closer

	rowCount int
	minKey   []byte
	maxKey   []byte
	bloom    *BloomFilter
}

type closer interface {
	Close() error
}

// NewDiskRowSetWriter opens one block per column plus the key index, ready
// for AppendBlock calls. expectedKeys sizes the optional bloom filter; pass
// writeBloom=false to skip it entirely.
func NewDiskRowSetWriter(bs BlockStore, s *schema.Schema, writeBloom bool, expectedKeys int) (*DiskRowSetWriter, error) {
	w := &DiskRowSetWriter{
		schema:       s,
		bs:           bs,
		writeBloom:   writeBloom,
		expectedKeys: expectedKeys,
		colWriters:   make(map[common.ColumnID]*cfile.Writer),
		colBlocks:    make(map[common.ColumnID]string),
		colCloser:    make(map[common.ColumnID]closer),
	}
	for _, col := range s.Columns {
		id, wc, err := bs.CreateBlock()
		if err != nil {
			return nil, err
		}
		cw, err := cfile.NewWriter(wc, cfile.WriterOptions{Column: col, Checksummed: true})
		if err != nil {
			return nil, err
		}
		w.colWriters[col.ID] = cw
		w.colBlocks[col.ID] = id
		w.colCloser[col.ID] = wc
	}

	keyCol := schema.ColumnSchema{
		Name:  "__key__",
		Type:  schema.Binary,
		Attrs: schema.StorageAttributes{Encoding: schema.PlainEncoding, TargetBlockSize: 256 * 1024},
	}
	id, wc, err := bs.CreateBlock()
	if err != nil {
		return nil, err
	}
	kw, err := cfile.NewWriter(wc, cfile.WriterOptions{Column: keyCol, Checksummed: true, WriteValueIndex: true})
	if err != nil {
		return nil, err
	}
	w.keyWriter = kw
	w.keyBlock = id
	w.keyCloser = wc

	if writeBloom {
		w.bloom = NewBloomFilter(expectedKeys, 0.01)
	}
	return w, nil
}

// AppendBlock is the only legal roll point per spec §4.D
// "RollingDiskRowSetWriter... AppendBlock is the only legal point at which
// to roll to a new DiskRowSet". It writes every row's columns and key.
func (w *DiskRowSetWriter) AppendBlock(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	n := len(rows)
	keys := make([][]byte, n)
	for i, r := range rows {
		key, err := EncodeKey(w.schema, r.Values[:w.schema.NumKeyColumns])
		if err != nil {
			return err
		}
		keys[i] = key
		if w.minKey == nil || compareBytesTablet(key, w.minKey) < 0 {
			w.minKey = key
		}
		if w.maxKey == nil || compareBytesTablet(key, w.maxKey) > 0 {
			w.maxKey = key
		}
		if w.bloom != nil {
			w.bloom.Add(key)
		}
	}
	if err := w.keyWriter.AppendEntries(keys, n); err != nil {
		return err
	}

	for ci, col := range w.schema.Columns {
		cw := w.colWriters[col.ID]
		if isFixedWidth(col) {
			vals := make([]uint64, n)
			var nulls *roaring.Bitmap
			if col.Nullable {
				nulls = roaring.New()
			}
			for i, r := range rows {
				v := r.Values[ci]
				if v == nil {
					if nulls != nil {
						nulls.AddInt(i)
					}
					continue
				}
				u, err := valueToUint64(col.Type, v)
				if err != nil {
					return err
				}
				vals[i] = u
			}
			if nulls != nil {
				if err := cw.AppendNullableEntries(nulls, vals, n); err != nil {
					return err
				}
			} else if err := cw.AppendEntries(vals, n); err != nil {
				return err
			}
		} else {
			vals := make([][]byte, n)
			var nulls *roaring.Bitmap
			if col.Nullable {
				nulls = roaring.New()
			}
			for i, r := range rows {
				v := r.Values[ci]
				if v == nil {
					if nulls != nil {
						nulls.AddInt(i)
					}
					continue
				}
				switch b := v.(type) {
				case []byte:
					vals[i] = b
				case string:
					vals[i] = []byte(b)
				default:
					return kuduerr.NewInvalidArgument("column %q expects string/[]byte, got %T", col.Name, v)
				}
			}
			if nulls != nil {
				if err := cw.AppendNullableEntries(nulls, vals, n); err != nil {
					return err
				}
			} else if err := cw.AppendEntries(vals, n); err != nil {
				return err
			}
		}
	}
	w.rowCount += n
	return nil
}

// EncodedRow is one row already in on-disk byte form: ColValues/ColNulls are
// parallel to the schema's column list, in the little-endian truncated
// uint64 form for fixed-width columns (see rawBytesToUint64) or verbatim for
// binary/dict columns. Compaction uses this path since it re-serializes
// values already decoded from another rowset's CFiles rather than typed Go
// values from a client request.
type EncodedRow struct {
	Key       []byte
	ColValues [][]byte
	ColNulls  []bool
}

// AppendEncodedBlock is AppendBlock's counterpart for merge compaction: it
// writes rows whose key and column bytes are already in on-disk form.
func (w *DiskRowSetWriter) AppendEncodedBlock(rows []EncodedRow) error {
	if len(rows) == 0 {
		return nil
	}
	n := len(rows)
	keys := make([][]byte, n)
	for i, r := range rows {
		keys[i] = r.Key
		if w.minKey == nil || compareBytesTablet(r.Key, w.minKey) < 0 {
			w.minKey = r.Key
		}
		if w.maxKey == nil || compareBytesTablet(r.Key, w.maxKey) > 0 {
			w.maxKey = r.Key
		}
		if w.bloom != nil {
			w.bloom.Add(r.Key)
		}
	}
	if err := w.keyWriter.AppendEntries(keys, n); err != nil {
		return err
	}

	for ci, col := range w.schema.Columns {
		cw := w.colWriters[col.ID]
		if isFixedWidth(col) {
			vals := make([]uint64, n)
			var nulls *roaring.Bitmap
			if col.Nullable {
				nulls = roaring.New()
			}
			for i, r := range rows {
				if r.ColNulls[ci] {
					if nulls != nil {
						nulls.AddInt(i)
					}
					continue
				}
				vals[i] = rawBytesToUint64(r.ColValues[ci])
			}
			if nulls != nil {
				if err := cw.AppendNullableEntries(nulls, vals, n); err != nil {
					return err
				}
			} else if err := cw.AppendEntries(vals, n); err != nil {
				return err
			}
		} else {
			vals := make([][]byte, n)
			var nulls *roaring.Bitmap
			if col.Nullable {
				nulls = roaring.New()
			}
			for i, r := range rows {
				if r.ColNulls[ci] {
					if nulls != nil {
						nulls.AddInt(i)
					}
					continue
				}
				vals[i] = r.ColValues[ci]
			}
			if nulls != nil {
				if err := cw.AppendNullableEntries(nulls, vals, n); err != nil {
					return err
				}
			} else if err := cw.AppendEntries(vals, n); err != nil {
				return err
			}
		}
	}
	w.rowCount += n
	return nil
}

// Finish closes every constituent CFile and returns the durable metadata a
// BlockStore-backed reader needs to reopen this rowset.
func (w *DiskRowSetWriter) Finish() (*DiskRowSetMeta, error) {
	for _, col := range w.schema.Columns {
		if err := w.colWriters[col.ID].Close(); err != nil {
			return nil, err
		}
		if err := w.colCloser[col.ID].Close(); err != nil {
			return nil, kuduerr.ClassifyIOError(err, "close column block")
		}
	}
	if err := w.keyWriter.Close(); err != nil {
		return nil, err
	}
	if err := w.keyCloser.Close(); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "close key index block")
	}

	meta := &DiskRowSetMeta{
		ColumnBlocks:  w.colBlocks,
		KeyIndexBlock: w.keyBlock,
		RowCount:      w.rowCount,
		MinKey:        w.minKey,
		MaxKey:        w.maxKey,
	}
	if w.bloom != nil {
		id, wc, err := w.bs.CreateBlock()
		if err != nil {
			return nil, err
		}
		if _, err := wc.Write(w.bloom.Serialize()); err != nil {
			return nil, kuduerr.ClassifyIOError(err, "write bloom filter block")
		}
		if err := wc.Close(); err != nil {
			return nil, kuduerr.ClassifyIOError(err, "close bloom filter block")
		}
		meta.BloomBlock = id
	}
	return meta, nil
}

func compareBytesTablet(a, b []byte) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// DiskRowSet is an opened, immutable base plus its mutable delta tracker,
// per spec §4.D "DiskRowSet: ... a base (immutable) plus a DeltaTracker
// (mutable overlay)".
type DiskRowSet struct {
	schema  *schema.Schema
	meta    *DiskRowSetMeta
	colRd   map[common.ColumnID]*cfile.Reader
	keyRd   *cfile.Reader
	bloom   *BloomFilter
	Tracker *delta.Tracker

	overridesMu sync.Mutex
	overrides   map[common.RowID]map[common.ColumnID]baseOverride
}

// baseOverride is one cell major compaction has folded into the base, per
// spec §4.C "MajorDeltaCompact ... applies REDOs older than the snapshot's
// frontier ... into the base CFile data". The on-disk CFile format is
// write-once, so rather than rewriting base blocks in place this overlay
// is consulted ahead of the physical column read; ReadRow's result is
// unaffected, only which layer resolves the value.
type baseOverride struct {
	value  []byte
	isNull bool
}

// setBaseOverride records that rowID's colID now resolves to (value,
// isNull) directly from the base, called by MajorCompactRedos's
// applyToBase callback.
func (rs *DiskRowSet) setBaseOverride(rowID common.RowID, colID common.ColumnID, value []byte, isNull bool) {
	rs.overridesMu.Lock()
	defer rs.overridesMu.Unlock()
	if rs.overrides == nil {
		rs.overrides = make(map[common.RowID]map[common.ColumnID]baseOverride)
	}
	row := rs.overrides[rowID]
	if row == nil {
		row = make(map[common.ColumnID]baseOverride)
		rs.overrides[rowID] = row
	}
	row[colID] = baseOverride{value: value, isNull: isNull}
}

// baseOverrideFor returns the prior base value. MajorCompactRedos needs
// this to build the UNDO that reverses the fold.
func (rs *DiskRowSet) baseOverrideFor(rowID common.RowID, colID common.ColumnID) (value []byte, isNull, ok bool) {
	rs.overridesMu.Lock()
	defer rs.overridesMu.Unlock()
	row, ok := rs.overrides[rowID]
	if !ok {
		return nil, false, false
	}
	o, ok := row[colID]
	return o.value, o.isNull, ok
}

// readPhysicalColumn reads colID's value straight from the base CFile,
// bypassing any major-compaction override.
func (rs *DiskRowSet) readPhysicalColumn(rowID common.RowID, colID common.ColumnID) ([]byte, error) {
	rd, ok := rs.colRd[colID]
	if !ok {
		return nil, kuduerr.NewInvalidArgument("unknown projected column %d", colID)
	}
	it := rd.NewIterator()
	if err := it.SeekToOrdinal(uint64(rowID)); err != nil {
		return nil, err
	}
	dst := make([]interface{}, 1)
	n, err := it.CopyNextValues(1, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, kuduerr.NewNotFound("row id %d beyond rowset end", rowID)
	}
	col := rs.columnByID(colID)
	return encodeDecodedValue(col.Type, dst[0], isFixedWidth(col)), nil
}

// ApplyMajorCompactValue folds newValue into colID's effective base value
// for rowID and reports the value it superseded, for use as
// delta.Tracker.MajorCompactRedos's applyToBase callback.
func (rs *DiskRowSet) ApplyMajorCompactValue(rowID common.RowID, colID common.ColumnID, newValue []byte, isNull bool) ([]byte, bool, error) {
	priorValue, priorNull, ok := rs.baseOverrideFor(rowID, colID)
	if !ok {
		v, err := rs.readPhysicalColumn(rowID, colID)
		if err != nil {
			return nil, false, err
		}
		priorValue, priorNull = v, v == nil
	}
	rs.setBaseOverride(rowID, colID, newValue, isNull)
	return priorValue, priorNull, nil
}

// OpenDiskRowSet reopens a previously written rowset's CFiles via bs.
func OpenDiskRowSet(bs BlockStore, s *schema.Schema, meta *DiskRowSetMeta) (*DiskRowSet, error) {
	rs := &DiskRowSet{
		schema:  s,
		meta:    meta,
		colRd:   make(map[common.ColumnID]*cfile.Reader),
		Tracker: delta.NewTracker(),
	}
	for _, col := range s.Columns {
		blockID, ok := meta.ColumnBlocks[col.ID]
		if !ok {
			return nil, kuduerr.NewCorruption("rowset metadata missing block for column %q", col.Name)
		}
		ra, size, err := bs.OpenBlock(blockID)
		if err != nil {
			return nil, err
		}
		rd, err := cfile.Open(ra, size, cfile.ReaderOptions{Column: col, Checksummed: true})
		if err != nil {
			return nil, err
		}
		rs.colRd[col.ID] = rd
	}
	keyCol := schema.ColumnSchema{Name: "__key__", Type: schema.Binary}
	ra, size, err := bs.OpenBlock(meta.KeyIndexBlock)
	if err != nil {
		return nil, err
	}
	rs.keyRd, err = cfile.Open(ra, size, cfile.ReaderOptions{Column: keyCol, Checksummed: true})
	if err != nil {
		return nil, err
	}
	if meta.BloomBlock != "" {
		bra, bsize, err := bs.OpenBlock(meta.BloomBlock)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, bsize)
		if _, err := bra.ReadAt(buf, 0); err != nil {
			return nil, kuduerr.ClassifyIOError(err, "read bloom filter block")
		}
		bf, err := DeserializeBloomFilter(buf)
		if err != nil {
			return nil, err
		}
		rs.bloom = bf
	}
	return rs, nil
}

func (rs *DiskRowSet) RowCount() int  { return rs.meta.RowCount }
func (rs *DiskRowSet) MinKey() []byte { return rs.meta.MinKey }
func (rs *DiskRowSet) MaxKey() []byte { return rs.meta.MaxKey }

// LiveRowCount is the base + delta-stats mechanism of spec §4.D "Row count &
// live-row count": the base row count adjusted by every REDO file's
// LiveRowCountDelta, per delta.Tracker.RedoLiveRowCountDelta.
func (rs *DiskRowSet) LiveRowCount() int64 {
	return int64(rs.meta.RowCount) + rs.Tracker.RedoLiveRowCountDelta()
}

// MayContainKey is the cheap pre-filter spec §4.D's bloom CFile exists for:
// false means the key is definitely absent from this rowset.
func (rs *DiskRowSet) MayContainKey(key []byte) bool {
	if rs.meta.MinKey != nil && compareBytesTablet(key, rs.meta.MinKey) < 0 {
		return false
	}
	if rs.meta.MaxKey != nil && compareBytesTablet(key, rs.meta.MaxKey) > 0 {
		return false
	}
	if rs.bloom != nil {
		return rs.bloom.MayContain(key)
	}
	return true
}

// FindRowIDByKey binary-searches the key index CFile for the ordinal row id
// of key, or (0, false, nil) if absent.
func (rs *DiskRowSet) FindRowIDByKey(key []byte) (common.RowID, bool, error) {
	if !rs.MayContainKey(key) {
		return 0, false, nil
	}
	it := rs.keyRd.NewIterator()
	exact, err := it.SeekAtOrAfterValue(key)
	if err != nil {
		if kuduerr.Is(err, kuduerr.NotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !exact {
		return 0, false, nil
	}
	return common.RowID(it.CurrentOrdinal()), true, nil
}

// ReadRow materializes a row's columns as of snapshot, applying the delta
// tracker's REDO/UNDO overlay on top of the base CFile values.
func (rs *DiskRowSet) ReadRow(rowID common.RowID, snapshot common.Timestamp, proj []common.ColumnID) (map[common.ColumnID][]byte, bool, error) {
	base := make(map[common.ColumnID][]byte, len(proj))
	for _, colID := range proj {
		if v, isNull, ok := rs.baseOverrideFor(rowID, colID); ok {
			if isNull {
				base[colID] = nil
			} else {
				base[colID] = v
			}
			continue
		}
		v, err := rs.readPhysicalColumn(rowID, colID)
		if err != nil {
			return nil, false, err
		}
		base[colID] = v
	}

	it2 := rs.Tracker.NewDeltaIterator(proj, snapshot)
	hist, err := it2.Project(rowID, true)
	if err != nil {
		return nil, false, err
	}
	result := make(map[common.ColumnID][]byte, len(proj))
	for _, colID := range proj {
		if v, overridden := hist.Columns[colID]; overridden {
			result[colID] = v
		} else {
			result[colID] = base[colID]
		}
	}
	return result, hist.Deleted, nil
}

// ReadTypedRow is ReadRow plus decoding each raw on-disk value back to a
// native Go value (int64, string, ...), for callers outside the storage
// layer (a query path) that want typed results rather than the raw bytes
// MemRowSet/DiskRowSet pass around internally.
func (rs *DiskRowSet) ReadTypedRow(rowID common.RowID, snapshot common.Timestamp, proj []common.ColumnID) (map[common.ColumnID]interface{}, bool, error) {
	raw, deleted, err := rs.ReadRow(rowID, snapshot, proj)
	if err != nil {
		return nil, false, err
	}
	out := make(map[common.ColumnID]interface{}, len(proj))
	for _, colID := range proj {
		v := raw[colID]
		if v == nil {
			out[colID] = nil
			continue
		}
		col := rs.columnByID(colID)
		if isFixedWidth(col) {
			out[colID] = uint64ToValue(col.Type, rawBytesToUint64(v))
		} else {
			out[colID] = string(v)
		}
	}
	return out, deleted, nil
}

func (rs *DiskRowSet) columnByID(id common.ColumnID) schema.ColumnSchema {
	for _, c := range rs.schema.Columns {
		if c.ID == id {
			return c
		}
	}
	return schema.ColumnSchema{}
}

func encodeDecodedValue(t schema.LogicalType, v interface{}, fixedWidth bool) []byte {
	if !fixedWidth {
		b, _ := v.([]byte)
		return b
	}
	u, _ := v.(uint64)
	return uint64ToRawBytes(u, columnElemSize(t))
}

// Close does nothing and returns nil; the block handles its CFile readers
// were opened on (file descriptors, for FSBlockStore) are not closed.
func (rs *DiskRowSet) Close() error {
	return nil
}
