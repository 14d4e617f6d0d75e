package tablet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/delta"
	"github.com/kudu-go/kudu/pkg/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	cols := []schema.ColumnSchema{
		{Name: "id", Type: schema.Int64, Attrs: schema.DefaultStorageAttributes()},
		{Name: "val", Type: schema.String, Nullable: true, Attrs: schema.DefaultStorageAttributes()},
	}
	s, err := schema.New(cols, 1)
	require.NoError(t, err)
	for i := range s.Columns {
		s.Columns[i].AssignID(common.ColumnID(i + 1))
	}
	return s
}

func TestMemRowSetInsertAndSnapshot(t *testing.T) {
	mrs := NewMemRowSet()
	key := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	cols := map[common.ColumnID][]byte{1: key, 2: []byte("hello")}
	require.NoError(t, mrs.Insert(key, cols, 1))

	row, ok := mrs.Lookup(key)
	require.True(t, ok)
	snap, deleted := row.Snapshot(maxTimestamp)
	require.False(t, deleted)
	require.Equal(t, "hello", string(snap[2]))

	row.ApplyMutation(2, delta.RowChangeList{Type: delta.Update, Updates: []delta.ColumnUpdate{
		{ColumnID: 2, Value: []byte("world")},
	}})
	snap, _ = row.Snapshot(maxTimestamp)
	require.Equal(t, "world", string(snap[2]))

	snap, _ = row.Snapshot(1)
	require.Equal(t, "hello", string(snap[2]))
}

func TestDiskRowSetWriteAndRead(t *testing.T) {
	s := testSchema(t)
	bs := NewMemBlockStore()
	w, err := NewDiskRowSetWriter(bs, s, true, 10)
	require.NoError(t, err)

	rows := []Row{
		{Values: []interface{}{int64(1), "a"}},
		{Values: []interface{}{int64(2), nil}},
		{Values: []interface{}{int64(3), "c"}},
	}
	require.NoError(t, w.AppendBlock(rows))
	meta, err := w.Finish()
	require.NoError(t, err)
	require.Equal(t, 3, meta.RowCount)

	rs, err := OpenDiskRowSet(bs, s, meta)
	require.NoError(t, err)

	key1, err := EncodeKey(s, []interface{}{int64(1)})
	require.NoError(t, err)
	rowID, found, err := rs.FindRowIDByKey(key1)
	require.NoError(t, err)
	require.True(t, found)

	cols, deleted, err := rs.ReadRow(rowID, maxTimestamp, []common.ColumnID{1, 2})
	require.NoError(t, err)
	require.False(t, deleted)
	require.Equal(t, "a", string(cols[2]))

	typed, deleted, err := rs.ReadTypedRow(rowID, maxTimestamp, []common.ColumnID{1, 2})
	require.NoError(t, err)
	require.False(t, deleted)
	require.Equal(t, int64(1), typed[1])
	require.Equal(t, "a", typed[2])

	missingKey, err := EncodeKey(s, []interface{}{int64(99)})
	require.NoError(t, err)
	require.False(t, rs.MayContainKey(missingKey) && func() bool {
		_, found, _ := rs.FindRowIDByKey(missingKey)
		return found
	}())
}

func TestTabletInsertUpdateDeleteFlush(t *testing.T) {
	s := testSchema(t)
	bs := NewMemBlockStore()
	tb := NewTablet(common.ID{TableID: 1, TabletID: 1}, s, bs)
	tb.TargetRowSetSizeRows = 10

	res, err := tb.InsertRow([]interface{}{int64(1), "a"})
	require.NoError(t, err)
	require.False(t, res.AlreadyPresent)
	require.EqualValues(t, 1, tb.LiveRowCount())

	res, err = tb.InsertRow([]interface{}{int64(1), "dup"})
	require.NoError(t, err)
	require.True(t, res.AlreadyPresent)

	res, err = tb.UpdateRow([]interface{}{int64(1)}, []delta.ColumnUpdate{{ColumnID: 2, Value: []byte("b")}})
	require.NoError(t, err)
	require.False(t, res.NotFound)

	metas, err := tb.Flush()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, 0, tb.MemRowSetSize())
	require.EqualValues(t, 1, tb.LiveRowCount())

	res, err = tb.InsertRow([]interface{}{int64(2), "x"})
	require.NoError(t, err)
	require.False(t, res.AlreadyPresent)

	res, err = tb.DeleteRow([]interface{}{int64(2)})
	require.NoError(t, err)
	require.False(t, res.NotFound)
	require.EqualValues(t, 1, tb.LiveRowCount())

	res, err = tb.DeleteRow([]interface{}{int64(99)})
	require.NoError(t, err)
	require.True(t, res.NotFound)
}

func TestTabletCompactRowSets(t *testing.T) {
	s := testSchema(t)
	bs := NewMemBlockStore()
	tb := NewTablet(common.ID{TableID: 1, TabletID: 2}, s, bs)
	tb.TargetRowSetSizeRows = 10

	for i := int64(1); i <= 3; i++ {
		_, err := tb.InsertRow([]interface{}{i, "v"})
		require.NoError(t, err)
		_, err = tb.Flush()
		require.NoError(t, err)
	}
	require.Len(t, tb.RowSets(), 3)

	res, err := tb.DeleteRow([]interface{}{int64(2)})
	require.NoError(t, err)
	require.False(t, res.NotFound)

	metas, err := tb.CompactRowSets(tb.RowSets(), maxTimestamp)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, 2, metas[0].RowCount)
	require.Len(t, tb.RowSets(), 1)
}
