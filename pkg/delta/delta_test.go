package delta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kudu-go/kudu/pkg/common"
)

func TestRowChangeListRoundTrip(t *testing.T) {
	cl := RowChangeList{Type: Update, Updates: []ColumnUpdate{
		{ColumnID: 1, Value: []byte("hi")},
		{ColumnID: 2, Null: true},
	}}
	buf := cl.Marshal()
	got, err := UnmarshalRowChangeList(buf)
	require.NoError(t, err)
	require.Equal(t, cl.Type, got.Type)
	require.Len(t, got.Updates, 2)
	require.Equal(t, "hi", string(got.Updates[0].Value))
	require.True(t, got.Updates[1].Null)
}

func TestDMSOrderingAndFlush(t *testing.T) {
	dms := NewDMS()
	dms.Update(1, 10, RowChangeList{Type: Update}.Marshal())
	dms.Update(1, 20, RowChangeList{Type: Update}.Marshal())
	dms.Update(2, 5, RowChangeList{Type: Update}.Marshal())

	byRow1 := dms.Get(1)
	require.Len(t, byRow1, 2)
	require.Equal(t, common.Timestamp(20), byRow1[0].Key.Timestamp)
	require.Equal(t, common.Timestamp(10), byRow1[1].Key.Timestamp)

	entries := dms.Flush()
	require.Len(t, entries, 3)
	require.Equal(t, common.RowID(1), entries[0].Key.RowID)
	require.Equal(t, common.RowID(1), entries[1].Key.RowID)
	require.Equal(t, common.RowID(2), entries[2].Key.RowID)
	require.Equal(t, 0, dms.Len())
}

func TestNewFileOrderingRedoVsUndo(t *testing.T) {
	entries := []Entry{
		{Key: Key{RowID: 1, Timestamp: 5, Type: Redo}, ChangeList: RowChangeList{Type: Update}.Marshal()},
		{Key: Key{RowID: 1, Timestamp: 10, Type: Redo}, ChangeList: RowChangeList{Type: Update}.Marshal()},
	}
	redoFile, err := NewFile(Redo, entries)
	require.NoError(t, err)
	require.Equal(t, common.Timestamp(10), redoFile.Entries[0].Key.Timestamp)
	require.Equal(t, common.Timestamp(5), redoFile.Entries[1].Key.Timestamp)

	undoEntries := []Entry{
		{Key: Key{RowID: 1, Timestamp: 10, Type: Undo}, ChangeList: RowChangeList{Type: Update}.Marshal()},
		{Key: Key{RowID: 1, Timestamp: 5, Type: Undo}, ChangeList: RowChangeList{Type: Update}.Marshal()},
	}
	undoFile, err := NewFile(Undo, undoEntries)
	require.NoError(t, err)
	require.Equal(t, common.Timestamp(5), undoFile.Entries[0].Key.Timestamp)
	require.Equal(t, common.Timestamp(10), undoFile.Entries[1].Key.Timestamp)
}

func TestTrackerCheckRowDeletedShortCircuits(t *testing.T) {
	tr := NewTracker()
	tr.Update(1, RowChangeList{Type: Update, Updates: []ColumnUpdate{{ColumnID: 1, Value: []byte("a")}}}, 1)
	deleted, err := tr.CheckRowDeleted(1)
	require.NoError(t, err)
	require.False(t, deleted)

	tr.Update(1, RowChangeList{Type: Delete}, 2)
	deleted, err = tr.CheckRowDeleted(1)
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestFlushDMSAndMinorCompact(t *testing.T) {
	tr := NewTracker()
	tr.Update(1, RowChangeList{Type: Update, Updates: []ColumnUpdate{{ColumnID: 1, Value: []byte("a")}}}, 1)
	f1, err := tr.FlushDMS()
	require.NoError(t, err)
	require.NotNil(t, f1)
	require.Equal(t, 1, tr.RedoFileCount())

	tr.Update(2, RowChangeList{Type: Update, Updates: []ColumnUpdate{{ColumnID: 1, Value: []byte("b")}}}, 2)
	f2, err := tr.FlushDMS()
	require.NoError(t, err)
	require.NotNil(t, f2)
	require.Equal(t, 2, tr.RedoFileCount())

	require.NoError(t, tr.MinorCompactRedos())
	require.Equal(t, 1, tr.RedoFileCount())
}

func TestAncientHistoryAccounting(t *testing.T) {
	tr := NewTracker()
	tr.undos = append(tr.undos, &File{
		DeltaType: Undo,
		Stats:     Stats{MaxTimestamp: 5},
		ByteSize:  100,
	})
	tr.undos = append(tr.undos, &File{
		DeltaType: Undo,
		Stats:     Stats{MaxTimestamp: 50},
		ByteSize:  200,
	})

	est := tr.EstimateBytesInPotentiallyAncientUndoDeltas(10)
	require.Equal(t, int64(100), est)

	reclaimed := tr.DeleteAncientUndoDeltas(10)
	require.Equal(t, int64(100), reclaimed)
	require.Equal(t, 1, tr.UndoFileCount())
}
