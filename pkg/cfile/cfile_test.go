package cfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kudu-go/kudu/pkg/schema"
)

func TestBitShuffleRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	col := schema.ColumnSchema{Name: "id", Type: schema.Int32, Attrs: schema.StorageAttributes{
		Encoding: schema.BitShuffleEncoding, TargetBlockSize: 64,
	}}
	w, err := NewWriter(&buf, WriterOptions{Column: col, Checksummed: true})
	require.NoError(t, err)

	vals := []uint64{1, 2, 3, 4, 5}
	require.NoError(t, w.AppendEntries(vals, len(vals)))
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()), ReaderOptions{Column: col, Checksummed: true})
	require.NoError(t, err)
	require.EqualValues(t, 5, r.NumValues())

	it := r.NewIterator()
	dst := make([]interface{}, 5)
	n, err := it.CopyNextValues(5, dst)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	for i, v := range vals {
		require.Equal(t, v, dst[i].(uint64))
	}
}

func TestDictionaryPredicatePushdown(t *testing.T) {
	var buf bytes.Buffer
	col := schema.ColumnSchema{Name: "c", Type: schema.String, Attrs: schema.StorageAttributes{
		Encoding: schema.DictEncoding, TargetBlockSize: 4096,
	}}
	w, err := NewWriter(&buf, WriterOptions{Column: col, Checksummed: false, WriteValueIndex: true})
	require.NoError(t, err)

	values := [][]byte{[]byte("x"), []byte("y"), []byte("z"), []byte("y"), []byte("x")}
	require.NoError(t, w.AppendEntries(values, len(values)))
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()), ReaderOptions{Column: col})
	require.NoError(t, err)

	it := r.NewIterator()
	sel := schema.NewSelectionVector(len(values))
	dst := make([]interface{}, len(values))
	n, err := it.CopyNextAndEval(len(values), func(v []byte) bool { return string(v) == "y" }, sel, dst)
	require.NoError(t, err)
	require.Equal(t, len(values), n)

	for i := range values {
		expect := string(values[i]) == "y"
		require.Equal(t, expect, sel.IsRowSelected(i), "row %d", i)
	}
}

// TestDictionaryMixedModeRoundTrip fills the dictionary mid-stream (spec §3
// "a transition to plain mode is permanent for the file") and checks that
// the earlier block stays codeword-encoded (no dropped values on the
// straddle block) while the later block degrades to plain, round-tripping
// every value across the transition.
func TestDictionaryMixedModeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	col := schema.ColumnSchema{Name: "c", Type: schema.String, Attrs: schema.StorageAttributes{
		Encoding: schema.DictEncoding, TargetBlockSize: 4096,
	}}
	w, err := NewWriter(&buf, WriterOptions{
		Column: col, WriteValueIndex: true,
		DictMaxBytes: 5, // one byte per distinct value below: room for exactly 5 entries
	})
	require.NoError(t, err)

	// a,b,c,d,e fill the dictionary exactly; f is the first value that can't
	// fit, forcing the straddle block to flush as codeword and the next
	// block (f,a,g,e) to start plain.
	values := [][]byte{
		[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e"),
		[]byte("f"), []byte("a"), []byte("g"), []byte("e"),
	}
	require.NoError(t, w.AppendEntries(values, len(values)))
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()), ReaderOptions{Column: col})
	require.NoError(t, err)
	require.EqualValues(t, len(values), r.NumValues())

	it := r.NewIterator()
	dst := make([]interface{}, len(values))
	n, err := it.CopyNextValues(len(values), dst)
	require.NoError(t, err)
	require.Equal(t, len(values), n, "every value from the straddle block onward must survive the transition")
	for i, v := range values {
		require.Equal(t, string(v), string(dst[i].([]byte)), "row %d", i)
	}
}

func TestPlainBinaryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	col := schema.ColumnSchema{Name: "b", Type: schema.Binary, Attrs: schema.StorageAttributes{
		Encoding: schema.PlainEncoding, TargetBlockSize: 4096,
	}}
	w, err := NewWriter(&buf, WriterOptions{Column: col})
	require.NoError(t, err)
	values := [][]byte{[]byte("hello"), []byte("world")}
	require.NoError(t, w.AppendEntries(values, len(values)))
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()), ReaderOptions{Column: col})
	require.NoError(t, err)
	it := r.NewIterator()
	dst := make([]interface{}, 2)
	n, err := it.CopyNextValues(2, dst)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hello", string(dst[0].([]byte)))
	require.Equal(t, "world", string(dst[1].([]byte)))
}
