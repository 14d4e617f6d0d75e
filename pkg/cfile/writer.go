package cfile

import (
	"encoding/binary"
	"io"

	"github.com/RoaringBitmap/roaring"

	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

// WriterOptions mirrors the per-column knobs spec §4.B "Writer contract"
// requires: logical type, nullability, encoding, compression, block size.
type WriterOptions struct {
	Column          schema.ColumnSchema
	Checksummed     bool
	WriteValueIndex bool
	DictMaxBytes    int
}

// Writer appends a single column's encoded blocks to w, closing with both
// index trees and the footer, per spec §4.B/§6.
type Writer struct {
	w        io.Writer
	opts     WriterOptions
	offset   uint64
	resolvedEncoding schema.Encoding
	builder  BlockBuilder
	dict     *Dictionary
	posIdx   IndexBuilder
	valIdx   IndexBuilder
	nextOrdinal uint64
	lastKey  []byte
	pendingNulls *roaring.Bitmap
	metadata map[string]string
	closed   bool
}

func NewWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	wr := &Writer{w: w, opts: opts, pendingNulls: roaring.New()}
	if opts.DictMaxBytes == 0 {
		wr.opts.DictMaxBytes = 1 << 20 // 1 MiB default dictionary budget
	}
	enc := opts.Column.Attrs.Encoding
	if enc == schema.AutoEncoding {
		enc = EncodingForType(opts.Column.Type)
	}
	wr.resolvedEncoding = enc
	var err error
	switch enc {
	case schema.BitShuffleEncoding:
		wr.builder, err = NewBitShuffleBuilder(opts.Column.Type, opts.Column.Attrs.TargetBlockSize)
	case schema.DictEncoding:
		wr.dict = NewDictionary(wr.opts.DictMaxBytes)
		wr.builder, err = NewBinaryDictBuilder(wr.dict, opts.Column.Attrs.TargetBlockSize)
	default:
		wr.builder = NewPlainBinaryBuilder(opts.Column.Attrs.TargetBlockSize)
	}
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(Magic[:]); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "write cfile magic")
	}
	wr.offset = uint64(len(Magic))
	return wr, nil
}

// AppendEntries accumulates n non-null values into the current block,
// flushing whenever the encoder reports itself full, per spec §4.B.
func (w *Writer) AppendEntries(values interface{}, n int) error {
	return w.appendWithNulls(values, n, nil)
}

// AppendNullableEntries is AppendEntries plus a null bitmap over the n
// logical rows being appended (bit i set means row i is null and values[i]
// is ignored).
func (w *Writer) AppendNullableEntries(bitmap *roaring.Bitmap, values interface{}, n int) error {
	if !w.opts.Column.Nullable {
		return kuduerr.NewInvalidArgument("column %q is not nullable", w.opts.Column.Name)
	}
	return w.appendWithNulls(values, n, bitmap)
}

func (w *Writer) appendWithNulls(values interface{}, n int, nulls *roaring.Bitmap) error {
	remaining := n
	offsetInCaller := 0
	for remaining > 0 {
		added, err := w.builder.Add(sliceWindow(values, offsetInCaller), remaining)
		if err != nil {
			return err
		}
		if nulls != nil {
			for i := 0; i < added; i++ {
				if nulls.ContainsInt(offsetInCaller + i) {
					w.pendingNulls.AddInt(w.builder.Count() - added + i)
				}
			}
		}
		offsetInCaller += added
		remaining -= added
		w.nextOrdinal += uint64(added)
		if added == 0 || w.builder.IsBlockFull() {
			if err := w.flushBlock(); err != nil {
				return err
			}
		}
	}
	return nil
}

// sliceWindow re-slices a column-major values argument starting at offset,
// so a caller can pass the whole column once and Writer handles multi-block
// splitting internally.
func sliceWindow(values interface{}, offset int) interface{} {
	switch v := values.(type) {
	case []uint64:
		return v[offset:]
	case [][]byte:
		return v[offset:]
	default:
		return values
	}
}

func (w *Writer) flushBlock() error {
	if w.builder.Count() == 0 {
		return nil
	}
	firstKey, lastKey, payload, err := w.builder.Finish()
	if err != nil {
		return err
	}
	if len(w.pendingNulls.ToArray()) > 0 {
		nullBlob, _ := w.pendingNulls.ToBytes()
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(hdr, uint32(len(nullBlob)))
		payload = append(append(hdr, nullBlob...), payload...)
		w.pendingNulls.Clear()
	} else {
		payload = append([]byte{0, 0, 0, 0}, payload...)
	}

	blockStartOrdinal := w.nextOrdinal - uint64(w.builder.Count())

	compressed, err := compress(w.opts.Column.Attrs.Compression, payload)
	if err != nil {
		return err
	}
	frame := compressed
	if w.opts.Checksummed {
		sum := checksum(compressed)
		sumBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(sumBuf, sum)
		frame = append(compressed, sumBuf...)
	}
	if _, err := w.w.Write(frame); err != nil {
		return kuduerr.ClassifyIOError(err, "write cfile data block")
	}

	w.posIdx.Append(IndexEntry{
		Key:          encodeOrdinal(blockStartOrdinal),
		Pointer:      BlockPointer{Offset: w.offset, Size: uint64(len(frame))},
		FirstOrdinal: blockStartOrdinal,
	})
	if w.opts.WriteValueIndex {
		w.valIdx.Append(IndexEntry{Key: firstKey, Pointer: BlockPointer{Offset: w.offset, Size: uint64(len(frame))}})
	}
	w.lastKey = lastKey
	w.offset += uint64(len(frame))
	w.builder.Reset()
	return nil
}

func encodeOrdinal(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n) // big-endian so byte-compare sorts numerically
	return b
}

// Close flushes any partial block, writes the dictionary (if any), both
// index trees, the footer, and the trailing length+magic, per spec §4.B
// "Closing writes...".
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushBlock(); err != nil {
		return err
	}

	footer := &Footer{
		DataType:    uint32(w.opts.Column.Type),
		Encoding:    uint32(w.resolvedEncoding),
		Compression: uint32(w.opts.Column.Attrs.Compression),
		NumValues:   w.nextOrdinal,
		Metadata:    w.metadata,
	}
	if footer.Metadata == nil {
		footer.Metadata = map[string]string{}
	}

	if w.dict != nil {
		blob := w.dict.Serialize()
		if _, err := w.w.Write(blob); err != nil {
			return kuduerr.ClassifyIOError(err, "write dictionary block")
		}
		footer.HasDict = true
		footer.DictPointer = BlockPointer{Offset: w.offset, Size: uint64(len(blob))}
		w.offset += uint64(len(blob))
	}

	posBlob := w.posIdx.Serialize()
	if _, err := w.w.Write(posBlob); err != nil {
		return kuduerr.ClassifyIOError(err, "write positional index")
	}
	footer.PosIdxPointer = BlockPointer{Offset: w.offset, Size: uint64(len(posBlob))}
	w.offset += uint64(len(posBlob))

	if w.opts.WriteValueIndex {
		valBlob := w.valIdx.Serialize()
		if _, err := w.w.Write(valBlob); err != nil {
			return kuduerr.ClassifyIOError(err, "write value index")
		}
		footer.HasValIdx = true
		footer.ValIdxPointer = BlockPointer{Offset: w.offset, Size: uint64(len(valBlob))}
		w.offset += uint64(len(valBlob))
	}

	footerBytes := footer.Marshal()
	if _, err := w.w.Write(footerBytes); err != nil {
		return kuduerr.ClassifyIOError(err, "write footer")
	}
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(footerBytes)))
	if _, err := w.w.Write(lenBuf); err != nil {
		return kuduerr.ClassifyIOError(err, "write footer length")
	}
	if _, err := w.w.Write(Magic[:]); err != nil {
		return kuduerr.ClassifyIOError(err, "write trailing magic")
	}
	return nil
}

// AddMetadataPair is unused on the hot path but lets callers (e.g. a
// compaction job recording provenance) stash arbitrary string metadata in
// the footer before Close, per spec §4.N "CFile footer key/value metadata".
func (w *Writer) AddMetadataPair(key, value string) {
	if w.metadata == nil {
		w.metadata = map[string]string{}
	}
	w.metadata[key] = value
}
