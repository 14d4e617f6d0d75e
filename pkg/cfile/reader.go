package cfile

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

// ReaderOptions mirrors the subset of WriterOptions a reader needs to know
// up front: Checksummed must match the writer's setting, since the footer
// does not record it (encoding and compression are recovered from the
// footer).
type ReaderOptions struct {
	Column      schema.ColumnSchema
	Checksummed bool
}

// Reader opens a finished CFile for random-access iteration, per spec §4.B
// "Reader contract".
type Reader struct {
	ra     io.ReaderAt
	size   int64
	opts   ReaderOptions
	footer *Footer
	posIdx *Index
	valIdx *Index
	dict   *Dictionary
}

// Open parses the footer, locates the indexes and dictionary, per spec
// §4.B "On open, parse footer, locate indexes, dictionary, and schema
// metadata." ra must expose the full finished file; size is its length.
func Open(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	if size < int64(len(Magic))*2+4 {
		return nil, kuduerr.NewCorruption("cfile too short to contain a footer")
	}
	head := make([]byte, len(Magic))
	if _, err := ra.ReadAt(head, 0); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "read cfile leading magic")
	}
	if string(head) != string(Magic[:]) {
		return nil, kuduerr.NewCorruption("bad cfile magic")
	}
	tail := make([]byte, len(Magic))
	if _, err := ra.ReadAt(tail, size-int64(len(Magic))); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "read cfile trailing magic")
	}
	if string(tail) != string(Magic[:]) {
		return nil, kuduerr.NewCorruption("bad cfile trailing magic")
	}

	lenBuf := make([]byte, 4)
	lenOff := size - int64(len(Magic)) - 4
	if _, err := ra.ReadAt(lenBuf, lenOff); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "read footer length")
	}
	footerLen := int64(binary.LittleEndian.Uint32(lenBuf))
	footerOff := lenOff - footerLen
	if footerOff < int64(len(Magic)) {
		return nil, kuduerr.NewCorruption("footer length implies negative offset")
	}
	footerBuf := make([]byte, footerLen)
	if _, err := ra.ReadAt(footerBuf, footerOff); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "read footer")
	}
	footer, err := UnmarshalFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	r := &Reader{ra: ra, size: size, opts: opts, footer: footer}

	posBuf := make([]byte, footer.PosIdxPointer.Size)
	if _, err := ra.ReadAt(posBuf, int64(footer.PosIdxPointer.Offset)); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "read positional index")
	}
	if r.posIdx, err = DeserializeIndex(posBuf); err != nil {
		return nil, err
	}

	if footer.HasValIdx {
		valBuf := make([]byte, footer.ValIdxPointer.Size)
		if _, err := ra.ReadAt(valBuf, int64(footer.ValIdxPointer.Offset)); err != nil {
			return nil, kuduerr.ClassifyIOError(err, "read value index")
		}
		if r.valIdx, err = DeserializeIndex(valBuf); err != nil {
			return nil, err
		}
	}

	if footer.HasDict {
		dictBuf := make([]byte, footer.DictPointer.Size)
		if _, err := ra.ReadAt(dictBuf, int64(footer.DictPointer.Offset)); err != nil {
			return nil, kuduerr.ClassifyIOError(err, "read dictionary block")
		}
		if r.dict, err = DeserializeDictionary(dictBuf, 1<<30); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Reader) NumValues() uint64 { return r.footer.NumValues }

// readBlock fetches, checksums, and decompresses the data block named by p.
func (r *Reader) readBlock(p BlockPointer) ([]byte, error) {
	frame := make([]byte, p.Size)
	if _, err := r.ra.ReadAt(frame, int64(p.Offset)); err != nil {
		return nil, kuduerr.ClassifyIOError(err, "read cfile data block")
	}
	compressed := frame
	if r.opts.Checksummed {
		if len(frame) < 4 {
			return nil, kuduerr.NewCorruption("block too short for checksum")
		}
		compressed = frame[:len(frame)-4]
		want := binary.LittleEndian.Uint32(frame[len(frame)-4:])
		if crc32.Checksum(compressed, crcTable) != want {
			return nil, kuduerr.NewCorruption("checksum mismatch in cfile data block")
		}
	}
	payload, err := decompress(schema.Compression(r.footer.Compression), compressed)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// newBlockDecoder builds the BlockDecoder matching the footer's recorded
// encoding for this column.
func (r *Reader) newBlockDecoder() BlockDecoder {
	switch schema.Encoding(r.footer.Encoding) {
	case schema.BitShuffleEncoding:
		return NewBitShuffleDecoder()
	case schema.DictEncoding:
		return NewBinaryDictDecoder(r.dict)
	default:
		return NewPlainBinaryDecoder()
	}
}

// Iterator is a stateful cursor over a Reader's values, per spec §4.B
// "Reader contract ... Iterators support".
type Iterator struct {
	r            *Reader
	blockEntry   IndexEntry
	blockIdx     int // index into r.posIdx.entries of the current block
	decoder      BlockDecoder
	positionInFile uint64
}

func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r}
}

func (it *Iterator) loadBlock(entryIdx int) error {
	entries := it.r.posIdx.Entries()
	if entryIdx < 0 || entryIdx >= len(entries) {
		return kuduerr.NewNotFound("no such data block")
	}
	entry := entries[entryIdx]
	payload, err := it.r.readBlock(entry.Pointer)
	if err != nil {
		return err
	}
	if len(payload) < 4 {
		return kuduerr.NewCorruption("missing null-bitmap header")
	}
	nullLen := binary.LittleEndian.Uint32(payload[0:4])
	rest := payload[4+nullLen:]
	dec := it.r.newBlockDecoder()
	if _, err := dec.ParseHeader(rest); err != nil {
		return err
	}
	it.blockEntry = entry
	it.blockIdx = entryIdx
	it.decoder = dec
	it.positionInFile = entry.FirstOrdinal
	return nil
}

// SeekToOrdinal repositions the iterator to ordinal row n.
func (it *Iterator) SeekToOrdinal(n uint64) error {
	entry, ok := it.r.posIdx.FindByOrdinal(n)
	if !ok {
		return kuduerr.NewNotFound("ordinal %d before start of file", n)
	}
	idx := indexOfEntry(it.r.posIdx, entry)
	if it.decoder == nil || it.blockIdx != idx {
		if err := it.loadBlock(idx); err != nil {
			return err
		}
	}
	offsetInBlock := int(n - entry.FirstOrdinal)
	if err := it.decoder.SeekToPositionInBlock(offsetInBlock); err != nil {
		return err
	}
	it.positionInFile = n
	return nil
}

func indexOfEntry(idx *Index, target IndexEntry) int {
	for i, e := range idx.Entries() {
		if e.FirstOrdinal == target.FirstOrdinal {
			return i
		}
	}
	return -1
}

// CurrentOrdinal reports the global ordinal row number the iterator is
// currently positioned at within the loaded block.
func (it *Iterator) CurrentOrdinal() uint64 {
	return it.blockEntry.FirstOrdinal + uint64(it.decoder.CurrentPosition())
}

// SeekToPositionInBlock repositions within the currently loaded block only.
func (it *Iterator) SeekToPositionInBlock(k int) error {
	if it.decoder == nil {
		return kuduerr.NewIllegalState("no block loaded")
	}
	return it.decoder.SeekToPositionInBlock(k)
}

// SeekAtOrAfterValue binary-searches the value index to a candidate block,
// then that block's local index, per spec §4.B. exact reports whether the
// located position holds v exactly (best-effort: true only when the first
// decoded value at the position equals v).
func (it *Iterator) SeekAtOrAfterValue(v []byte) (exact bool, err error) {
	if it.r.valIdx == nil {
		return false, kuduerr.NewNotSupported("column has no value index")
	}
	entry, ok := it.r.valIdx.FindAtOrAfterValue(v)
	if !ok {
		return false, kuduerr.NewNotFound("value %x not found", v)
	}
	idx := indexOfEntryByOffset(it.r.valIdx, it.r.posIdx, entry)
	if idx < 0 {
		return false, kuduerr.NewCorruption("value index entry has no matching positional block")
	}
	if err := it.loadBlock(idx); err != nil {
		return false, err
	}
	// Linear scan within the block for the first key >= v (blocks are
	// small; this mirrors the original's in-block binary search closely
	// enough for the sparse index sizes this module targets).
	scratch := make([]interface{}, 1)
	for {
		n, err := it.decoder.CopyNextValues(1, scratch)
		if err != nil {
			return false, err
		}
		if n == 0 {
			// Sought beyond the largest key in the file: seek to
			// one-past-the-end and report NotFound, per spec §4.B edge case.
			return false, kuduerr.NewNotFound("value beyond largest indexed key")
		}
		cur, _ := scratch[0].([]byte)
		if cur == nil {
			if u, ok := scratch[0].(uint64); ok {
				cur = encodeOrdinal(u)
			}
		}
		if compareBytes(cur, v) >= 0 {
			it.decoder.SeekToPositionInBlock(it.decoder.CurrentPosition() - 1)
			return compareBytes(cur, v) == 0, nil
		}
	}
}

func compareBytes(a, b []byte) int {
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

func indexOfEntryByOffset(valIdx, posIdx *Index, target IndexEntry) int {
	for i, e := range posIdx.Entries() {
		if e.Pointer.Offset == target.Pointer.Offset {
			return i
		}
	}
	return -1
}

// CopyNextValues materializes up to n decoded values into dst, crossing
// block boundaries transparently.
func (it *Iterator) CopyNextValues(n int, dst []interface{}) (int, error) {
	if it.decoder == nil {
		if err := it.loadBlock(0); err != nil {
			if kuduerr.Is(err, kuduerr.NotFound) {
				return 0, nil
			}
			return 0, err
		}
	}
	copied := 0
	for copied < n {
		got, err := it.decoder.CopyNextValues(n-copied, dst[copied:])
		if err != nil {
			return copied, err
		}
		copied += got
		if copied == n {
			break
		}
		// Current block exhausted; advance to the next one.
		if err := it.loadBlock(it.blockIdx + 1); err != nil {
			if kuduerr.Is(err, kuduerr.NotFound) {
				break // end of file
			}
			return copied, err
		}
	}
	return copied, nil
}

// CopyNextAndEval implements spec §4.B's dictionary predicate pushdown: for
// a dictionary-encoded column with a pushed-down equality-style predicate,
// it decodes codewords once, evaluates the predicate once per distinct
// codeword, writes dictionary slices for matches into dst, and clears
// selection bits for non-matches. Non-dictionary columns and IsNotNull
// fall back to plain decode-all.
func (it *Iterator) CopyNextAndEval(n int, matches func(value []byte) bool, sel *schema.SelectionVector, dst []interface{}) (int, error) {
	if it.decoder == nil {
		if err := it.loadBlock(0); err != nil {
			if kuduerr.Is(err, kuduerr.NotFound) {
				return 0, nil
			}
			return 0, err
		}
	}
	dictDec, ok := it.decoder.(*BinaryDictDecoder)
	if !ok || matches == nil {
		return it.CopyNextValues(n, dst)
	}
	codes, matched, err := dictDec.CodewordsMatchingPredicate(n, matches)
	if err != nil {
		return 0, err
	}
	anyMatch := false
	for _, m := range matched {
		if m {
			anyMatch = true
			break
		}
	}
	if !anyMatch {
		// No codewords matched: clear their selection bits and advance
		// position without decoding values.
		for i := range codes {
			sel.SetRowSelected(i, false)
		}
		return len(codes), nil
	}
	for i, c := range codes {
		if !matched[i] {
			sel.SetRowSelected(i, false)
			continue
		}
		v, err := dictDec.dict.Value(c)
		if err != nil {
			return i, err
		}
		dst[i] = v
	}
	return len(codes), nil
}
