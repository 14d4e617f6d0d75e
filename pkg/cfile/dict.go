package cfile

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

// codewordLogicalType is the fixed-width numeric type used to bit-shuffle
// dictionary codewords, matching the original's "UINT32 bit-shuffle
// encoder" choice for codes.
const codewordLogicalType = schema.Int32

// dictMode mirrors the fixed 32-bit little-endian mode word of spec §6
// "BinaryDictBlock header".
type dictMode uint32

const (
	dictModeCodeword dictMode = 0
	dictModePlain    dictMode = 1
)

// Dictionary accumulates distinct strings for one CFile and is shared by
// every data block's builder, per spec §4.B "Binary dictionary". Once Full
// is tripped the dictionary is permanently closed for the file (spec §3
// "Dictionary-encoded binary block" invariant).
type Dictionary struct {
	codes    map[uint64]uint32 // xxhash(value) -> codeword; a hit is confirmed against values, and a colliding new value takes over the slot
	values   [][]byte
	byteSize int
	maxBytes int
	full     bool
}

func NewDictionary(maxBytes int) *Dictionary {
	return &Dictionary{codes: make(map[uint64]uint32), maxBytes: maxBytes}
}

func (d *Dictionary) IsFull() bool { return d.full }

// GetOrAdd returns the codeword for v, adding it to the dictionary if
// there's room; ok is false once the dictionary is full and v is new.
func (d *Dictionary) GetOrAdd(v []byte) (code uint32, ok bool) {
	h := xxhash.Sum64(v)
	if c, found := d.lookup(h, v); found {
		return c, true
	}
	if d.full {
		return 0, false
	}
	if d.byteSize+len(v) > d.maxBytes {
		d.full = true
		return 0, false
	}
	code = uint32(len(d.values))
	d.values = append(d.values, append([]byte(nil), v...))
	d.codes[h] = code
	d.byteSize += len(v)
	return code, true
}

func (d *Dictionary) lookup(h uint64, v []byte) (uint32, bool) {
	c, found := d.codes[h]
	if !found {
		return 0, false
	}
	// xxhash collision guard: confirm equality before trusting the code.
	if string(d.values[c]) != string(v) {
		return 0, false
	}
	return c, true
}

func (d *Dictionary) Value(code uint32) ([]byte, error) {
	if int(code) >= len(d.values) {
		return nil, kuduerr.NewCorruption("dictionary codeword %d out of range (size %d)", code, len(d.values))
	}
	return d.values[code], nil
}

// Serialize writes the dictionary block payload: count + length-prefixed
// strings, consumed on CFile reopen to rebuild the in-memory Dictionary.
func (d *Dictionary) Serialize() []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(d.values)))
	for _, v := range d.values {
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(v)))
		out = append(out, lenBuf...)
		out = append(out, v...)
	}
	return out
}

func DeserializeDictionary(buf []byte, maxBytes int) (*Dictionary, error) {
	if len(buf) < 4 {
		return nil, kuduerr.NewCorruption("dictionary block truncated")
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	buf = buf[4:]
	d := NewDictionary(maxBytes)
	for i := 0; i < n; i++ {
		if len(buf) < 4 {
			return nil, kuduerr.NewCorruption("dictionary entry header truncated")
		}
		l := int(binary.LittleEndian.Uint32(buf[0:4]))
		buf = buf[4:]
		if len(buf) < l {
			return nil, kuduerr.NewCorruption("dictionary entry truncated")
		}
		d.codes[xxhash.Sum64(buf[:l])] = uint32(len(d.values))
		d.values = append(d.values, append([]byte(nil), buf[:l]...))
		d.byteSize += l
		buf = buf[l:]
	}
	return d, nil
}

// BinaryDictBuilder is a single data block's builder. It degrades to plain
// binary permanently once the shared Dictionary reports full, per spec §3
// "a transition to plain mode is permanent for the file".
type BinaryDictBuilder struct {
	dict      *Dictionary
	codes     *BitShuffleBuilder // UINT32 bit-shuffle encoder over codewords, per spec §4.B
	plain     *PlainBinaryBuilder
	usePlain  bool
	target    int
}

func NewBinaryDictBuilder(dict *Dictionary, targetBlockSize int) (*BinaryDictBuilder, error) {
	codes, err := newCodewordBuilder(targetBlockSize)
	if err != nil {
		return nil, err
	}
	return &BinaryDictBuilder{
		dict:   dict,
		codes:  codes,
		plain:  NewPlainBinaryBuilder(targetBlockSize),
		target: targetBlockSize,
	}, nil
}

// newCodewordBuilder wires a BitShuffleBuilder over UINT32 codewords,
// matching the original's "UINT32 bit-shuffle encoder" choice for codes.
func newCodewordBuilder(targetBlockSize int) (*BitShuffleBuilder, error) {
	return NewBitShuffleBuilder(codewordLogicalType, targetBlockSize)
}

func (b *BinaryDictBuilder) Count() int {
	if b.usePlain {
		return b.plain.Count()
	}
	return b.codes.Count()
}

func (b *BinaryDictBuilder) IsBlockFull() bool {
	if b.usePlain {
		return b.plain.IsBlockFull()
	}
	return b.codes.IsBlockFull()
}

func (b *BinaryDictBuilder) Reset() {
	b.codes.Reset()
	b.plain.Reset()
	b.usePlain = b.dict.IsFull()
}

func (b *BinaryDictBuilder) Add(values interface{}, n int) (int, error) {
	vals, ok := values.([][]byte)
	if !ok {
		return 0, kuduerr.NewInvalidArgument("BinaryDictBuilder.Add expects [][]byte, got %T", values)
	}
	added := 0
	for added < n {
		if b.usePlain {
			got, err := b.plain.Add(vals[added:added+1], 1)
			if err != nil {
				return added, err
			}
			if got == 0 {
				break
			}
			added++
			continue
		}
		code, ok := b.dict.GetOrAdd(vals[added])
		if !ok {
			// Dictionary just became full. Values already encoded as codewords
			// earlier in this block must stay codeword (the writer's ordinal
			// accounting already counted them that way), so flush this block
			// now instead of switching modes mid-block; Reset() re-derives
			// usePlain from dict.IsFull() for the next block. Only degrade
			// this block itself to plain if it is still empty.
			if b.codes.Count() > 0 {
				return added, nil
			}
			b.usePlain = true
			continue
		}
		if b.codes.IsBlockFull() {
			break
		}
		got, err := b.codes.Add([]uint64{uint64(code)}, 1)
		if err != nil {
			return added, err
		}
		if got == 0 {
			break
		}
		added++
	}
	return added, nil
}

func (b *BinaryDictBuilder) Finish() (firstKey, lastKey, payload []byte, err error) {
	mode := dictModeCodeword
	var body []byte
	if b.usePlain {
		mode = dictModePlain
		firstKey, lastKey, body, err = b.plain.Finish()
	} else {
		firstKey, lastKey, body, err = b.codes.Finish()
		// Keys recorded by the codeword encoder are codewords, not the
		// underlying strings; translate back for the value index.
		if err == nil {
			firstKey, lastKey, err = b.decodeKeyPair(firstKey, lastKey)
		}
	}
	if err != nil {
		return nil, nil, nil, err
	}
	modeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(modeBuf, uint32(mode))
	payload = append(modeBuf, body...)
	return firstKey, lastKey, payload, nil
}

func (b *BinaryDictBuilder) decodeKeyPair(firstCode, lastCode []byte) (first, last []byte, err error) {
	fc := decodeLEUint64(firstCode)
	lc := decodeLEUint64(lastCode)
	first, err = b.dict.Value(uint32(fc))
	if err != nil {
		return nil, nil, err
	}
	last, err = b.dict.Value(uint32(lc))
	return first, last, err
}

// decodeLEUint64 widens a little-endian element of fewer than 8 bytes (as
// produced by BitShuffleBuilder.Finish, which truncates to elemSize) back
// into a uint64.
func decodeLEUint64(b []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:], b)
	return binary.LittleEndian.Uint64(tmp[:])
}

// BinaryDictDecoder is the read-side counterpart; mode is read per-block
// from the header so different blocks of the same file may be in different
// modes once the dictionary fills, per spec §3/§6.
type BinaryDictDecoder struct {
	dict  *Dictionary
	mode  dictMode
	codes *BitShuffleDecoder
	plain *PlainBinaryDecoder
}

func NewBinaryDictDecoder(dict *Dictionary) *BinaryDictDecoder {
	return &BinaryDictDecoder{dict: dict}
}

func (d *BinaryDictDecoder) ParseHeader(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, kuduerr.NewCorruption("binary-dict block header truncated")
	}
	mode := dictMode(binary.LittleEndian.Uint32(buf[0:4]))
	if mode != dictModeCodeword && mode != dictModePlain {
		return nil, kuduerr.NewCorruption("unknown binary-dict mode %d", mode)
	}
	d.mode = mode
	rest := buf[4:]
	if mode == dictModeCodeword {
		d.codes = NewBitShuffleDecoder()
		return d.codes.ParseHeader(rest)
	}
	d.plain = NewPlainBinaryDecoder()
	return d.plain.ParseHeader(rest)
}

func (d *BinaryDictDecoder) SeekToPositionInBlock(n int) error {
	if d.mode == dictModeCodeword {
		return d.codes.SeekToPositionInBlock(n)
	}
	return d.plain.SeekToPositionInBlock(n)
}

func (d *BinaryDictDecoder) Count() int {
	if d.mode == dictModeCodeword {
		return d.codes.Count()
	}
	return d.plain.Count()
}

func (d *BinaryDictDecoder) CurrentPosition() int {
	if d.mode == dictModeCodeword {
		return d.codes.CurrentPosition()
	}
	return d.plain.CurrentPosition()
}

func (d *BinaryDictDecoder) CopyNextValues(n int, dst []interface{}) (int, error) {
	if d.mode != dictModeCodeword {
		return d.plain.CopyNextValues(n, dst)
	}
	codes := make([]interface{}, n)
	got, err := d.codes.CopyNextValues(n, codes)
	if err != nil {
		return 0, err
	}
	for i := 0; i < got; i++ {
		code := uint32(codes[i].(uint64))
		v, err := d.dict.Value(code)
		if err != nil {
			return i, err
		}
		dst[i] = v
	}
	return got, nil
}

// CodewordsMatchingPredicate decodes the block's raw codewords (without
// dereferencing the dictionary) so a pushed-down predicate can be evaluated
// once per distinct dictionary entry rather than once per row, per spec
// §4.B "CopyNextAndEval".
func (d *BinaryDictDecoder) CodewordsMatchingPredicate(n int, matches func(value []byte) bool) (codes []uint32, matched []bool, err error) {
	if d.mode != dictModeCodeword {
		return nil, nil, kuduerr.NewNotSupported("predicate codeword pushdown requires codeword mode")
	}
	raw := make([]interface{}, n)
	got, err := d.codes.CopyNextValues(n, raw)
	if err != nil {
		return nil, nil, err
	}
	codes = make([]uint32, got)
	matched = make([]bool, got)
	cache := make(map[uint32]bool)
	for i := 0; i < got; i++ {
		c := uint32(raw[i].(uint64))
		codes[i] = c
		if m, ok := cache[c]; ok {
			matched[i] = m
			continue
		}
		v, err := d.dict.Value(c)
		if err != nil {
			return nil, nil, err
		}
		m := matches(v)
		cache[c] = m
		matched[i] = m
	}
	return codes, matched, nil
}
