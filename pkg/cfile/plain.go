package cfile

import (
	"encoding/binary"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// PlainBinaryBuilder implements spec §4.B "Plain binary": a header of entry
// count + per-entry offsets, followed by concatenated bytes.
type PlainBinaryBuilder struct {
	entries [][]byte
	size    int // accumulated payload bytes (offsets header + data)
	target  int
}

func NewPlainBinaryBuilder(targetBlockSize int) *PlainBinaryBuilder {
	return &PlainBinaryBuilder{target: targetBlockSize}
}

func (b *PlainBinaryBuilder) Count() int { return len(b.entries) }

func (b *PlainBinaryBuilder) IsBlockFull() bool { return b.size >= b.target }

func (b *PlainBinaryBuilder) Reset() {
	b.entries = b.entries[:0]
	b.size = 0
}

func (b *PlainBinaryBuilder) Add(values interface{}, n int) (int, error) {
	vals, ok := values.([][]byte)
	if !ok {
		return 0, kuduerr.NewInvalidArgument("PlainBinaryBuilder.Add expects [][]byte, got %T", values)
	}
	added := 0
	for added < n && !b.IsBlockFull() {
		v := vals[added]
		b.entries = append(b.entries, v)
		b.size += len(v) + 4 // value bytes + its offset entry
		added++
	}
	return added, nil
}

func (b *PlainBinaryBuilder) Finish() (firstKey, lastKey, payload []byte, err error) {
	n := len(b.entries)
	if n == 0 {
		return nil, nil, nil, kuduerr.NewIllegalState("cannot finish an empty plain-binary block")
	}
	firstKey = append([]byte(nil), b.entries[0]...)
	lastKey = append([]byte(nil), b.entries[n-1]...)

	hdr := make([]byte, 4+4*(n+1))
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(n))
	offset := uint32(len(hdr))
	for i, e := range b.entries {
		binary.LittleEndian.PutUint32(hdr[4+4*i:8+4*i], offset)
		offset += uint32(len(e))
	}
	binary.LittleEndian.PutUint32(hdr[4+4*n:8+4*n], offset)

	payload = make([]byte, 0, offset)
	payload = append(payload, hdr...)
	for _, e := range b.entries {
		payload = append(payload, e...)
	}
	return firstKey, lastKey, payload, nil
}

// PlainBinaryDecoder is the read-side counterpart.
type PlainBinaryDecoder struct {
	offsets []uint32
	data    []byte
	pos     int
}

func NewPlainBinaryDecoder() *PlainBinaryDecoder { return &PlainBinaryDecoder{} }

func (d *PlainBinaryDecoder) ParseHeader(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, kuduerr.NewCorruption("plain-binary block header truncated")
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	need := 4 + 4*(n+1)
	if len(buf) < need {
		return nil, kuduerr.NewCorruption("plain-binary offset table truncated")
	}
	offsets := make([]uint32, n+1)
	for i := 0; i <= n; i++ {
		offsets[i] = binary.LittleEndian.Uint32(buf[4+4*i : 8+4*i])
	}
	total := int(offsets[n])
	if len(buf) < total {
		return nil, kuduerr.NewCorruption("plain-binary payload truncated")
	}
	d.offsets = offsets
	d.data = buf[:total]
	d.pos = 0
	return buf[total:], nil
}

func (d *PlainBinaryDecoder) SeekToPositionInBlock(n int) error {
	if n < 0 || n > d.Count() {
		return kuduerr.NewInvalidArgument("position %d out of range", n)
	}
	d.pos = n
	return nil
}

func (d *PlainBinaryDecoder) Count() int           { return len(d.offsets) - 1 }
func (d *PlainBinaryDecoder) CurrentPosition() int { return d.pos }

func (d *PlainBinaryDecoder) CopyNextValues(n int, dst []interface{}) (int, error) {
	copied := 0
	for copied < n && d.pos < d.Count() {
		start, end := d.offsets[d.pos], d.offsets[d.pos+1]
		dst[copied] = append([]byte(nil), d.data[start:end]...)
		d.pos++
		copied++
	}
	return copied, nil
}
