package cfile

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// IndexEntry maps one data block to a key, per spec §3 "CFile": the
// positional index key is the block's first ordinal row-id; the value
// index key is the block's first encoded value.
type IndexEntry struct {
	Key          []byte
	Pointer      BlockPointer
	FirstOrdinal uint64 // meaningful only in the positional index
}

// IndexBuilder accumulates a sparse index tree: one entry per data block,
// keyed by that block's first key, satisfying spec §3's invariant that the
// positional index covers every written value and the value index (when
// present) holds the first key of every data block.
type IndexBuilder struct {
	entries []IndexEntry
}

func (ib *IndexBuilder) Append(e IndexEntry) { ib.entries = append(ib.entries, e) }

func (ib *IndexBuilder) Len() int { return len(ib.entries) }

func (ib *IndexBuilder) Serialize() []byte {
	var buf bytes.Buffer
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(len(ib.entries)))
	buf.Write(hdr)
	for _, e := range ib.entries {
		tmp := make([]byte, 8+8+8+4)
		binary.LittleEndian.PutUint64(tmp[0:8], e.FirstOrdinal)
		binary.LittleEndian.PutUint64(tmp[8:16], e.Pointer.Offset)
		binary.LittleEndian.PutUint64(tmp[16:24], e.Pointer.Size)
		binary.LittleEndian.PutUint32(tmp[24:28], uint32(len(e.Key)))
		buf.Write(tmp)
		buf.Write(e.Key)
	}
	return buf.Bytes()
}

// Index is the read-side, immutable view of a deserialized IndexBuilder.
type Index struct {
	entries []IndexEntry
}

func DeserializeIndex(buf []byte) (*Index, error) {
	if len(buf) < 4 {
		return nil, kuduerr.NewCorruption("index block header truncated")
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	buf = buf[4:]
	entries := make([]IndexEntry, 0, n)
	for i := 0; i < n; i++ {
		if len(buf) < 28 {
			return nil, kuduerr.NewCorruption("index entry header truncated")
		}
		ordinal := binary.LittleEndian.Uint64(buf[0:8])
		off := binary.LittleEndian.Uint64(buf[8:16])
		size := binary.LittleEndian.Uint64(buf[16:24])
		klen := int(binary.LittleEndian.Uint32(buf[24:28]))
		buf = buf[28:]
		if len(buf) < klen {
			return nil, kuduerr.NewCorruption("index entry key truncated")
		}
		key := append([]byte(nil), buf[:klen]...)
		buf = buf[klen:]
		entries = append(entries, IndexEntry{Key: key, Pointer: BlockPointer{Offset: off, Size: size}, FirstOrdinal: ordinal})
	}
	return &Index{entries: entries}, nil
}

// FindByOrdinal locates the data block covering ordinal n via the
// positional index: the last entry whose FirstOrdinal <= n.
func (idx *Index) FindByOrdinal(n uint64) (IndexEntry, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].FirstOrdinal > n
	})
	if i == 0 {
		return IndexEntry{}, false
	}
	return idx.entries[i-1], true
}

// FindAtOrAfterValue binary-searches the value index to the block that may
// contain v, per spec §4.B "SeekAtOrAfterValue": the last entry whose key
// <= v, or the first entry if v sorts before everything.
func (idx *Index) FindAtOrAfterValue(v []byte) (IndexEntry, bool) {
	if len(idx.entries) == 0 {
		return IndexEntry{}, false
	}
	i := sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].Key, v) > 0
	})
	if i == 0 {
		return idx.entries[0], true
	}
	return idx.entries[i-1], true
}

func (idx *Index) Entries() []IndexEntry { return idx.entries }
