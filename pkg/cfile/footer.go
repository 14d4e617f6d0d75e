package cfile

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// Footer locates every index tree of a CFile and carries open metadata, per
// spec §3 "CFile" and §6 on-disk layout. Serialized with the protobuf wire
// format directly via protowire (no codegen: this is a small, stable
// message, and protowire is the same low-level encoder generated code
// itself calls into).
type Footer struct {
	DataType          uint32
	Encoding          uint32
	Compression       uint32
	NumValues         uint64
	PosIdxPointer     BlockPointer
	ValIdxPointer     BlockPointer // zero value means "absent"
	HasValIdx         bool
	DictPointer       BlockPointer
	HasDict           bool
	Metadata          map[string]string
}

// BlockPointer locates a block (any of: data, dict, index) by byte offset
// and length within the CFile.
type BlockPointer struct {
	Offset uint64
	Size   uint64
}

const (
	fieldDataType    = 1
	fieldEncoding    = 2
	fieldCompression = 3
	fieldNumValues   = 4
	fieldPosIdxOff   = 5
	fieldPosIdxSize  = 6
	fieldValIdxOff   = 7
	fieldValIdxSize  = 8
	fieldHasValIdx   = 9
	fieldDictOff     = 10
	fieldDictSize    = 11
	fieldHasDict     = 12
	fieldMetaKey     = 13
	fieldMetaVal     = 14
)

// Marshal encodes the footer with protowire, one tag+value pair per field;
// repeated metadata pairs are emitted as adjacent (key, value) fields which
// Unmarshal reassembles positionally.
func (f *Footer) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.DataType))
	b = protowire.AppendTag(b, fieldEncoding, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Encoding))
	b = protowire.AppendTag(b, fieldCompression, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Compression))
	b = protowire.AppendTag(b, fieldNumValues, protowire.VarintType)
	b = protowire.AppendVarint(b, f.NumValues)
	b = protowire.AppendTag(b, fieldPosIdxOff, protowire.VarintType)
	b = protowire.AppendVarint(b, f.PosIdxPointer.Offset)
	b = protowire.AppendTag(b, fieldPosIdxSize, protowire.VarintType)
	b = protowire.AppendVarint(b, f.PosIdxPointer.Size)
	if f.HasValIdx {
		b = protowire.AppendTag(b, fieldValIdxOff, protowire.VarintType)
		b = protowire.AppendVarint(b, f.ValIdxPointer.Offset)
		b = protowire.AppendTag(b, fieldValIdxSize, protowire.VarintType)
		b = protowire.AppendVarint(b, f.ValIdxPointer.Size)
		b = protowire.AppendTag(b, fieldHasValIdx, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if f.HasDict {
		b = protowire.AppendTag(b, fieldDictOff, protowire.VarintType)
		b = protowire.AppendVarint(b, f.DictPointer.Offset)
		b = protowire.AppendTag(b, fieldDictSize, protowire.VarintType)
		b = protowire.AppendVarint(b, f.DictPointer.Size)
		b = protowire.AppendTag(b, fieldHasDict, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for k, v := range f.Metadata {
		b = protowire.AppendTag(b, fieldMetaKey, protowire.BytesType)
		b = protowire.AppendString(b, k)
		b = protowire.AppendTag(b, fieldMetaVal, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

func UnmarshalFooter(b []byte) (*Footer, error) {
	f := &Footer{Metadata: make(map[string]string)}
	var pendingKey string
	havePendingKey := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, kuduerr.NewCorruption("footer: bad tag")
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, kuduerr.NewCorruption("footer: bad varint for field %d", num)
			}
			b = b[n:]
			switch num {
			case fieldDataType:
				f.DataType = uint32(v)
			case fieldEncoding:
				f.Encoding = uint32(v)
			case fieldCompression:
				f.Compression = uint32(v)
			case fieldNumValues:
				f.NumValues = v
			case fieldPosIdxOff:
				f.PosIdxPointer.Offset = v
			case fieldPosIdxSize:
				f.PosIdxPointer.Size = v
			case fieldValIdxOff:
				f.ValIdxPointer.Offset = v
			case fieldValIdxSize:
				f.ValIdxPointer.Size = v
			case fieldHasValIdx:
				f.HasValIdx = v != 0
			case fieldDictOff:
				f.DictPointer.Offset = v
			case fieldDictSize:
				f.DictPointer.Size = v
			case fieldHasDict:
				f.HasDict = v != 0
			default:
				return nil, kuduerr.NewCorruption("footer: unknown field %d", num)
			}
		case protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, kuduerr.NewCorruption("footer: bad string for field %d", num)
			}
			b = b[n:]
			switch num {
			case fieldMetaKey:
				pendingKey = s
				havePendingKey = true
			case fieldMetaVal:
				if !havePendingKey {
					return nil, kuduerr.NewCorruption("footer: metadata value without key")
				}
				f.Metadata[pendingKey] = s
				havePendingKey = false
			default:
				return nil, kuduerr.NewCorruption("footer: unknown bytes field %d", num)
			}
		default:
			return nil, kuduerr.NewCorruption("footer: unsupported wire type %d", typ)
		}
	}
	return f, nil
}
