// Package cfile implements the append-only columnar file format of spec
// §3/§4.B/§6: per-column encodings, sparse positional/value indexes, and a
// footer. Grounded on original_source/src/kudu/cfile/{type_encodings.h,
// binary_dict_block.cc,cfile_writer.h}.
package cfile

import "github.com/kudu-go/kudu/pkg/schema"

// Magic bytes bracket the file per spec §6 on-disk layout.
var Magic = [8]byte{'k', 'u', 'd', 'u', 'c', 'f', 'l', '1'}

// BlockBuilder is the narrow capability set every encoding implements, per
// spec §9 "Polymorphism": a finite operation list rather than deep
// inheritance.
type BlockBuilder interface {
	// Add appends up to n values (column-major, type asserted by the
	// concrete encoding) and returns the count actually added before the
	// block reported itself full.
	Add(values interface{}, n int) (added int, err error)
	// IsBlockFull reports whether the builder should be flushed before
	// accepting more values.
	IsBlockFull() bool
	// Finish serializes the accumulated block, returning the first and
	// last encoded keys observed (for index insertion) and the payload.
	Finish() (firstKey, lastKey []byte, payload []byte, err error)
	// Reset clears accumulated state so the builder can be reused for the
	// next block.
	Reset()
	Count() int
}

// BlockDecoder is the read-side counterpart of BlockBuilder.
type BlockDecoder interface {
	// ParseHeader consumes the block's encoding-specific header from buf
	// and returns the remaining payload.
	ParseHeader(buf []byte) (payload []byte, err error)
	// SeekToPositionInBlock repositions the decoder to the n-th value
	// within the block (0-based).
	SeekToPositionInBlock(n int) error
	// CopyNextValues decodes up to n values into dst (column-major; dst
	// must have room for n values, its length is not checked) and returns
	// the count decoded.
	CopyNextValues(n int, dst []interface{}) (int, error)
	Count() int
	CurrentPosition() int
}

// EncodingForType returns the encoding a column should use when its
// StorageAttributes request AutoEncoding, mirroring the original's
// default-encoding table in type_encodings.h.
func EncodingForType(t schema.LogicalType) schema.Encoding {
	switch t {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64, schema.Float, schema.Double,
		schema.TimestampMicros, schema.Date, schema.Decimal32, schema.Decimal64, schema.Decimal128:
		return schema.BitShuffleEncoding
	case schema.String, schema.Binary, schema.Varchar:
		return schema.DictEncoding
	default:
		return schema.PlainEncoding
	}
}
