// Package schema implements the data model of spec §3: Schema, RowBlock,
// and SelectionVector, grounded on original_source/src/kudu/common/schema.cc
// and rowblock.cc.
package schema

// LogicalType enumerates the column types a Schema admits.
type LogicalType uint8

const (
	Int8 LogicalType = iota
	Int16
	Int32
	Int64
	Float
	Double
	String
	Binary
	Bool
	TimestampMicros
	Date
	Decimal32
	Decimal64
	Decimal128
	Varchar
	IsDeleted // virtual bool column
)

// Encoding is the per-column on-disk encoding choice consumed by pkg/cfile.
type Encoding uint8

const (
	AutoEncoding Encoding = iota
	PlainEncoding
	BitShuffleEncoding
	DictEncoding
)

// Compression is the per-column block compression choice.
type Compression uint8

const (
	NoCompression Compression = iota
	LZ4Compression
)

// StorageAttributes groups the encoding/compression/block-size knobs a
// column carries, per spec §3 "Schema".
type StorageAttributes struct {
	Encoding       Encoding
	Compression    Compression
	TargetBlockSize int
}

func DefaultStorageAttributes() StorageAttributes {
	return StorageAttributes{
		Encoding:        AutoEncoding,
		Compression:     NoCompression,
		TargetBlockSize: 256 * 1024,
	}
}
