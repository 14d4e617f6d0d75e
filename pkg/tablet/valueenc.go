package tablet

import (
	"encoding/binary"
	"math"

	"github.com/kudu-go/kudu/pkg/cfile"
	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

// resolvedEncoding mirrors cfile.Writer's own AutoEncoding resolution so
// callers building column batches know up front which Go shape (uint64 vs
// []byte) cfile.Writer.AppendEntries expects for a given column.
func resolvedEncoding(col schema.ColumnSchema) schema.Encoding {
	if col.Attrs.Encoding != schema.AutoEncoding {
		return col.Attrs.Encoding
	}
	return cfile.EncodingForType(col.Type)
}

// isFixedWidth reports whether col's resolved encoding stores values as
// bit-shuffled uint64 bit patterns (true) or as raw []byte (false).
func isFixedWidth(col schema.ColumnSchema) bool {
	return resolvedEncoding(col) == schema.BitShuffleEncoding
}

// valueToUint64 converts a native column value to the little-endian uint64
// bit pattern cfile.Writer's bit-shuffle path expects, truncated to the
// column's element size on the decode side.
func valueToUint64(t schema.LogicalType, v interface{}) (uint64, error) {
	switch t {
	case schema.Bool:
		b, ok := v.(bool)
		if !ok {
			return 0, kuduerr.NewInvalidArgument("expected bool, got %T", v)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case schema.Float:
		f, ok := toFloat32(v)
		if !ok {
			return 0, kuduerr.NewInvalidArgument("expected float32-able value, got %T", v)
		}
		return uint64(math.Float32bits(f)), nil
	case schema.Double:
		f, ok := toFloat64(v)
		if !ok {
			return 0, kuduerr.NewInvalidArgument("expected float64-able value, got %T", v)
		}
		return math.Float64bits(f), nil
	default:
		u, err := toUint64(v)
		if err != nil {
			return 0, err
		}
		return u, nil
	}
}

func toFloat32(v interface{}) (float32, bool) {
	switch f := v.(type) {
	case float32:
		return f, true
	case float64:
		return float32(f), true
	default:
		return 0, false
	}
}

// uint64ToValue is valueToUint64's inverse, applied to the raw uint64
// bit-pattern a cfile decoder returns.
func uint64ToValue(t schema.LogicalType, u uint64) interface{} {
	switch t {
	case schema.Bool:
		return u != 0
	case schema.Float:
		return math.Float32frombits(uint32(u))
	case schema.Double:
		return math.Float64frombits(u)
	case schema.Int8:
		return int8(u)
	case schema.Int16:
		return int16(u)
	case schema.Int32, schema.Date:
		return int32(u)
	default:
		return int64(u)
	}
}

// rawBytesToUint64 decodes the little-endian bit pattern MemRowSet stores
// for a fixed-width column back to a uint64, for handing to cfile.Writer.
func rawBytesToUint64(raw []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:], raw)
	return binary.LittleEndian.Uint64(tmp[:])
}

// uint64ToRawBytes is rawBytesToUint64's inverse, truncated to elemSize.
func uint64ToRawBytes(u uint64, elemSize int) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], u)
	return append([]byte(nil), tmp[:elemSize]...)
}

// columnElemSize mirrors cfile's internal fixed-width sizing table for the
// logical types this package actually writes (Decimal128 is intentionally
// excluded: cfile's bit-shuffle codec only round-trips up to 64-bit
// magnitudes through the uint64-based Add/CopyNextValues entry points).
func columnElemSize(t schema.LogicalType) int {
	switch t {
	case schema.Int8, schema.Bool:
		return 1
	case schema.Int16:
		return 2
	case schema.Int32, schema.Float, schema.Date:
		return 4
	default:
		return 8
	}
}
