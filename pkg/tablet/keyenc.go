package tablet

import (
	"encoding/binary"
	"math"

	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/schema"
)

// EncodeKey builds the composite, order-preserving byte-string primary key
// spec §3 uses to order MemRowSet and the DiskRowSet key index: fixed-width
// numeric types are encoded big-endian (byte-comparable), strings/binary
// are length-prefixed.
func EncodeKey(s *schema.Schema, values []interface{}) ([]byte, error) {
	if len(values) != s.NumKeyColumns {
		return nil, kuduerr.NewInvalidArgument("expected %d key values, got %d", s.NumKeyColumns, len(values))
	}
	var out []byte
	for i, v := range values {
		col := s.Columns[i]
		enc, err := encodeKeyPart(col.Type, v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodeKeyPart(t schema.LogicalType, v interface{}) ([]byte, error) {
	switch t {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64, schema.TimestampMicros, schema.Date:
		u, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		// Flip the sign bit so two's-complement negative values still sort
		// before non-negative ones under byte comparison.
		flipped := u ^ (1 << 63)
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, flipped)
		return b, nil
	case schema.Float, schema.Double:
		f, ok := toFloat64(v)
		if !ok {
			return nil, kuduerr.NewInvalidArgument("expected numeric key value, got %T", v)
		}
		bits := math.Float64bits(f)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, bits)
		return b, nil
	case schema.String, schema.Binary, schema.Varchar:
		var raw []byte
		switch s := v.(type) {
		case []byte:
			raw = s
		case string:
			raw = []byte(s)
		default:
			return nil, kuduerr.NewInvalidArgument("expected string/[]byte key value, got %T", v)
		}
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(raw)))
		return append(lenBuf, raw...), nil
	default:
		return nil, kuduerr.NewInvalidArgument("unsupported key column type %v", t)
	}
}

func toUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case int64:
		return uint64(n), nil
	case int32:
		return uint64(int64(n)), nil
	case int16:
		return uint64(int64(n)), nil
	case int8:
		return uint64(int64(n)), nil
	case uint64:
		return n, nil
	case int:
		return uint64(int64(n)), nil
	default:
		return 0, kuduerr.NewInvalidArgument("expected integer key value, got %T", v)
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	default:
		return 0, false
	}
}
