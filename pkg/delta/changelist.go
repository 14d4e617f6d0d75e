package delta

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// MutationType is the kind of row-level change a RowChangeList carries.
type MutationType uint8

const (
	Update MutationType = iota
	Delete
	Reinsert
)

// ColumnUpdate sets column ColumnID to Value; a nil Value (with Null=true)
// sets the column to NULL.
type ColumnUpdate struct {
	ColumnID common.ColumnID
	Value    []byte
	Null     bool
}

// RowChangeList is the unit DMS and delta files store per (rowid,
// timestamp): either a set of column updates, a delete, or a reinsert
// carrying the row's full new column values.
type RowChangeList struct {
	Type    MutationType
	Updates []ColumnUpdate
}

const (
	fieldCLType    = 1
	fieldCLUpdate  = 2
	fieldUpdColID  = 1
	fieldUpdValue  = 2
	fieldUpdNull   = 3
)

func (cl RowChangeList) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCLType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cl.Type))
	for _, u := range cl.Updates {
		var ub []byte
		ub = protowire.AppendTag(ub, fieldUpdColID, protowire.VarintType)
		ub = protowire.AppendVarint(ub, uint64(u.ColumnID))
		if u.Null {
			ub = protowire.AppendTag(ub, fieldUpdNull, protowire.VarintType)
			ub = protowire.AppendVarint(ub, 1)
		} else {
			ub = protowire.AppendTag(ub, fieldUpdValue, protowire.BytesType)
			ub = protowire.AppendBytes(ub, u.Value)
		}
		b = protowire.AppendTag(b, fieldCLUpdate, protowire.BytesType)
		b = protowire.AppendBytes(b, ub)
	}
	return b
}

func UnmarshalRowChangeList(buf []byte) (RowChangeList, error) {
	var cl RowChangeList
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return cl, kuduerr.NewCorruption("row change list: bad tag")
		}
		buf = buf[n:]
		switch num {
		case fieldCLType:
			if typ != protowire.VarintType {
				return cl, kuduerr.NewCorruption("row change list: bad type field")
			}
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return cl, kuduerr.NewCorruption("row change list: truncated type field")
			}
			buf = buf[n:]
			cl.Type = MutationType(v)
		case fieldCLUpdate:
			if typ != protowire.BytesType {
				return cl, kuduerr.NewCorruption("row change list: bad update field")
			}
			raw, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return cl, kuduerr.NewCorruption("row change list: truncated update field")
			}
			buf = buf[n:]
			u, err := unmarshalColumnUpdate(raw)
			if err != nil {
				return cl, err
			}
			cl.Updates = append(cl.Updates, u)
		default:
			return cl, kuduerr.NewCorruption("row change list: unknown field %d", num)
		}
	}
	return cl, nil
}

func unmarshalColumnUpdate(buf []byte) (ColumnUpdate, error) {
	var u ColumnUpdate
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return u, kuduerr.NewCorruption("column update: bad tag")
		}
		buf = buf[n:]
		switch num {
		case fieldUpdColID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return u, kuduerr.NewCorruption("column update: truncated column id")
			}
			buf = buf[n:]
			u.ColumnID = common.ColumnID(v)
		case fieldUpdValue:
			if typ != protowire.BytesType {
				return u, kuduerr.NewCorruption("column update: bad value field")
			}
			raw, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return u, kuduerr.NewCorruption("column update: truncated value")
			}
			buf = buf[n:]
			u.Value = append([]byte(nil), raw...)
		case fieldUpdNull:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return u, kuduerr.NewCorruption("column update: truncated null field")
			}
			buf = buf[n:]
			u.Null = v != 0
		default:
			return u, kuduerr.NewCorruption("column update: unknown field %d", num)
		}
	}
	return u, nil
}

// Invert produces the UNDO change list that reverses cl, given the prior
// values of every column cl touches — used by MajorCompactRedos when it
// applies a REDO into the base and must record how to undo it.
func Invert(cl RowChangeList, priorValues map[common.ColumnID]ColumnUpdate) RowChangeList {
	inv := RowChangeList{Type: Update}
	switch cl.Type {
	case Delete:
		inv.Type = Reinsert
	case Reinsert:
		inv.Type = Delete
	default:
		for _, u := range cl.Updates {
			if prior, ok := priorValues[u.ColumnID]; ok {
				inv.Updates = append(inv.Updates, prior)
			}
		}
	}
	return inv
}
