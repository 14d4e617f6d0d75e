package schema

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// SelectionVector marks which rows of a RowBlock are live. Exclusive to the
// reading thread per spec §5 shared-resource policy.
type SelectionVector struct {
	bits  *roaring.Bitmap
	nrows int
}

// NewSelectionVector builds a vector with all nrows rows initially selected.
func NewSelectionVector(nrows int) *SelectionVector {
	b := roaring.New()
	b.AddRange(0, uint64(nrows))
	return &SelectionVector{bits: b, nrows: nrows}
}

func (sv *SelectionVector) NumRows() int { return sv.nrows }

func (sv *SelectionVector) IsRowSelected(i int) bool { return sv.bits.ContainsInt(i) }

func (sv *SelectionVector) SetRowSelected(i int, selected bool) {
	if selected {
		sv.bits.AddInt(i)
	} else {
		sv.bits.Remove(uint32(i))
	}
}

func (sv *SelectionVector) CountSelected() int { return int(sv.bits.GetCardinality()) }

func (sv *SelectionVector) ClearAll() { sv.bits.Clear() }

// Column is one contiguous typed array of a RowBlock, plus an optional null
// bitmap, per spec §3 "Row & RowBlock".
type Column struct {
	Schema    ColumnSchema
	Data      []interface{} // column-major storage; encodings in pkg/cfile decode into this shape
	NullBitmap *roaring.Bitmap // present iff Schema.Nullable
}

func NewColumn(cs ColumnSchema, capacity int) Column {
	col := Column{Schema: cs, Data: make([]interface{}, capacity)}
	if cs.Nullable {
		col.NullBitmap = roaring.New()
	}
	return col
}

func (c *Column) IsNull(row int) bool {
	if c.NullBitmap == nil {
		return false
	}
	return c.NullBitmap.ContainsInt(row)
}

func (c *Column) SetNull(row int, isNull bool) {
	if c.NullBitmap == nil {
		return
	}
	if isNull {
		c.NullBitmap.AddInt(row)
	} else {
		c.NullBitmap.Remove(uint32(row))
	}
}

// RowBlock is a column-major block of up to Capacity rows.
type RowBlock struct {
	Schema    *Schema
	Columns   []Column
	Selection *SelectionVector
	Capacity  int
	NumRows   int
}

// NewRowBlock allocates a block with identical row capacity across columns,
// satisfying the RowBlock invariant of spec §3.
func NewRowBlock(s *Schema, capacity int) *RowBlock {
	cols := make([]Column, len(s.Columns))
	for i, cs := range s.Columns {
		cols[i] = NewColumn(cs, capacity)
	}
	return &RowBlock{
		Schema:    s,
		Columns:   cols,
		Selection: NewSelectionVector(capacity),
		Capacity:  capacity,
	}
}

// SetNumRows resizes the active row count; NewRowBlock pre-allocates
// Capacity so this never reallocates column storage.
func (rb *RowBlock) SetNumRows(n int) error {
	if n > rb.Capacity {
		return kuduerr.NewInvalidArgument("row count %d exceeds block capacity %d", n, rb.Capacity)
	}
	rb.NumRows = n
	rb.Selection = NewSelectionVector(n)
	return nil
}
