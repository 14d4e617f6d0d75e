package schema

import (
	"fmt"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// Schema is an ordered list of columns; the first NumKeyColumns columns
// form the primary key.
type Schema struct {
	Columns       []ColumnSchema
	NumKeyColumns int
	Version       uint32
}

// New validates and constructs a Schema, enforcing the invariants of
// spec §3 "Schema": unique non-empty names, non-nullable key columns, at
// most one auto-increment INT64 key column, and the stricter virtual-column
// form noted as an open question in spec §9(i) — preserved rather than
// relaxed.
func New(columns []ColumnSchema, numKeyColumns int) (*Schema, error) {
	if numKeyColumns <= 0 || numKeyColumns > len(columns) {
		return nil, kuduerr.NewInvalidArgument("invalid key column count %d for %d columns", numKeyColumns, len(columns))
	}

	seen := make(map[string]struct{}, len(columns))
	autoIncrementKeys := 0
	for i := range columns {
		c := &columns[i]
		if c.Name == "" {
			return nil, kuduerr.NewInvalidArgument("column %d has empty name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, kuduerr.NewInvalidArgument("duplicate column name %q", c.Name)
		}
		seen[c.Name] = struct{}{}

		isKey := i < numKeyColumns
		if isKey && c.Nullable {
			return nil, kuduerr.NewInvalidArgument("key column %q must not be nullable", c.Name)
		}
		if c.AutoIncrement {
			if !isKey || c.Type != Int64 {
				return nil, kuduerr.NewInvalidArgument("auto-increment column %q must be an INT64 key column", c.Name)
			}
			autoIncrementKeys++
		}
		if c.IsVirtual() {
			// Open question (i): keep the stricter constraint form.
			if c.Nullable {
				return nil, kuduerr.NewInvalidArgument("virtual column %q must not be nullable", c.Name)
			}
			if c.ReadDefault == nil {
				return nil, kuduerr.NewInvalidArgument("virtual column %q requires a read default", c.Name)
			}
		}
	}
	if autoIncrementKeys > 1 {
		return nil, kuduerr.NewInvalidArgument("at most one auto-increment key column is allowed, got %d", autoIncrementKeys)
	}

	return &Schema{Columns: columns, NumKeyColumns: numKeyColumns}, nil
}

// HasColumnIDs reports whether every column carries a stable id. A
// server-side schema always does; a client projection never does.
func (s *Schema) HasColumnIDs() bool {
	for i := range s.Columns {
		if !s.Columns[i].HasAssignedID() {
			return false
		}
	}
	return true
}

// KeyColumns returns the primary-key prefix of the column list.
func (s *Schema) KeyColumns() []ColumnSchema {
	return s.Columns[:s.NumKeyColumns]
}

// ColumnByName finds a column by name, or (-1, false).
func (s *Schema) ColumnByName(name string) (int, bool) {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

func (s *Schema) String() string {
	return fmt.Sprintf("Schema{cols=%d, keys=%d, version=%d}", len(s.Columns), s.NumKeyColumns, s.Version)
}
