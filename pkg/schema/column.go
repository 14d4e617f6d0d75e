package schema

import "github.com/kudu-go/kudu/pkg/common"

// ColumnSchema describes one column of a Schema.
type ColumnSchema struct {
	ID          common.ColumnID
	idAssigned  bool
	Name        string
	Type        LogicalType
	Nullable    bool
	Immutable   bool
	ReadDefault interface{}
	WriteDefault interface{}
	Attrs       StorageAttributes
	// AutoIncrement marks the (at most one) INT64 key column whose values
	// are assigned by the tablet rather than the client.
	AutoIncrement bool
}

// IsVirtual reports whether this column is the synthetic is_deleted column.
func (c *ColumnSchema) IsVirtual() bool {
	return c.Type == IsDeleted
}

// HasAssignedID reports whether this column carries a stable ColumnID. A
// client projection schema never assigns ids; a server schema always does.
func (c *ColumnSchema) HasAssignedID() bool {
	return c.idAssigned
}

// AssignID stamps the column with a stable numeric id, the way the server
// does when installing a client-submitted projection schema.
func (c *ColumnSchema) AssignID(id common.ColumnID) {
	c.ID = id
	c.idAssigned = true
}
