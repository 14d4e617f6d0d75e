package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func simpleKeyCol(name string, typ LogicalType) ColumnSchema {
	return ColumnSchema{Name: name, Type: typ, Nullable: false}
}

func TestNewSchemaValidColumns(t *testing.T) {
	s, err := New([]ColumnSchema{
		simpleKeyCol("id", Int32),
		{Name: "val", Type: String, Nullable: true},
	}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, s.NumKeyColumns)
	require.False(t, s.HasColumnIDs())
}

func TestNewSchemaRejectsNullableKey(t *testing.T) {
	_, err := New([]ColumnSchema{
		{Name: "id", Type: Int32, Nullable: true},
	}, 1)
	require.Error(t, err)
}

func TestNewSchemaRejectsDuplicateNames(t *testing.T) {
	_, err := New([]ColumnSchema{
		simpleKeyCol("id", Int32),
		simpleKeyCol("id", Int32),
	}, 1)
	require.Error(t, err)
}

func TestNewSchemaRejectsMultipleAutoIncrementKeys(t *testing.T) {
	_, err := New([]ColumnSchema{
		{Name: "a", Type: Int64, AutoIncrement: true},
		{Name: "b", Type: Int64, AutoIncrement: true},
	}, 2)
	require.Error(t, err)
}

func TestNewSchemaVirtualColumnMustBeNonNullableWithDefault(t *testing.T) {
	_, err := New([]ColumnSchema{
		simpleKeyCol("id", Int32),
		{Name: "is_deleted", Type: IsDeleted, Nullable: false, ReadDefault: false},
	}, 1)
	require.NoError(t, err)

	_, err = New([]ColumnSchema{
		simpleKeyCol("id", Int32),
		{Name: "is_deleted", Type: IsDeleted, Nullable: false},
	}, 1)
	require.Error(t, err)
}

func TestRowBlockInvariants(t *testing.T) {
	s, err := New([]ColumnSchema{
		simpleKeyCol("id", Int32),
		{Name: "val", Type: String, Nullable: true},
	}, 1)
	require.NoError(t, err)

	rb := NewRowBlock(s, 8)
	require.NoError(t, rb.SetNumRows(5))
	require.Equal(t, 5, rb.Selection.NumRows())
	require.Equal(t, 5, rb.Selection.CountSelected())

	rb.Selection.SetRowSelected(2, false)
	require.False(t, rb.Selection.IsRowSelected(2))
	require.Equal(t, 4, rb.Selection.CountSelected())

	require.Error(t, rb.SetNumRows(100))
}
