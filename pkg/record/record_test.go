package record_test

import (
	"errors"
	"testing"

	"raptordb/pkg/record"

	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *record.Schema {
	schema, err := record.NewSchema("users", []record.Column{
		{Name: "id", Type: record.IntType, NotNull: true},
		{Name: "name", Type: record.VarcharType(20)},
		{Name: "score", Type: record.FloatType},
	})
	require.NoError(t, err)
	return schema
}

func TestSchemaLayout(t *testing.T) {
	t.Parallel()
	schema := testSchema(t)
	require.Equal(t, 1, schema.NullBitmapSize())
	require.Equal(t, 1+4+20+8, schema.RecordSize())
	require.Equal(t, 1, schema.Offset(0))
	require.Equal(t, 5, schema.Offset(1))
	require.Equal(t, 25, schema.Offset(2))

	idx, ok := schema.FindColumn("score")
	require.True(t, ok)
	require.Equal(t, 2, idx)
	_, ok = schema.FindColumn("Score") // identifiers are case-sensitive
	require.False(t, ok)
}

func TestDuplicateColumnRejected(t *testing.T) {
	t.Parallel()
	_, err := record.NewSchema("t", []record.Column{
		{Name: "a", Type: record.IntType},
		{Name: "a", Type: record.FloatType},
	})
	require.ErrorIs(t, err, record.ErrDuplicateColumn)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	schema := testSchema(t)
	rec := record.NewRecord([]record.Value{
		record.IntValue(7),
		record.StringValue("alice"),
		record.FloatValue(95.5),
	})
	data, err := schema.Serialize(rec)
	require.NoError(t, err)
	require.Len(t, data, schema.RecordSize())

	got, err := schema.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestRoundTripWithNulls(t *testing.T) {
	t.Parallel()
	schema := testSchema(t)
	rec := record.NewRecord([]record.Value{
		record.IntValue(1),
		record.NullValue(),
		record.NullValue(),
	})
	data, err := schema.Serialize(rec)
	require.NoError(t, err)
	got, err := schema.Deserialize(data)
	require.NoError(t, err)
	require.True(t, got.Values[1].IsNull())
	require.True(t, got.Values[2].IsNull())
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	schema := testSchema(t)

	err := schema.Validate([]record.Value{record.IntValue(1)})
	require.ErrorIs(t, err, record.ErrArityMismatch)

	err = schema.Validate([]record.Value{
		record.NullValue(), record.NullValue(), record.NullValue(),
	})
	require.ErrorIs(t, err, record.ErrNotNull)

	err = schema.Validate([]record.Value{
		record.StringValue("x"), record.NullValue(), record.NullValue(),
	})
	require.ErrorIs(t, err, record.ErrTypeMismatch)

	err = schema.Validate([]record.Value{
		record.IntValue(1), record.StringValue("a name far longer than twenty bytes"), record.NullValue(),
	})
	require.ErrorIs(t, err, record.ErrVarcharTooLong)
}

func TestStringPaddingStripped(t *testing.T) {
	t.Parallel()
	schema := testSchema(t)
	rec := record.NewRecord([]record.Value{
		record.IntValue(1), record.StringValue("bo"), record.NullValue(),
	})
	data, err := schema.Serialize(rec)
	require.NoError(t, err)
	got, err := schema.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, "bo", got.Values[1].Str())
}

func TestCompare(t *testing.T) {
	t.Parallel()
	cmp, ok := record.IntValue(1).Compare(record.IntValue(2))
	require.True(t, ok)
	require.Negative(t, cmp)

	cmp, ok = record.IntValue(2).Compare(record.FloatValue(1.5))
	require.True(t, ok)
	require.Positive(t, cmp)

	_, ok = record.NullValue().Compare(record.IntValue(1))
	require.False(t, ok)

	_, ok = record.StringValue("a").Compare(record.IntValue(1))
	require.False(t, ok)

	cmp, ok = record.StringValue("ab").Compare(record.StringValue("ac"))
	require.True(t, ok)
	require.Negative(t, cmp)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	require.Equal(t, "NULL", record.NullValue().Format())
	require.Equal(t, "42", record.IntValue(42).Format())
	require.Equal(t, "1.50", record.FloatValue(1.5).Format())
	require.Equal(t, "hi", record.StringValue("hi").Format())
}

func TestParseColumnType(t *testing.T) {
	t.Parallel()
	for _, colType := range []record.ColumnType{
		record.IntType, record.FloatType, record.VarcharType(17),
	} {
		parsed, err := record.ParseColumnType(colType.String())
		require.NoError(t, err)
		require.Equal(t, colType, parsed)
	}
	_, err := record.ParseColumnType("DATETIME")
	require.Error(t, err)
	require.False(t, errors.Is(err, record.ErrTypeMismatch))
}
