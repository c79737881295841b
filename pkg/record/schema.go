package record

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Column is one column definition: name, type, not-null flag and default.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
	Default Value
}

// Schema is the ordered list of column definitions of a table, with the
// per-column record offsets precomputed.
type Schema struct {
	table          string
	columns        []Column
	offsets        []int
	nullBitmapSize int
	recordSize     int
}

// NewSchema constructs a schema, erroring on duplicate column names.
func NewSchema(table string, columns []Column) (*Schema, error) {
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if seen[col.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, col.Name)
		}
		seen[col.Name] = true
	}
	nullBitmapSize := (len(columns) + 7) / 8
	offsets := make([]int, len(columns))
	offset := nullBitmapSize
	for i, col := range columns {
		offsets[i] = offset
		offset += col.Type.Size()
	}
	return &Schema{
		table:          table,
		columns:        columns,
		offsets:        offsets,
		nullBitmapSize: nullBitmapSize,
		recordSize:     offset,
	}, nil
}

// TableName returns the name of the table this schema describes.
func (schema *Schema) TableName() string {
	return schema.table
}

// Columns returns the ordered column definitions.
func (schema *Schema) Columns() []Column {
	return schema.columns
}

// Column returns the definition of the i-th column.
func (schema *Schema) Column(i int) Column {
	return schema.columns[i]
}

// NumColumns returns the number of columns.
func (schema *Schema) NumColumns() int {
	return len(schema.columns)
}

// FindColumn returns the index of the named column. Identifier matching is
// case-sensitive.
func (schema *Schema) FindColumn(name string) (int, bool) {
	for i, col := range schema.columns {
		if col.Name == name {
			return i, true
		}
	}
	return 0, false
}

// RecordSize returns the serialized record size including the null bitmap.
func (schema *Schema) RecordSize() int {
	return schema.recordSize
}

// NullBitmapSize returns the size of the record's null bitmap in bytes.
func (schema *Schema) NullBitmapSize() int {
	return schema.nullBitmapSize
}

// Offset returns the byte offset of the i-th column within a record.
func (schema *Schema) Offset(i int) int {
	return schema.offsets[i]
}

// Validate checks a row of values against the schema: arity, NOT NULL, type
// compatibility and VARCHAR length.
func (schema *Schema) Validate(values []Value) error {
	if len(values) != len(schema.columns) {
		return fmt.Errorf("%w: expected %d values, got %d",
			ErrArityMismatch, len(schema.columns), len(values))
	}
	for i, value := range values {
		col := schema.columns[i]
		if value.IsNull() {
			if col.NotNull {
				return fmt.Errorf("%w: column %s", ErrNotNull, col.Name)
			}
			continue
		}
		if !value.Matches(col.Type) {
			return fmt.Errorf("%w: column %s holds %v", ErrTypeMismatch, col.Name, col.Type)
		}
		if col.Type.Kind == TypeVarchar && len(value.Str()) > col.Type.Length {
			return fmt.Errorf("%w: column %s holds at most %d bytes",
				ErrVarcharTooLong, col.Name, col.Type.Length)
		}
	}
	return nil
}

// Record is a row of values in schema order.
type Record struct {
	Values []Value
}

// NewRecord constructs a record from values.
func NewRecord(values []Value) Record {
	return Record{Values: values}
}

// Serialize encodes the record against the schema: a null bitmap (bit i set
// when column i is null, LSB-first within each byte) followed by the
// fixed-width little-endian column values. Null columns serialize as zeros.
func (schema *Schema) Serialize(rec Record) ([]byte, error) {
	if err := schema.Validate(rec.Values); err != nil {
		return nil, err
	}
	data := make([]byte, schema.recordSize)
	for i, value := range rec.Values {
		if value.IsNull() {
			data[i/8] |= 1 << (i % 8)
			continue
		}
		col := schema.columns[i]
		value = value.Coerce(col.Type)
		offset := schema.offsets[i]
		switch col.Type.Kind {
		case TypeInt:
			binary.LittleEndian.PutUint32(data[offset:], uint32(value.Int()))
		case TypeFloat:
			binary.LittleEndian.PutUint64(data[offset:], math.Float64bits(value.Float()))
		case TypeVarchar:
			copy(data[offset:offset+col.Type.Length], value.Str())
		}
	}
	return data, nil
}

// Deserialize decodes a record serialized with Serialize. VARCHAR values
// have their trailing zero padding stripped.
func (schema *Schema) Deserialize(data []byte) (Record, error) {
	if len(data) < schema.recordSize {
		return Record{}, fmt.Errorf("record too short: %d bytes", len(data))
	}
	values := make([]Value, len(schema.columns))
	for i, col := range schema.columns {
		if data[i/8]&(1<<(i%8)) != 0 {
			values[i] = NullValue()
			continue
		}
		offset := schema.offsets[i]
		switch col.Type.Kind {
		case TypeInt:
			values[i] = IntValue(int32(binary.LittleEndian.Uint32(data[offset:])))
		case TypeFloat:
			values[i] = FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(data[offset:])))
		case TypeVarchar:
			raw := data[offset : offset+col.Type.Length]
			end := len(raw)
			for end > 0 && raw[end-1] == 0 {
				end--
			}
			values[i] = StringValue(string(raw[:end]))
		}
	}
	return NewRecord(values), nil
}
