// Package catalog persists per-database metadata (tables, columns,
// constraints, indexes) as a JSON sidecar file next to the table and index
// files. Mutations rewrite the file atomically.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"raptordb/pkg/config"
	"raptordb/pkg/record"
)

// Errors surfaced by the catalog.
var (
	ErrTableNotFound  = errors.New("table not found")
	ErrTableExists    = errors.New("table already exists")
	ErrColumnNotFound = errors.New("column not found")
)

// ColumnMeta describes one column of a table.
type ColumnMeta struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	NotNull bool    `json:"not_null"`
	Default *string `json:"default,omitempty"`
}

// ForeignKeyMeta describes one foreign key constraint.
type ForeignKeyMeta struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
}

// IndexMeta describes one secondary index: the indexed column and the index
// file holding its B+ tree.
type IndexMeta struct {
	Column string `json:"column"`
	File   string `json:"file"`
}

// TableMeta describes one table.
type TableMeta struct {
	Name        string           `json:"name"`
	Columns     []ColumnMeta     `json:"columns"`
	PrimaryKey  []string         `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKeyMeta `json:"foreign_keys,omitempty"`
	Indexes     []IndexMeta      `json:"indexes,omitempty"`
}

// Catalog is the metadata of one database.
type Catalog struct {
	Name   string       `json:"name"`
	Tables []*TableMeta `json:"tables"`
}

// New returns an empty catalog for a database.
func New(name string) *Catalog {
	return &Catalog{Name: name}
}

// Load reads the catalog file of the database directory.
func Load(dir string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, config.CatalogFileName))
	if err != nil {
		return nil, err
	}
	cat := &Catalog{}
	if err := json.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("corrupt catalog in %s: %w", dir, err)
	}
	return cat, nil
}

// Save atomically rewrites the catalog file: the new content is written to
// a temporary file in the same directory, then renamed over the old file,
// so readers observe either the old or the new catalog in full.
func (cat *Catalog) Save(dir string) error {
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, config.CatalogFileName+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, config.CatalogFileName))
}

// GetTable returns the metadata of the named table.
func (cat *Catalog) GetTable(name string) (*TableMeta, error) {
	for _, table := range cat.Tables {
		if table.Name == name {
			return table, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
}

// HasTable reports whether the catalog holds the named table.
func (cat *Catalog) HasTable(name string) bool {
	_, err := cat.GetTable(name)
	return err == nil
}

// AddTable registers a new table, erroring if the name is taken.
func (cat *Catalog) AddTable(table *TableMeta) error {
	if cat.HasTable(table.Name) {
		return fmt.Errorf("%w: %s", ErrTableExists, table.Name)
	}
	cat.Tables = append(cat.Tables, table)
	return nil
}

// DropTable removes a table from the catalog.
func (cat *Catalog) DropTable(name string) error {
	for i, table := range cat.Tables {
		if table.Name == name {
			cat.Tables = append(cat.Tables[:i], cat.Tables[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTableNotFound, name)
}

// FindColumn returns the index of the named column.
func (meta *TableMeta) FindColumn(name string) (int, error) {
	for i, col := range meta.Columns {
		if col.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, meta.Name, name)
}

// FindIndex returns the secondary index on the named column, if any.
func (meta *TableMeta) FindIndex(column string) (IndexMeta, bool) {
	for _, idx := range meta.Indexes {
		if idx.Column == column {
			return idx, true
		}
	}
	return IndexMeta{}, false
}

// ColumnType parses the column's rendered type.
func (col ColumnMeta) ColumnType() (record.ColumnType, error) {
	return record.ParseColumnType(col.Type)
}

// DefaultValue parses the column's default into a typed value; columns
// without a default yield null.
func (col ColumnMeta) DefaultValue() (record.Value, error) {
	if col.Default == nil {
		return record.NullValue(), nil
	}
	colType, err := col.ColumnType()
	if err != nil {
		return record.Value{}, err
	}
	switch colType.Kind {
	case record.TypeInt:
		v, err := strconv.ParseInt(*col.Default, 10, 32)
		if err != nil {
			return record.Value{}, fmt.Errorf("bad default for %s: %w", col.Name, err)
		}
		return record.IntValue(int32(v)), nil
	case record.TypeFloat:
		v, err := strconv.ParseFloat(*col.Default, 64)
		if err != nil {
			return record.Value{}, fmt.Errorf("bad default for %s: %w", col.Name, err)
		}
		return record.FloatValue(v), nil
	default:
		return record.StringValue(*col.Default), nil
	}
}

// Schema converts the table metadata into a record schema.
func (meta *TableMeta) Schema() (*record.Schema, error) {
	columns := make([]record.Column, len(meta.Columns))
	for i, col := range meta.Columns {
		colType, err := col.ColumnType()
		if err != nil {
			return nil, err
		}
		def, err := col.DefaultValue()
		if err != nil {
			return nil, err
		}
		columns[i] = record.Column{
			Name:    col.Name,
			Type:    colType,
			NotNull: col.NotNull,
			Default: def,
		}
	}
	return record.NewSchema(meta.Name, columns)
}
