package database

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"raptordb/pkg/catalog"
	"raptordb/pkg/entry"
	"raptordb/pkg/record"
	"raptordb/pkg/sql"
)

// appliedRow tracks one row's applied sub-steps so a failed statement can
// be unwound in reverse order.
type appliedRow struct {
	rid  entry.RID
	keys []appliedKey
}

type appliedKey struct {
	index int // position in the indexColumn slice
	key   int64
}

// insert executes INSERT INTO. All pre-checks (types, NOT NULL, primary key
// uniqueness, foreign key existence) run before any write; the remaining
// window (index inserts after the table insert) is undone by reverse-order
// index deletes and a table delete on error.
func (db *Database) insert(stmt sql.Insert) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	table, err := db.openTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	schema := table.Schema()

	records := make([]record.Record, 0, len(stmt.Rows))
	for _, row := range stmt.Rows {
		rec, err := db.buildRecord(schema, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := db.checkPrimaryKey(meta, records); err != nil {
		return nil, err
	}
	if err := db.checkForeignKeys(meta, records); err != nil {
		return nil, err
	}

	indexes, err := db.openTableIndexes(meta)
	if err != nil {
		return nil, err
	}
	var applied []appliedRow
	for _, rec := range records {
		rid, err := table.Insert(rec)
		if err != nil {
			db.unwind(table, indexes, applied)
			return nil, err
		}
		row := appliedRow{rid: rid}
		for i, ic := range indexes {
			value := rec.Values[ic.colIdx]
			if value.IsNull() {
				continue
			}
			key := int64(value.Int())
			if err := ic.index.Insert(key, rid); err != nil {
				db.unwind(table, indexes, append(applied, row))
				return nil, err
			}
			row.keys = append(row.keys, appliedKey{index: i, key: key})
		}
		applied = append(applied, row)
	}
	return affectedResult(int64(len(records))), nil
}

// buildRecord converts one VALUES row, filling omitted trailing columns
// with their defaults, and validates it against the schema.
func (db *Database) buildRecord(schema *record.Schema, row []sql.Value) (record.Record, error) {
	if len(row) > schema.NumColumns() {
		return record.Record{}, fmt.Errorf("%w: expected %d values, got %d",
			record.ErrArityMismatch, schema.NumColumns(), len(row))
	}
	values := make([]record.Value, schema.NumColumns())
	for i := 0; i < schema.NumColumns(); i++ {
		col := schema.Column(i)
		if i < len(row) {
			value, err := convertValue(row[i], col)
			if err != nil {
				return record.Record{}, err
			}
			values[i] = value
		} else {
			values[i] = col.Default
		}
	}
	rec := record.NewRecord(values)
	if err := schema.Validate(rec.Values); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// unwind reverses partially applied rows: each row's index inserts are
// deleted in reverse order, then its record. Index deletes of absent
// entries are no-ops, so unwinding is idempotent.
func (db *Database) unwind(table *record.Table, indexes []indexColumn, applied []appliedRow) {
	for i := len(applied) - 1; i >= 0; i-- {
		row := applied[i]
		for j := len(row.keys) - 1; j >= 0; j-- {
			key := row.keys[j]
			_ = indexes[key.index].index.Delete(key.key, row.rid)
		}
		_ = table.Delete(row.rid)
	}
}

// delete executes DELETE FROM: collect the targets, reject the statement if
// a child row references one of them, then remove index entries and rows.
func (db *Database) delete(stmt sql.Delete) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	table, err := db.openTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	filters, err := db.compileFilters(meta, table.Schema(), stmt.Where)
	if err != nil {
		return nil, err
	}
	targets, err := db.scanTargets(meta, table, filters)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return affectedResult(0), nil
	}

	if len(meta.PrimaryKey) > 0 {
		pkIdxs, err := columnIndexes(meta, meta.PrimaryKey)
		if err != nil {
			return nil, err
		}
		removed := newTupleSet()
		for _, t := range targets {
			removed.Add(tupleOf(t.rec, pkIdxs))
		}
		if err := db.checkNotReferenced(meta, removed); err != nil {
			return nil, err
		}
	}

	indexes, err := db.openTableIndexes(meta)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		for _, ic := range indexes {
			value := t.rec.Values[ic.colIdx]
			if value.IsNull() {
				continue
			}
			if err := ic.index.Delete(int64(value.Int()), t.rid); err != nil {
				return nil, err
			}
		}
		if err := table.Delete(t.rid); err != nil {
			return nil, err
		}
	}
	return affectedResult(int64(len(targets))), nil
}

// update executes UPDATE ... SET: pre-checks the new values (types, NOT
// NULL, primary key uniqueness, foreign key existence, referential safety
// of key changes), then rewrites each record in place and swaps the index
// entries of changed columns.
func (db *Database) update(stmt sql.Update) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	table, err := db.openTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	schema := table.Schema()

	// Resolve the SET list.
	changed := make(map[int]record.Value, len(stmt.Sets))
	for _, set := range stmt.Sets {
		colIdx, ok := schema.FindColumn(set.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", catalog.ErrColumnNotFound, stmt.Table, set.Column)
		}
		value, err := convertValue(set.Value, schema.Column(colIdx))
		if err != nil {
			return nil, err
		}
		changed[colIdx] = value
	}

	filters, err := db.compileFilters(meta, schema, stmt.Where)
	if err != nil {
		return nil, err
	}
	targets, err := db.scanTargets(meta, table, filters)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return affectedResult(0), nil
	}

	// Build and validate the new records.
	updated := make([]record.Record, len(targets))
	for i, t := range targets {
		values := make([]record.Value, len(t.rec.Values))
		copy(values, t.rec.Values)
		for colIdx, value := range changed {
			values[colIdx] = value
		}
		updated[i] = record.NewRecord(values)
		if err := schema.Validate(updated[i].Values); err != nil {
			return nil, err
		}
	}

	if err := db.checkUpdateKeys(meta, table, targets, updated, changed); err != nil {
		return nil, err
	}

	indexes, err := db.openTableIndexes(meta)
	if err != nil {
		return nil, err
	}
	for i, t := range targets {
		for _, ic := range indexes {
			if _, isChanged := changed[ic.colIdx]; !isChanged {
				continue
			}
			oldValue := t.rec.Values[ic.colIdx]
			if !oldValue.IsNull() {
				if err := ic.index.Delete(int64(oldValue.Int()), t.rid); err != nil {
					return nil, err
				}
			}
		}
		if err := table.Update(t.rid, updated[i]); err != nil {
			return nil, err
		}
		for _, ic := range indexes {
			if _, isChanged := changed[ic.colIdx]; !isChanged {
				continue
			}
			newValue := updated[i].Values[ic.colIdx]
			if !newValue.IsNull() {
				if err := ic.index.Insert(int64(newValue.Int()), t.rid); err != nil {
					return nil, err
				}
			}
		}
	}
	return affectedResult(int64(len(targets))), nil
}

// checkUpdateKeys pre-checks the constraint consequences of an update: the
// new primary keys stay unique, changed foreign keys still have parents,
// and no child still references a primary key that would change.
func (db *Database) checkUpdateKeys(meta *catalog.TableMeta, table *record.Table,
	targets []target, updated []record.Record, changed map[int]record.Value) error {

	pkIdxs, err := columnIndexes(meta, meta.PrimaryKey)
	if err != nil {
		return err
	}
	pkChanged := false
	for _, idx := range pkIdxs {
		if _, ok := changed[idx]; ok {
			pkChanged = true
		}
	}

	if pkChanged {
		// New key tuples must not collide with each other or with rows that
		// are not being rewritten.
		targetRIDs := make(map[entry.RID]bool, len(targets))
		for _, t := range targets {
			targetRIDs[t.rid] = true
		}
		existing := newTupleSet()
		cursor := table.Scan()
		for cursor.Next() {
			if targetRIDs[cursor.RID()] {
				continue
			}
			rec, err := cursor.Record()
			if err != nil {
				return err
			}
			existing.Add(tupleOf(rec, pkIdxs))
		}
		if err := cursor.Err(); err != nil {
			return err
		}
		for _, rec := range updated {
			if existing.Add(tupleOf(rec, pkIdxs)) {
				return fmt.Errorf("%w on PK(%s)", ErrPrimaryKey, meta.Name)
			}
		}

		// Rewriting a key a child still points at would orphan the child.
		rewritten := newTupleSet()
		rewrites := 0
		for i, t := range targets {
			oldTuple := tupleOf(t.rec, pkIdxs)
			newTuple := tupleOf(updated[i], pkIdxs)
			same := true
			for j := range oldTuple {
				if !oldTuple[j].Equal(newTuple[j]) {
					same = false
					break
				}
			}
			if !same {
				rewritten.Add(oldTuple)
				rewrites++
			}
		}
		if rewrites > 0 {
			if err := db.checkNotReferenced(meta, rewritten); err != nil {
				if errors.Is(err, ErrReferenced) {
					return fmt.Errorf("%w: updating a referenced primary key", ErrUnsupported)
				}
				return err
			}
		}
	}

	// Changed foreign key columns must still refer to extant parents.
	for _, fk := range meta.ForeignKeys {
		fkIdxs, err := columnIndexes(meta, fk.Columns)
		if err != nil {
			return err
		}
		touched := false
		for _, idx := range fkIdxs {
			if _, ok := changed[idx]; ok {
				touched = true
			}
		}
		if !touched {
			continue
		}
		checker, err := db.newFKChecker(fk.RefTable)
		if err != nil {
			return err
		}
		for _, rec := range updated {
			tuple := tupleOf(rec, fkIdxs)
			if tupleHasNull(tuple) {
				continue
			}
			exists, err := checker.Exists(tuple)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s", ErrForeignKey, fk.Name)
			}
		}
	}
	return nil
}

// loadData executes LOAD DATA INFILE: parse the CSV (comma separated,
// double-quote escaped, LF terminated) and insert the rows with the same
// constraint discipline as INSERT.
func (db *Database) loadData(stmt sql.LoadData) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	schema, err := meta.Schema()
	if err != nil {
		return nil, err
	}

	file, err := os.Open(stmt.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = schema.NumColumns()

	var rows [][]sql.Value
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]sql.Value, len(fields))
		for i, field := range fields {
			row[i], err = csvValue(field, schema.Column(i))
			if err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return affectedResult(0), nil
	}
	return db.insert(sql.Insert{Table: stmt.Table, Rows: rows})
}

// csvValue parses one CSV field as a literal for the column. A field reading
// NULL loads as null, whether or not it was quoted.
func csvValue(field string, col record.Column) (sql.Value, error) {
	if field == "NULL" {
		return sql.Value{Kind: sql.LitNull}, nil
	}
	switch col.Type.Kind {
	case record.TypeInt:
		v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return sql.Value{}, fmt.Errorf("%w: %q in column %s", record.ErrTypeMismatch, field, col.Name)
		}
		return sql.Value{Kind: sql.LitInt, Int: v}, nil
	case record.TypeFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return sql.Value{}, fmt.Errorf("%w: %q in column %s", record.ErrTypeMismatch, field, col.Name)
		}
		return sql.Value{Kind: sql.LitFloat, Float: v}, nil
	default:
		return sql.Value{Kind: sql.LitString, Str: field}, nil
	}
}
