package database

import (
	"fmt"

	"raptordb/pkg/btree"
	"raptordb/pkg/catalog"
	"raptordb/pkg/record"
)

// tupleOf projects the values at the given column indexes out of a record.
func tupleOf(rec record.Record, idxs []int) []record.Value {
	tuple := make([]record.Value, len(idxs))
	for i, idx := range idxs {
		tuple[i] = rec.Values[idx]
	}
	return tuple
}

// tupleHasNull reports whether any value of the tuple is null.
func tupleHasNull(tuple []record.Value) bool {
	for _, v := range tuple {
		if v.IsNull() {
			return true
		}
	}
	return false
}

// columnIndexes resolves column names to their schema positions.
func columnIndexes(meta *catalog.TableMeta, names []string) ([]int, error) {
	idxs := make([]int, len(names))
	for i, name := range names {
		idx, err := meta.FindColumn(name)
		if err != nil {
			return nil, err
		}
		idxs[i] = idx
	}
	return idxs, nil
}

// parentKeySet scans a table and collects the transient hash set of its
// primary key tuples.
func (db *Database) parentKeySet(tableName string) (*tupleSet, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(tableName)
	if err != nil {
		return nil, err
	}
	if len(meta.PrimaryKey) == 0 {
		return nil, fmt.Errorf("table %s has no primary key to reference", tableName)
	}
	pkIdxs, err := columnIndexes(meta, meta.PrimaryKey)
	if err != nil {
		return nil, err
	}
	table, err := db.openTable(tableName)
	if err != nil {
		return nil, err
	}
	set := newTupleSet()
	cursor := table.Scan()
	for cursor.Next() {
		rec, err := cursor.Record()
		if err != nil {
			return nil, err
		}
		set.Add(tupleOf(rec, pkIdxs))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// fkChecker answers "does the referenced table contain this key tuple",
// through the parent's primary key index when it is a single indexed INT
// column, through a transient hash set of its key tuples otherwise.
type fkChecker struct {
	index *btree.BTreeIndex
	set   *tupleSet
}

// newFKChecker prepares an existence checker against the referenced table.
func (db *Database) newFKChecker(refTable string) (*fkChecker, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	parent, err := cat.GetTable(refTable)
	if err != nil {
		return nil, err
	}
	if pkCol, ok := singleIntPK(parent); ok {
		if index, ok := db.lookupIndex(parent, pkCol); ok {
			return &fkChecker{index: index}, nil
		}
	}
	set, err := db.parentKeySet(refTable)
	if err != nil {
		return nil, err
	}
	return &fkChecker{set: set}, nil
}

// Exists reports whether the referenced table holds the key tuple.
func (checker *fkChecker) Exists(tuple []record.Value) (bool, error) {
	if checker.index != nil {
		rids, err := checker.index.Search(int64(tuple[0].Int()))
		if err != nil {
			return false, err
		}
		return len(rids) > 0, nil
	}
	return checker.set.Contains(tuple), nil
}

// checkForeignKeys verifies that every record's non-null foreign key tuples
// refer to an extant parent row.
func (db *Database) checkForeignKeys(meta *catalog.TableMeta, records []record.Record) error {
	for _, fk := range meta.ForeignKeys {
		fkIdxs, err := columnIndexes(meta, fk.Columns)
		if err != nil {
			return err
		}
		checker, err := db.newFKChecker(fk.RefTable)
		if err != nil {
			return err
		}
		for _, rec := range records {
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

// checkPrimaryKey verifies that the records neither duplicate each other
// nor any existing row on the table's primary key.
func (db *Database) checkPrimaryKey(meta *catalog.TableMeta, records []record.Record) error {
	if len(meta.PrimaryKey) == 0 {
		return nil
	}
	pkIdxs, err := columnIndexes(meta, meta.PrimaryKey)
	if err != nil {
		return err
	}
	batch := newTupleSet()
	for _, rec := range records {
		if batch.Add(tupleOf(rec, pkIdxs)) {
			return fmt.Errorf("%w on PK(%s)", ErrPrimaryKey, meta.Name)
		}
	}
	if pkCol, ok := singleIntPK(meta); ok {
		if index, ok := db.lookupIndex(meta, pkCol); ok {
			for _, rec := range records {
				rids, err := index.Search(int64(rec.Values[pkIdxs[0]].Int()))
				if err != nil {
					return err
				}
				if len(rids) > 0 {
					return fmt.Errorf("%w on PK(%s)", ErrPrimaryKey, meta.Name)
				}
			}
			return nil
		}
	}
	existing, err := db.parentKeySet(meta.Name)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if existing.Contains(tupleOf(rec, pkIdxs)) {
			return fmt.Errorf("%w on PK(%s)", ErrPrimaryKey, meta.Name)
		}
	}
	return nil
}

// checkNotReferenced verifies that none of the key tuples about to
// disappear from the table is referenced by a child row.
func (db *Database) checkNotReferenced(meta *catalog.TableMeta, removed *tupleSet) error {
	cat, err := db.current()
	if err != nil {
		return err
	}
	if len(meta.PrimaryKey) == 0 {
		return nil
	}
	for _, child := range cat.Tables {
		for _, fk := range child.ForeignKeys {
			if fk.RefTable != meta.Name {
				continue
			}
			fkIdxs, err := columnIndexes(child, fk.Columns)
			if err != nil {
				return err
			}
			childTable, err := db.openTable(child.Name)
			if err != nil {
				return err
			}
			cursor := childTable.Scan()
			for cursor.Next() {
				rec, err := cursor.Record()
				if err != nil {
					return err
				}
				tuple := tupleOf(rec, fkIdxs)
				if tupleHasNull(tuple) {
					continue
				}
				if removed.Contains(tuple) {
					return fmt.Errorf("%w %s", ErrReferenced, child.Name)
				}
			}
			if err := cursor.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexColumn pairs an open index with the schema position of its column.
type indexColumn struct {
	index  *btree.BTreeIndex
	colIdx int
}

// openTableIndexes opens every index of the table, pairing each with its
// column position. Index maintenance during DML always runs, regardless of
// whether index usage is enabled for reads.
func (db *Database) openTableIndexes(meta *catalog.TableMeta) ([]indexColumn, error) {
	var indexes []indexColumn
	for _, idxMeta := range meta.Indexes {
		index, err := db.openIndex(meta, idxMeta.Column)
		if err != nil {
			return nil, err
		}
		colIdx, err := meta.FindColumn(idxMeta.Column)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, indexColumn{index: index, colIdx: colIdx})
	}
	return indexes, nil
}
