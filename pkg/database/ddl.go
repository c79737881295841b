package database

import (
	"fmt"
	"os"
	"strconv"

	"raptordb/pkg/btree"
	"raptordb/pkg/catalog"
	"raptordb/pkg/record"
	"raptordb/pkg/sql"
)

func (db *Database) createDatabase(stmt sql.CreateDatabase) (*Result, error) {
	dir := db.dbPath(stmt.Name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, stmt.Name)
	}
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	if err := catalog.New(stmt.Name).Save(dir); err != nil {
		return nil, err
	}
	return messageResult("created database %s", stmt.Name), nil
}

func (db *Database) dropDatabase(stmt sql.DropDatabase) (*Result, error) {
	dir := db.dbPath(stmt.Name)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, stmt.Name)
	}
	if db.curName == stmt.Name {
		if err := db.closeCurrent(); err != nil {
			return nil, err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	return messageResult("dropped database %s", stmt.Name), nil
}

func (db *Database) showDatabases() (*Result, error) {
	names, err := db.listDatabaseNames()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name}
	}
	return rowsResult([]string{"Database"}, rows), nil
}

func (db *Database) useDatabase(stmt sql.UseDatabase) (*Result, error) {
	dir := db.dbPath(stmt.Name)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, stmt.Name)
	}
	if err := db.closeCurrent(); err != nil {
		return nil, err
	}
	cat, err := catalog.Load(dir)
	if err != nil {
		return nil, err
	}
	db.curName = stmt.Name
	db.curCatalog = cat
	return messageResult("using database %s", stmt.Name), nil
}

func (db *Database) showTables() (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(cat.Tables))
	for i, table := range cat.Tables {
		rows[i] = []string{table.Name}
	}
	return rowsResult([]string{"Table"}, rows), nil
}

func (db *Database) showIndexes() (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	var rows [][]string
	for _, table := range cat.Tables {
		for _, idx := range table.Indexes {
			rows = append(rows, []string{table.Name, idx.Column, idx.File})
		}
	}
	return rowsResult([]string{"Table", "Column", "File"}, rows), nil
}

func (db *Database) describeTable(stmt sql.Describe) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(meta.Columns))
	for i, col := range meta.Columns {
		nullable := "YES"
		if col.NotNull {
			nullable = "NO"
		}
		def := "NULL"
		if col.Default != nil {
			def = *col.Default
		}
		rows[i] = []string{col.Name, col.Type, nullable, def}
	}
	return rowsResult([]string{"Field", "Type", "Null", "Default"}, rows), nil
}

// columnTypeOf converts a parsed type name into a record column type.
func columnTypeOf(name sql.TypeName) (record.ColumnType, error) {
	switch name.Name {
	case "INT":
		return record.IntType, nil
	case "FLOAT":
		return record.FloatType, nil
	case "VARCHAR":
		return record.VarcharType(name.Length), nil
	}
	return record.ColumnType{}, fmt.Errorf("%w: type %s", ErrUnsupported, name.Name)
}

// formatDefault renders a default literal for catalog storage.
func formatDefault(value record.Value) string {
	switch value.Kind() {
	case record.TypeInt:
		return strconv.FormatInt(int64(value.Int()), 10)
	case record.TypeFloat:
		return strconv.FormatFloat(value.Float(), 'g', -1, 64)
	default:
		return value.Str()
	}
}

func (db *Database) createTable(stmt sql.CreateTable) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	if cat.HasTable(stmt.Name) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrTableExists, stmt.Name)
	}
	if len(stmt.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", stmt.Name)
	}

	meta := &catalog.TableMeta{Name: stmt.Name}
	for _, def := range stmt.Columns {
		colType, err := columnTypeOf(def.Type)
		if err != nil {
			return nil, err
		}
		col := catalog.ColumnMeta{
			Name:    def.Name,
			Type:    colType.String(),
			NotNull: def.NotNull,
		}
		if def.HasDefault {
			value, err := convertValue(def.Default, record.Column{Name: def.Name, Type: colType})
			if err != nil {
				return nil, err
			}
			if !value.IsNull() {
				rendered := formatDefault(value)
				col.Default = &rendered
			}
		}
		meta.Columns = append(meta.Columns, col)
	}

	// Primary key columns exist and are implicitly NOT NULL.
	for _, pkCol := range stmt.PrimaryKey {
		i, err := meta.FindColumn(pkCol)
		if err != nil {
			return nil, err
		}
		meta.Columns[i].NotNull = true
	}
	meta.PrimaryKey = stmt.PrimaryKey

	for fkNum, fk := range stmt.ForeignKeys {
		fkMeta, err := db.resolveForeignKey(cat, meta, fk.Name, fkNum, fk.Columns, fk.RefTable, fk.RefColumns)
		if err != nil {
			return nil, err
		}
		meta.ForeignKeys = append(meta.ForeignKeys, fkMeta)
	}

	schema, err := meta.Schema()
	if err != nil {
		return nil, err
	}
	table, err := record.CreateTable(db.pool, db.tablePath(stmt.Name), schema)
	if err != nil {
		return nil, err
	}
	db.tables[stmt.Name] = table

	// A single-column INT primary key gets a B+ tree index automatically.
	if pkCol, ok := singleIntPK(meta); ok {
		if err := db.createIndexFile(meta, pkCol, true); err != nil {
			db.destroyTableFiles(meta)
			return nil, err
		}
	}

	if err := cat.AddTable(meta); err != nil {
		db.destroyTableFiles(meta)
		return nil, err
	}
	if err := db.saveCatalog(); err != nil {
		return nil, err
	}
	return messageResult("created table %s", stmt.Name), nil
}

// singleIntPK reports whether the table's primary key is one INT column.
func singleIntPK(meta *catalog.TableMeta) (string, bool) {
	if len(meta.PrimaryKey) != 1 {
		return "", false
	}
	i, err := meta.FindColumn(meta.PrimaryKey[0])
	if err != nil || meta.Columns[i].Type != record.IntType.String() {
		return "", false
	}
	return meta.PrimaryKey[0], true
}

// resolveForeignKey validates a FOREIGN KEY clause against the catalog: the
// local columns exist, the referenced table exists, and the referenced
// columns are exactly its primary key, with matching types.
func (db *Database) resolveForeignKey(cat *catalog.Catalog, meta *catalog.TableMeta,
	name string, ordinal int, columns []string, refTable string, refColumns []string) (catalog.ForeignKeyMeta, error) {

	if name == "" {
		name = fmt.Sprintf("fk_%s_%d", meta.Name, ordinal)
	}
	if len(columns) != len(refColumns) {
		return catalog.ForeignKeyMeta{}, fmt.Errorf("foreign key %s: column count mismatch", name)
	}
	parent, err := cat.GetTable(refTable)
	if err != nil && refTable == meta.Name {
		parent = meta // self-referencing table
		err = nil
	}
	if err != nil {
		return catalog.ForeignKeyMeta{}, err
	}
	if len(parent.PrimaryKey) != len(refColumns) {
		return catalog.ForeignKeyMeta{}, fmt.Errorf("foreign key %s must reference the primary key of %s", name, refTable)
	}
	for i, refCol := range refColumns {
		if parent.PrimaryKey[i] != refCol {
			return catalog.ForeignKeyMeta{}, fmt.Errorf("foreign key %s must reference the primary key of %s", name, refTable)
		}
		localIdx, err := meta.FindColumn(columns[i])
		if err != nil {
			return catalog.ForeignKeyMeta{}, err
		}
		refIdx, err := parent.FindColumn(refCol)
		if err != nil {
			return catalog.ForeignKeyMeta{}, err
		}
		if meta.Columns[localIdx].Type != parent.Columns[refIdx].Type {
			return catalog.ForeignKeyMeta{}, fmt.Errorf("foreign key %s: type mismatch on %s", name, columns[i])
		}
	}
	return catalog.ForeignKeyMeta{
		Name:       name,
		Columns:    columns,
		RefTable:   refTable,
		RefColumns: refColumns,
	}, nil
}

// createIndexFile creates and registers the index file for table.column,
// bulk-loading it from a full scan of the table.
func (db *Database) createIndexFile(meta *catalog.TableMeta, column string, unique bool) error {
	if _, exists := meta.FindIndex(column); exists {
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, meta.Name, column)
	}
	colIdx, err := meta.FindColumn(column)
	if err != nil {
		return err
	}
	if meta.Columns[colIdx].Type != record.IntType.String() {
		return fmt.Errorf("only INT columns may carry an index, %s.%s is %s",
			meta.Name, column, meta.Columns[colIdx].Type)
	}
	index, err := btree.CreateIndex(db.pool, db.indexPath(meta.Name, column), btree.DefaultOrder)
	if err != nil {
		return err
	}
	index.SetUnique(unique)

	table, err := db.openTable(meta.Name)
	if err != nil {
		return err
	}
	cursor := table.Scan()
	for cursor.Next() {
		rec, err := cursor.Record()
		if err != nil {
			return err
		}
		value := rec.Values[colIdx]
		if value.IsNull() {
			continue
		}
		if err := index.Insert(int64(value.Int()), cursor.RID()); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}

	file := indexFileName(meta.Name, column)
	meta.Indexes = append(meta.Indexes, catalog.IndexMeta{Column: column, File: file})
	db.indexes[file] = index
	return nil
}

// destroyTableFiles closes and removes the table file and index files of a
// table, best-effort.
func (db *Database) destroyTableFiles(meta *catalog.TableMeta) {
	if table, ok := db.tables[meta.Name]; ok {
		table.Close()
		delete(db.tables, meta.Name)
	}
	os.Remove(db.tablePath(meta.Name))
	for _, idx := range meta.Indexes {
		db.dropOpenIndex(idx.File)
		os.Remove(db.indexPath(meta.Name, idx.Column))
	}
}

// referencingTables returns the tables holding a foreign key that targets
// the named table, excluding the table itself.
func referencingTables(cat *catalog.Catalog, name string) []string {
	var children []string
	for _, table := range cat.Tables {
		if table.Name == name {
			continue
		}
		for _, fk := range table.ForeignKeys {
			if fk.RefTable == name {
				children = append(children, table.Name)
				break
			}
		}
	}
	return children
}

func (db *Database) dropTable(stmt sql.DropTable) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Name)
	if err != nil {
		return nil, err
	}
	if children := referencingTables(cat, stmt.Name); len(children) > 0 {
		return nil, fmt.Errorf("%w %s", ErrReferenced, children[0])
	}
	if table, ok := db.tables[stmt.Name]; ok {
		if err := table.Close(); err != nil {
			return nil, err
		}
		delete(db.tables, stmt.Name)
	}
	for _, idx := range meta.Indexes {
		if err := db.dropOpenIndex(idx.File); err != nil {
			return nil, err
		}
		if err := db.files.RemoveFile(db.indexPath(stmt.Name, idx.Column)); err != nil {
			return nil, err
		}
	}
	if err := db.files.RemoveFile(db.tablePath(stmt.Name)); err != nil {
		return nil, err
	}
	if err := cat.DropTable(stmt.Name); err != nil {
		return nil, err
	}
	if err := db.saveCatalog(); err != nil {
		return nil, err
	}
	return messageResult("dropped table %s", stmt.Name), nil
}

func (db *Database) addIndex(stmt sql.AddIndex) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	if len(stmt.Columns) != 1 {
		return nil, fmt.Errorf("%w: multi-column indexes", ErrUnsupported)
	}
	// A single INT primary key column already carries its automatic index.
	if pkCol, ok := singleIntPK(meta); ok && pkCol == stmt.Columns[0] {
		if _, exists := meta.FindIndex(pkCol); exists {
			return messageResult("index on %s.%s already exists", stmt.Table, pkCol), nil
		}
	}
	if err := db.createIndexFile(meta, stmt.Columns[0], false); err != nil {
		return nil, err
	}
	if err := db.saveCatalog(); err != nil {
		return nil, err
	}
	return messageResult("created index on %s.%s", stmt.Table, stmt.Columns[0]), nil
}

func (db *Database) dropIndex(stmt sql.DropIndex) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	idxMeta, ok := meta.FindIndex(stmt.Column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrIndexNotFound, stmt.Table, stmt.Column)
	}
	if err := db.dropOpenIndex(idxMeta.File); err != nil {
		return nil, err
	}
	if err := db.files.RemoveFile(db.indexPath(stmt.Table, stmt.Column)); err != nil {
		return nil, err
	}
	for i, idx := range meta.Indexes {
		if idx.Column == stmt.Column {
			meta.Indexes = append(meta.Indexes[:i], meta.Indexes[i+1:]...)
			break
		}
	}
	if err := db.saveCatalog(); err != nil {
		return nil, err
	}
	return messageResult("dropped index on %s.%s", stmt.Table, stmt.Column), nil
}

func (db *Database) addPrimaryKey(stmt sql.AddPrimaryKey) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	if len(meta.PrimaryKey) > 0 {
		return nil, fmt.Errorf("table %s already has a primary key", stmt.Table)
	}
	colIdxs := make([]int, len(stmt.Columns))
	for i, name := range stmt.Columns {
		if colIdxs[i], err = meta.FindColumn(name); err != nil {
			return nil, err
		}
	}

	// Backfill check: existing rows must be non-null and unique on the new
	// key before the constraint takes effect.
	table, err := db.openTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	seen := newTupleSet()
	cursor := table.Scan()
	for cursor.Next() {
		rec, err := cursor.Record()
		if err != nil {
			return nil, err
		}
		tuple := tupleOf(rec, colIdxs)
		for _, v := range tuple {
			if v.IsNull() {
				return nil, fmt.Errorf("%w: primary key column of %s", record.ErrNotNull, stmt.Table)
			}
		}
		if seen.Add(tuple) {
			return nil, fmt.Errorf("%w on PK(%s)", ErrPrimaryKey, stmt.Table)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	meta.PrimaryKey = stmt.Columns
	if pkCol, ok := singleIntPK(meta); ok {
		if _, exists := meta.FindIndex(pkCol); !exists {
			if err := db.createIndexFile(meta, pkCol, true); err != nil {
				meta.PrimaryKey = nil
				return nil, err
			}
		} else if index, err := db.openIndex(meta, pkCol); err == nil {
			index.SetUnique(true)
		}
	}
	for _, i := range colIdxs {
		meta.Columns[i].NotNull = true
	}
	if err := db.saveCatalog(); err != nil {
		return nil, err
	}
	if err := db.invalidateTable(stmt.Table); err != nil {
		return nil, err
	}
	return messageResult("added primary key to %s", stmt.Table), nil
}

func (db *Database) dropPrimaryKey(stmt sql.DropPrimaryKey) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	if len(meta.PrimaryKey) == 0 {
		return nil, fmt.Errorf("table %s has no primary key", stmt.Table)
	}
	if children := referencingTables(cat, stmt.Table); len(children) > 0 {
		return nil, fmt.Errorf("%w %s", ErrReferenced, children[0])
	}
	if pkCol, ok := singleIntPK(meta); ok {
		if index, err := db.openIndex(meta, pkCol); err == nil {
			index.SetUnique(false)
		}
	}
	meta.PrimaryKey = nil
	if err := db.saveCatalog(); err != nil {
		return nil, err
	}
	if err := db.invalidateTable(stmt.Table); err != nil {
		return nil, err
	}
	return messageResult("dropped primary key of %s", stmt.Table), nil
}

func (db *Database) addForeignKey(stmt sql.AddForeignKey) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	fkMeta, err := db.resolveForeignKey(cat, meta, stmt.Name, len(meta.ForeignKeys),
		stmt.Columns, stmt.RefTable, stmt.RefColumns)
	if err != nil {
		return nil, err
	}
	for _, fk := range meta.ForeignKeys {
		if fk.Name == fkMeta.Name {
			return nil, fmt.Errorf("foreign key %s already exists on %s", fk.Name, stmt.Table)
		}
	}

	// Backfill check: every existing child row with non-null key columns
	// must have a parent before the constraint takes effect.
	colIdxs := make([]int, len(fkMeta.Columns))
	for i, name := range fkMeta.Columns {
		if colIdxs[i], err = meta.FindColumn(name); err != nil {
			return nil, err
		}
	}
	parents, err := db.parentKeySet(fkMeta.RefTable)
	if err != nil {
		return nil, err
	}
	table, err := db.openTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	cursor := table.Scan()
	for cursor.Next() {
		rec, err := cursor.Record()
		if err != nil {
			return nil, err
		}
		tuple := tupleOf(rec, colIdxs)
		if tupleHasNull(tuple) {
			continue
		}
		if !parents.Contains(tuple) {
			return nil, fmt.Errorf("%w: %s", ErrForeignKey, fkMeta.Name)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	meta.ForeignKeys = append(meta.ForeignKeys, fkMeta)
	if err := db.saveCatalog(); err != nil {
		return nil, err
	}
	return messageResult("added foreign key %s to %s", fkMeta.Name, stmt.Table), nil
}

func (db *Database) dropForeignKey(stmt sql.DropForeignKey) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	for i, fk := range meta.ForeignKeys {
		if fk.Name == stmt.Name {
			meta.ForeignKeys = append(meta.ForeignKeys[:i], meta.ForeignKeys[i+1:]...)
			if err := db.saveCatalog(); err != nil {
				return nil, err
			}
			return messageResult("dropped foreign key %s of %s", stmt.Name, stmt.Table), nil
		}
	}
	return nil, fmt.Errorf("foreign key %s not found on %s", stmt.Name, stmt.Table)
}
