// Package database implements the query executor: it dispatches parsed
// statements against the currently selected database, driving the catalog,
// record, and index layers while enforcing primary and foreign key
// invariants.
package database

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"raptordb/pkg/btree"
	"raptordb/pkg/catalog"
	"raptordb/pkg/config"
	"raptordb/pkg/pager"
	"raptordb/pkg/record"
	"raptordb/pkg/sql"
)

// Errors surfaced by the executor.
var (
	ErrNoDatabaseSelected = errors.New("no database selected")
	ErrDatabaseExists     = errors.New("database already exists")
	ErrDatabaseNotFound   = errors.New("database not found")
	ErrIndexExists        = errors.New("index already exists")
	ErrIndexNotFound      = errors.New("index not found")
	ErrPrimaryKey         = errors.New("duplicate key")
	ErrForeignKey         = errors.New("foreign key violation")
	ErrReferenced         = errors.New("referenced by")
	ErrUnsupported        = sql.ErrUnsupported
)

// Database is the engine: it owns the buffer pool and the open tables and
// indexes of the currently selected database.
type Database struct {
	basepath   string
	files      *pager.FileManager
	pool       *pager.Pager
	useIndexes bool

	curName    string
	curCatalog *catalog.Catalog
	tables     map[string]*record.Table
	indexes    map[string]*btree.BTreeIndex

	likes  *likeCache
	closed bool
}

// Open opens the engine over a base directory with the default buffer pool
// capacity.
func Open(folder string) (*Database, error) {
	return OpenWithPoolSize(folder, config.MaxPagesInBuffer)
}

// OpenWithPoolSize opens the engine with an explicit buffer pool capacity
// in pages.
func OpenWithPoolSize(folder string, poolPages int) (*Database, error) {
	if err := os.MkdirAll(folder, 0775); err != nil {
		return nil, err
	}
	likes, err := newLikeCache()
	if err != nil {
		return nil, err
	}
	files := pager.NewFileManager()
	return &Database{
		basepath:   folder,
		files:      files,
		pool:       pager.NewWithCapacity(files, poolPages),
		useIndexes: true,
		tables:     make(map[string]*record.Table),
		indexes:    make(map[string]*btree.BTreeIndex),
		likes:      likes,
	}, nil
}

// SetUseIndexes toggles index usage; when disabled every access path is a
// full scan.
func (db *Database) SetUseIndexes(use bool) {
	db.useIndexes = use
}

// Pool returns the engine's buffer pool.
func (db *Database) Pool() *pager.Pager {
	return db.pool
}

// Close flushes and closes the selected database, then the engine.
// Closing twice is a no-op.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	err := db.closeCurrent()
	if flushErr := db.pool.FlushAll(); err == nil {
		err = flushErr
	}
	db.likes.Close()
	return err
}

// closeCurrent closes every open table and index of the selected database.
func (db *Database) closeCurrent() (err error) {
	for name, table := range db.tables {
		if curErr := table.Close(); err == nil {
			err = curErr
		}
		delete(db.tables, name)
	}
	for name, index := range db.indexes {
		if curErr := index.Close(); err == nil {
			err = curErr
		}
		delete(db.indexes, name)
	}
	db.curName = ""
	db.curCatalog = nil
	return err
}

// dbPath returns the directory of the named database.
func (db *Database) dbPath(name string) string {
	return filepath.Join(db.basepath, name)
}

// tablePath returns the table file of a table in the current database.
func (db *Database) tablePath(table string) string {
	return filepath.Join(db.dbPath(db.curName), table+".tbl")
}

// indexFileName returns the file name of the index on table.column.
func indexFileName(table, column string) string {
	return fmt.Sprintf("%s_%s.idx", table, column)
}

// indexPath returns the index file of table.column in the current database.
func (db *Database) indexPath(table, column string) string {
	return filepath.Join(db.dbPath(db.curName), indexFileName(table, column))
}

// current returns the selected database's catalog.
func (db *Database) current() (*catalog.Catalog, error) {
	if db.curCatalog == nil {
		return nil, ErrNoDatabaseSelected
	}
	return db.curCatalog, nil
}

// saveCatalog atomically rewrites the selected database's catalog file.
func (db *Database) saveCatalog() error {
	return db.curCatalog.Save(db.dbPath(db.curName))
}

// openTable returns the open table for name, opening it on first use.
func (db *Database) openTable(name string) (*record.Table, error) {
	if table, ok := db.tables[name]; ok {
		return table, nil
	}
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	meta, err := cat.GetTable(name)
	if err != nil {
		return nil, err
	}
	schema, err := meta.Schema()
	if err != nil {
		return nil, err
	}
	table, err := record.OpenTable(db.pool, db.tablePath(name), schema)
	if err != nil {
		return nil, err
	}
	db.tables[name] = table
	return table, nil
}

// invalidateTable drops a table from the open-table cache so the next use
// rebuilds its schema from the catalog.
func (db *Database) invalidateTable(name string) error {
	if table, ok := db.tables[name]; ok {
		delete(db.tables, name)
		return table.Close()
	}
	return nil
}

// openIndex returns the open index on table.column, opening it on first
// use. The unique flag is set when the index backs a single-column primary
// key.
func (db *Database) openIndex(meta *catalog.TableMeta, column string) (*btree.BTreeIndex, error) {
	idxMeta, ok := meta.FindIndex(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrIndexNotFound, meta.Name, column)
	}
	if index, ok := db.indexes[idxMeta.File]; ok {
		return index, nil
	}
	index, err := btree.OpenIndex(db.pool, filepath.Join(db.dbPath(db.curName), idxMeta.File))
	if err != nil {
		return nil, err
	}
	index.SetUnique(len(meta.PrimaryKey) == 1 && meta.PrimaryKey[0] == column)
	db.indexes[idxMeta.File] = index
	return index, nil
}

// lookupIndex returns the open index on table.column when one exists and
// index usage is enabled.
func (db *Database) lookupIndex(meta *catalog.TableMeta, column string) (*btree.BTreeIndex, bool) {
	if !db.useIndexes {
		return nil, false
	}
	if _, ok := meta.FindIndex(column); !ok {
		return nil, false
	}
	index, err := db.openIndex(meta, column)
	if err != nil {
		return nil, false
	}
	return index, true
}

// dropOpenIndex closes and forgets the open index backed by the file.
func (db *Database) dropOpenIndex(file string) error {
	index, ok := db.indexes[file]
	if !ok {
		return nil
	}
	delete(db.indexes, file)
	return index.Close()
}

// Execute runs one parsed statement and returns its result.
func (db *Database) Execute(stmt sql.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case sql.CreateDatabase:
		return db.createDatabase(s)
	case sql.DropDatabase:
		return db.dropDatabase(s)
	case sql.ShowDatabases:
		return db.showDatabases()
	case sql.UseDatabase:
		return db.useDatabase(s)
	case sql.ShowTables:
		return db.showTables()
	case sql.ShowIndexes:
		return db.showIndexes()
	case sql.Describe:
		return db.describeTable(s)
	case sql.CreateTable:
		return db.createTable(s)
	case sql.DropTable:
		return db.dropTable(s)
	case sql.AddIndex:
		return db.addIndex(s)
	case sql.DropIndex:
		return db.dropIndex(s)
	case sql.AddPrimaryKey:
		return db.addPrimaryKey(s)
	case sql.DropPrimaryKey:
		return db.dropPrimaryKey(s)
	case sql.AddForeignKey:
		return db.addForeignKey(s)
	case sql.DropForeignKey:
		return db.dropForeignKey(s)
	case sql.Insert:
		return db.insert(s)
	case sql.Delete:
		return db.delete(s)
	case sql.Update:
		return db.update(s)
	case sql.LoadData:
		return db.loadData(s)
	case sql.Select:
		return db.query(s)
	}
	return nil, fmt.Errorf("%w: statement %T", ErrUnsupported, stmt)
}

// ExecuteSQL parses and executes one SQL statement, printing its result
// to w. Errors abort only the statement; the caller proceeds to the next.
func (db *Database) ExecuteSQL(text string, w io.Writer) error {
	stmt, err := sql.Parse(text)
	if err != nil {
		return err
	}
	result, err := db.Execute(stmt)
	if err != nil {
		return err
	}
	result.Print(w)
	return nil
}

// Result is the outcome of one statement: a result set, a rows-affected
// count, or a bare status message.
type Result struct {
	Header      []string
	Rows        [][]string
	Affected    int64
	HasRows     bool
	HasAffected bool
	Message     string
}

// rowsResult constructs a result-set result.
func rowsResult(header []string, rows [][]string) *Result {
	return &Result{Header: header, Rows: rows, HasRows: true}
}

// affectedResult constructs a rows-affected result.
func affectedResult(n int64) *Result {
	return &Result{Affected: n, HasAffected: true}
}

// messageResult constructs a status-message result.
func messageResult(format string, args ...interface{}) *Result {
	return &Result{Message: fmt.Sprintf(format, args...)}
}

// Print writes the result to w: a header line and comma-joined rows for
// result sets, a rows-affected line for DML, a status line otherwise.
func (result *Result) Print(w io.Writer) {
	switch {
	case result.HasRows:
		fmt.Fprintln(w, strings.Join(result.Header, ","))
		for _, row := range result.Rows {
			fmt.Fprintln(w, strings.Join(row, ","))
		}
	case result.HasAffected:
		fmt.Fprintf(w, "rows affected: %d\n", result.Affected)
	case result.Message != "":
		fmt.Fprintln(w, result.Message)
	}
}

// listDatabaseNames returns the database directories under the base path.
func (db *Database) listDatabaseNames() ([]string, error) {
	dirEntries, err := os.ReadDir(db.basepath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range dirEntries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// convertValue types a parsed literal for storage in a column, rejecting
// integers outside int32 and over-long strings.
func convertValue(value sql.Value, col record.Column) (record.Value, error) {
	switch value.Kind {
	case sql.LitNull:
		if col.NotNull {
			return record.Value{}, fmt.Errorf("%w: column %s", record.ErrNotNull, col.Name)
		}
		return record.NullValue(), nil
	case sql.LitInt:
		switch col.Type.Kind {
		case record.TypeInt:
			if value.Int > 0x7FFFFFFF || value.Int < -0x80000000 {
				return record.Value{}, fmt.Errorf("%w: %d does not fit INT", record.ErrIntOutOfRange, value.Int)
			}
			return record.IntValue(int32(value.Int)), nil
		case record.TypeFloat:
			return record.FloatValue(float64(value.Int)), nil
		}
	case sql.LitFloat:
		if col.Type.Kind == record.TypeFloat {
			return record.FloatValue(value.Float), nil
		}
	case sql.LitString:
		if col.Type.Kind == record.TypeVarchar {
			if len(value.Str) > col.Type.Length {
				return record.Value{}, fmt.Errorf("%w: column %s holds at most %d bytes",
					record.ErrVarcharTooLong, col.Name, col.Type.Length)
			}
			return record.StringValue(value.Str), nil
		}
	}
	return record.Value{}, fmt.Errorf("%w: column %s holds %v", record.ErrTypeMismatch, col.Name, col.Type)
}
