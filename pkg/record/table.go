package record

import (
	"encoding/binary"
	"fmt"

	"raptordb/pkg/entry"
	"raptordb/pkg/pager"
)

// Table file layout: page 0 holds the table header; data pages are chained
// from page 1 through each page's next-page pointer.
const (
	headerFirstPageOffset  = 0  // u32
	headerPageCountOffset  = 4  // u32, total pages in the file
	headerRecordSizeOffset = 8  // u16
	headerSlotCountOffset  = 10 // u16, slots per data page
)

// Table is a chain of slotted pages holding the fixed-length records of one
// table.
type Table struct {
	pool           *pager.Pager
	file           pager.FileHandle
	schema         *Schema
	firstPage      int64
	pageCount      int64
	lastInsertPage int64
}

// CreateTable creates a table file at path and formats its header and first
// data page.
func CreateTable(pool *pager.Pager, path string, schema *Schema) (*Table, error) {
	if slotsPerPage(schema.RecordSize()) == 0 {
		return nil, fmt.Errorf("record of %d bytes does not fit a page", schema.RecordSize())
	}
	if err := pool.FileManager().CreateFile(path); err != nil {
		return nil, err
	}
	file, err := pool.FileManager().OpenFile(path)
	if err != nil {
		return nil, err
	}
	table := &Table{
		pool:           pool,
		file:           file,
		schema:         schema,
		firstPage:      1,
		pageCount:      2,
		lastInsertPage: 1,
	}
	header, err := pool.AppendPage(file)
	if err != nil {
		return nil, err
	}
	table.writeHeader(header)
	first, err := pool.AppendPage(file)
	if err != nil {
		return nil, err
	}
	initTablePage(first, schema.RecordSize())
	return table, nil
}

// OpenTable opens an existing table file, reading its header page.
func OpenTable(pool *pager.Pager, path string, schema *Schema) (*Table, error) {
	file, err := pool.FileManager().OpenFile(path)
	if err != nil {
		return nil, err
	}
	header, err := pool.Get(file, 0)
	if err != nil {
		return nil, err
	}
	data := header.GetData()
	table := &Table{
		pool:      pool,
		file:      file,
		schema:    schema,
		firstPage: int64(binary.LittleEndian.Uint32(data[headerFirstPageOffset:])),
		pageCount: int64(binary.LittleEndian.Uint32(data[headerPageCountOffset:])),
	}
	if rs := int(binary.LittleEndian.Uint16(data[headerRecordSizeOffset:])); rs != schema.RecordSize() {
		return nil, fmt.Errorf("table %s: header record size %d does not match schema %d",
			schema.TableName(), rs, schema.RecordSize())
	}
	table.lastInsertPage = table.pageCount - 1
	return table, nil
}

// Schema returns the table's schema.
func (table *Table) Schema() *Schema {
	return table.schema
}

// File returns the handle of the table's backing file.
func (table *Table) File() pager.FileHandle {
	return table.file
}

// Close flushes and closes the table's backing file.
func (table *Table) Close() error {
	return table.pool.CloseFile(table.file)
}

// writeHeader rewrites the table header page from the in-memory fields.
func (table *Table) writeHeader(header *pager.Page) {
	data := make([]byte, pager.Pagesize)
	binary.LittleEndian.PutUint32(data[headerFirstPageOffset:], uint32(table.firstPage))
	binary.LittleEndian.PutUint32(data[headerPageCountOffset:], uint32(table.pageCount))
	binary.LittleEndian.PutUint16(data[headerRecordSizeOffset:], uint16(table.schema.RecordSize()))
	binary.LittleEndian.PutUint16(data[headerSlotCountOffset:], uint16(slotsPerPage(table.schema.RecordSize())))
	header.Update(data, 0, pager.Pagesize)
}

// Insert stores the record in a free slot, probing from the last insert page
// onward and then rescanning the chain from its first page, so a slot freed
// on an earlier page is not taken while a later page still has room. A new
// page is allocated and linked when every page is full. Returns the rid of
// the stored record.
func (table *Table) Insert(rec Record) (entry.RID, error) {
	data, err := table.schema.Serialize(rec)
	if err != nil {
		return entry.RID{}, err
	}
	pagenum := table.lastInsertPage
	if pagenum < table.firstPage || pagenum >= table.pageCount {
		pagenum = table.firstPage
	}
	checkedFromStart := pagenum == table.firstPage
	for {
		page, err := table.pool.GetMut(table.file, pagenum)
		if err != nil {
			return entry.RID{}, err
		}
		tp, err := loadTablePage(page)
		if err != nil {
			return entry.RID{}, err
		}
		if slot, ok := tp.findFreeSlot(); ok {
			tp.setRecordBytes(slot, data)
			tp.setSlotUsed(slot, true)
			table.lastInsertPage = pagenum
			return entry.NewRID(pagenum, int64(slot)), nil
		}
		next := tp.nextPage()
		switch {
		case next != 0:
			pagenum = next
		case !checkedFromStart:
			// The hint skipped earlier pages; rescan the chain once.
			pagenum = table.firstPage
			checkedFromStart = true
		default:
			pagenum, err = table.appendDataPage(pagenum)
			if err != nil {
				return entry.RID{}, err
			}
			table.lastInsertPage = pagenum
		}
	}
}

// appendDataPage allocates a fresh data page and links it after prev.
// Returns the new pagenum.
func (table *Table) appendDataPage(prev int64) (int64, error) {
	page, err := table.pool.AppendPage(table.file)
	if err != nil {
		return 0, err
	}
	initTablePage(page, table.schema.RecordSize())
	newPagenum := page.GetPageNum()
	table.pageCount = newPagenum + 1

	prevPage, err := table.pool.GetMut(table.file, prev)
	if err != nil {
		return 0, err
	}
	tp, err := loadTablePage(prevPage)
	if err != nil {
		return 0, err
	}
	tp.setNextPage(newPagenum)

	header, err := table.pool.GetMut(table.file, 0)
	if err != nil {
		return 0, err
	}
	table.writeHeader(header)
	return newPagenum, nil
}

// loadSlot fetches the page holding rid and verifies the slot is live.
func (table *Table) loadSlot(rid entry.RID, mutate bool) (*tablePage, error) {
	if rid.PageNum < table.firstPage || rid.PageNum >= table.pageCount {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRid, rid)
	}
	var page *pager.Page
	var err error
	if mutate {
		page, err = table.pool.GetMut(table.file, rid.PageNum)
	} else {
		page, err = table.pool.Get(table.file, rid.PageNum)
	}
	if err != nil {
		return nil, err
	}
	tp, err := loadTablePage(page)
	if err != nil {
		return nil, err
	}
	if !tp.slotUsed(int(rid.SlotID)) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRid, rid)
	}
	return tp, nil
}

// Get returns the record stored at rid.
func (table *Table) Get(rid entry.RID) (Record, error) {
	tp, err := table.loadSlot(rid, false)
	if err != nil {
		return Record{}, err
	}
	return table.schema.Deserialize(tp.recordBytes(int(rid.SlotID)))
}

// Update overwrites the record at rid in place.
func (table *Table) Update(rid entry.RID, rec Record) error {
	data, err := table.schema.Serialize(rec)
	if err != nil {
		return err
	}
	tp, err := table.loadSlot(rid, true)
	if err != nil {
		return err
	}
	tp.setRecordBytes(int(rid.SlotID), data)
	return nil
}

// Delete frees the slot at rid. Sibling records keep their rids.
func (table *Table) Delete(rid entry.RID) error {
	tp, err := table.loadSlot(rid, true)
	if err != nil {
		return err
	}
	tp.setSlotUsed(int(rid.SlotID), false)
	return nil
}

// Scan returns a cursor positioned before the first record. The cursor
// walks the page chain in page order, then slot order. It is invalidated by
// inserts or deletes on the table while it is open.
func (table *Table) Scan() *Cursor {
	return &Cursor{table: table, pagenum: table.firstPage, slot: -1}
}

// Cursor lazily iterates the live records of a table. It re-derives its
// position from (page, slot) on every step, so it holds no page references
// between calls.
type Cursor struct {
	table   *Table
	pagenum int64
	slot    int
	err     error
	done    bool
}

// Next advances to the next live record, reporting whether one exists.
// Once Next returns false, check Err.
func (cursor *Cursor) Next() bool {
	if cursor.done || cursor.err != nil {
		return false
	}
	for {
		page, err := cursor.table.pool.Get(cursor.table.file, cursor.pagenum)
		if err != nil {
			cursor.err = err
			return false
		}
		tp, err := loadTablePage(page)
		if err != nil {
			cursor.err = err
			return false
		}
		next, ok := tp.occupied.NextSet(uint(cursor.slot + 1))
		if ok && next < uint(tp.slotCount) {
			cursor.slot = int(next)
			return true
		}
		nextPage := tp.nextPage()
		if nextPage == 0 {
			cursor.done = true
			return false
		}
		cursor.pagenum = nextPage
		cursor.slot = -1
	}
}

// Err returns the error that stopped iteration, if any.
func (cursor *Cursor) Err() error {
	return cursor.err
}

// RID returns the rid of the current record.
func (cursor *Cursor) RID() entry.RID {
	return entry.NewRID(cursor.pagenum, int64(cursor.slot))
}

// Record decodes and returns the current record.
func (cursor *Cursor) Record() (Record, error) {
	page, err := cursor.table.pool.Get(cursor.table.file, cursor.pagenum)
	if err != nil {
		return Record{}, err
	}
	tp, err := loadTablePage(page)
	if err != nil {
		return Record{}, err
	}
	return cursor.table.schema.Deserialize(tp.recordBytes(cursor.slot))
}
