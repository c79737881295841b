package pager

import (
	"raptordb/pkg/config"
	"raptordb/pkg/list"

	"github.com/ncw/directio"
)

// bufferKey identifies a cached page by the file it belongs to and its
// position within that file.
type bufferKey struct {
	file    FileHandle
	pagenum int64
}

// Pager is the buffer pool: a bounded write-back cache of pages keyed by
// (file, pagenum) with strict LRU replacement. The head of the recency list
// is the least recently used page; the tail is the most recently used.
type Pager struct {
	files      *FileManager
	capacity   int
	pageTable  map[bufferKey]*list.Link
	recency    *list.List
	freeFrames [][]byte
	pageCounts map[FileHandle]int64
}

// New constructs a Pager over the given file manager with the default
// capacity.
func New(files *FileManager) *Pager {
	return NewWithCapacity(files, config.MaxPagesInBuffer)
}

// NewWithCapacity constructs a Pager that holds at most capacity pages.
func NewWithCapacity(files *FileManager, capacity int) *Pager {
	if capacity < 1 {
		capacity = 1
	}
	return &Pager{
		files:      files,
		capacity:   capacity,
		pageTable:  make(map[bufferKey]*list.Link),
		recency:    list.NewList(),
		pageCounts: make(map[FileHandle]int64),
	}
}

// FileManager returns the underlying file manager.
func (pager *Pager) FileManager() *FileManager {
	return pager.files
}

// Capacity returns the maximum number of resident pages.
func (pager *Pager) Capacity() int {
	return pager.capacity
}

// Len returns the number of pages currently resident.
func (pager *Pager) Len() int {
	return len(pager.pageTable)
}

// PageCount returns the number of pages of the file, counting appended pages
// that have not been flushed yet.
func (pager *Pager) PageCount(file FileHandle) (int64, error) {
	if count, ok := pager.pageCounts[file]; ok {
		return count, nil
	}
	count, err := pager.files.PageCount(file)
	if err != nil {
		return 0, err
	}
	pager.pageCounts[file] = count
	return count, nil
}

// Get returns the page at (file, pagenum) for reading, loading it from disk
// on a miss. The access promotes the page to most recently used.
func (pager *Pager) Get(file FileHandle, pagenum int64) (*Page, error) {
	return pager.fetch(file, pagenum, false)
}

// GetMut returns the page at (file, pagenum) for writing. The page is marked
// dirty and promoted to most recently used.
func (pager *Pager) GetMut(file FileHandle, pagenum int64) (*Page, error) {
	return pager.fetch(file, pagenum, true)
}

// AppendPage extends the file by one zeroed page and returns it.
// The new page is dirty so it reaches disk even if never written to again.
func (pager *Pager) AppendPage(file FileHandle) (*Page, error) {
	count, err := pager.PageCount(file)
	if err != nil {
		return nil, err
	}
	page, err := pager.insert(file, count)
	if err != nil {
		return nil, err
	}
	for i := range page.data {
		page.data[i] = 0
	}
	page.dirty = true
	pager.pageCounts[file] = count + 1
	return page, nil
}

// MarkDirty flags a resident page as modified.
func (pager *Pager) MarkDirty(file FileHandle, pagenum int64) error {
	link, ok := pager.pageTable[bufferKey{file, pagenum}]
	if !ok {
		return ErrPageOutOfRange
	}
	link.GetValue().(*Page).dirty = true
	return nil
}

// FlushPage writes a page's data back to disk if it is dirty. The page stays
// resident; on success its dirty flag is cleared, on failure it remains set
// so a later flush can retry.
func (pager *Pager) FlushPage(page *Page) error {
	if !page.dirty {
		return nil
	}
	if err := pager.files.WritePage(page.file, page.pagenum, page.data); err != nil {
		return err
	}
	page.dirty = false
	return nil
}

// Flush writes the page at (file, pagenum) back to disk if it is resident
// and dirty.
func (pager *Pager) Flush(file FileHandle, pagenum int64) error {
	link, ok := pager.pageTable[bufferKey{file, pagenum}]
	if !ok {
		return nil
	}
	return pager.FlushPage(link.GetValue().(*Page))
}

// FlushAll writes every dirty resident page back to disk.
func (pager *Pager) FlushAll() (err error) {
	pager.recency.Map(func(link *list.Link) {
		if curErr := pager.FlushPage(link.GetValue().(*Page)); err == nil {
			err = curErr
		}
	})
	if err != nil {
		return err
	}
	return pager.files.SyncAll()
}

// EvictFile flushes and drops every resident page belonging to the file.
// Pages of other files are unaffected.
func (pager *Pager) EvictFile(file FileHandle) (err error) {
	pager.recency.Map(func(link *list.Link) {
		page := link.GetValue().(*Page)
		if page.file != file {
			return
		}
		if curErr := pager.FlushPage(page); curErr != nil {
			if err == nil {
				err = curErr
			}
			return
		}
		link.PopSelf()
		delete(pager.pageTable, bufferKey{page.file, page.pagenum})
		pager.freeFrames = append(pager.freeFrames, page.data)
	})
	delete(pager.pageCounts, file)
	return err
}

// CloseFile evicts the file's pages from the pool and closes the file.
func (pager *Pager) CloseFile(file FileHandle) error {
	if err := pager.EvictFile(file); err != nil {
		return err
	}
	return pager.files.CloseFile(file)
}

// Cached reports whether the page at (file, pagenum) is resident.
func (pager *Pager) Cached(file FileHandle, pagenum int64) bool {
	_, ok := pager.pageTable[bufferKey{file, pagenum}]
	return ok
}

// DirtyCount returns the number of resident dirty pages.
func (pager *Pager) DirtyCount() (count int) {
	pager.recency.Map(func(link *list.Link) {
		if link.GetValue().(*Page).dirty {
			count++
		}
	})
	return count
}

// fetch returns the resident page for the key, loading it from disk on a
// miss, promoting it either way.
func (pager *Pager) fetch(file FileHandle, pagenum int64, mutate bool) (*Page, error) {
	count, err := pager.PageCount(file)
	if err != nil {
		return nil, err
	}
	if pagenum < 0 || pagenum >= count {
		return nil, ErrPageOutOfRange
	}
	key := bufferKey{file, pagenum}
	if link, ok := pager.pageTable[key]; ok {
		page := link.GetValue().(*Page)
		link.PopSelf()
		pager.pageTable[key] = pager.recency.PushTail(page)
		if mutate {
			page.dirty = true
		}
		return page, nil
	}
	page, err := pager.insert(file, pagenum)
	if err != nil {
		return nil, err
	}
	if err := pager.files.ReadPage(file, pagenum, page.data); err != nil {
		// Loading failed; return the frame rather than caching garbage.
		link := pager.pageTable[key]
		link.PopSelf()
		delete(pager.pageTable, key)
		pager.freeFrames = append(pager.freeFrames, page.data)
		return nil, err
	}
	if mutate {
		page.dirty = true
	}
	return page, nil
}

// insert places a fresh frame for (file, pagenum) at the MRU end, evicting
// the LRU page first when the pool is at capacity. The frame's contents are
// undefined.
func (pager *Pager) insert(file FileHandle, pagenum int64) (*Page, error) {
	for len(pager.pageTable) >= pager.capacity {
		if err := pager.evictLRU(); err != nil {
			return nil, err
		}
	}
	var frame []byte
	if n := len(pager.freeFrames); n > 0 {
		frame = pager.freeFrames[n-1]
		pager.freeFrames = pager.freeFrames[:n-1]
	} else {
		frame = directio.AlignedBlock(int(Pagesize))
	}
	page := &Page{
		pager:   pager,
		file:    file,
		pagenum: pagenum,
		data:    frame,
	}
	pager.pageTable[bufferKey{file, pagenum}] = pager.recency.PushTail(page)
	return page, nil
}

// evictLRU flushes and drops the least recently used page.
func (pager *Pager) evictLRU() error {
	link := pager.recency.PeekHead()
	if link == nil {
		return ErrPageOutOfRange
	}
	page := link.GetValue().(*Page)
	if err := pager.FlushPage(page); err != nil {
		return err
	}
	link.PopSelf()
	delete(pager.pageTable, bufferKey{page.file, page.pagenum})
	pager.freeFrames = append(pager.freeFrames, page.data)
	return nil
}
