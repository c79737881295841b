package pager

// NoPage is the pagenum for when there is no page being held.
const NoPage = -1

// Page caches a page from disk and stores additional metadata.
type Page struct {
	pager   *Pager     // Pointer to the pager that this page belongs to
	file    FileHandle // Handle of the file the page was read from
	pagenum int64      // Position of the page within its file
	dirty   bool       // Whether the page's data has changed and needs to be written to disk
	data    []byte     // The actual Pagesize bytes of the page
}

// GetPager returns the pager this page belongs to.
func (page *Page) GetPager() *Pager {
	return page.pager
}

// GetFile returns the handle of the file this page belongs to.
func (page *Page) GetFile() FileHandle {
	return page.file
}

// GetPageNum returns the page's position within its file.
func (page *Page) GetPageNum() int64 {
	return page.pagenum
}

// IsDirty reports whether the page's data has changed and needs to be
// written to disk.
func (page *Page) IsDirty() bool {
	return page.dirty
}

// SetDirty changes the dirty status of a page.
func (page *Page) SetDirty(dirty bool) {
	page.dirty = dirty
}

// GetData returns the byte data held by the page.
func (page *Page) GetData() []byte {
	return page.data
}

// Update updates this page with `size` bytes of the given data slice at the
// specified offset, marking the page dirty.
func (page *Page) Update(data []byte, offset int64, size int64) {
	page.dirty = true
	copy(page.data[offset:offset+size], data)
}
