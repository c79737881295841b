package pager_test

import (
	"path/filepath"
	"testing"

	"raptordb/pkg/pager"

	"github.com/ncw/directio"
)

// setupFile creates a paged file in a temp dir and returns an open handle.
func setupFile(t *testing.T) (*pager.FileManager, pager.FileHandle) {
	t.Parallel()
	fm := pager.NewFileManager()
	path := filepath.Join(t.TempDir(), "test.tbl")
	if err := fm.CreateFile(path); err != nil {
		t.Fatal("Failed to create file:", err)
	}
	handle, err := fm.OpenFile(path)
	if err != nil {
		t.Fatal("Failed to open file:", err)
	}
	return fm, handle
}

func TestFileCreateOpenClose(t *testing.T) {
	t.Parallel()
	fm := pager.NewFileManager()
	path := filepath.Join(t.TempDir(), "t.tbl")
	if err := fm.CreateFile(path); err != nil {
		t.Fatal(err)
	}
	if err := fm.CreateFile(path); err != pager.ErrFileExists {
		t.Errorf("duplicate create = %v, expected ErrFileExists", err)
	}
	handle, err := fm.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	again, err := fm.OpenFile(path)
	if err != nil || again != handle {
		t.Error("opening the same path twice should return the same handle")
	}
	if err := fm.CloseFile(handle); err != nil {
		t.Fatal(err)
	}
	if err := fm.CloseFile(handle); err != pager.ErrHandleNotOpen {
		t.Errorf("double close = %v, expected ErrHandleNotOpen", err)
	}
	if _, err := fm.OpenFile(filepath.Join(t.TempDir(), "missing.tbl")); err != pager.ErrFileNotFound {
		t.Errorf("open missing = %v, expected ErrFileNotFound", err)
	}
}

func TestFileReadWritePage(t *testing.T) {
	fm, handle := setupFile(t)
	buf := directio.AlignedBlock(int(pager.Pagesize))
	buf[0] = 42
	buf[pager.Pagesize-1] = 7
	if err := fm.WritePage(handle, 3, buf); err != nil {
		t.Fatal(err)
	}
	count, err := fm.PageCount(handle)
	if err != nil || count != 4 {
		t.Errorf("page count = %d (%v), expected 4", count, err)
	}
	got := directio.AlignedBlock(int(pager.Pagesize))
	if err := fm.ReadPage(handle, 3, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 42 || got[pager.Pagesize-1] != 7 {
		t.Error("read back different bytes than written")
	}
	// Reads past the end of the file are zero-filled.
	if err := fm.ReadPage(handle, 100, got); err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != 0 {
			t.Fatal("read past EOF should be all zeros")
		}
	}
}

// setupPool creates a pool of the given capacity over a fresh file.
func setupPool(t *testing.T, capacity int) (*pager.Pager, pager.FileHandle) {
	fm, handle := setupFile(t)
	return pager.NewWithCapacity(fm, capacity), handle
}

func TestPoolAppendAndGet(t *testing.T) {
	pool, handle := setupPool(t, 8)
	page, err := pool.AppendPage(handle)
	if err != nil {
		t.Fatal(err)
	}
	page.GetData()[0] = 99
	got, err := pool.Get(handle, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.GetData()[0] != 99 {
		t.Error("Get should return the cached appended page")
	}
	if _, err := pool.Get(handle, 1); err != pager.ErrPageOutOfRange {
		t.Errorf("Get beyond end = %v, expected ErrPageOutOfRange", err)
	}
}

func TestPoolWriteBack(t *testing.T) {
	pool, handle := setupPool(t, 8)
	page, err := pool.AppendPage(handle)
	if err != nil {
		t.Fatal(err)
	}
	page.Update([]byte{1, 2, 3}, 0, 3)
	if pool.DirtyCount() != 1 {
		t.Error("page should be dirty after Update")
	}
	// Flushing clears the dirty bit but keeps the page cached.
	if err := pool.Flush(handle, 0); err != nil {
		t.Fatal(err)
	}
	if pool.DirtyCount() != 0 || !pool.Cached(handle, 0) {
		t.Error("flushed page should stay resident and clean")
	}
	// GetMut re-dirties.
	if _, err := pool.GetMut(handle, 0); err != nil {
		t.Fatal(err)
	}
	if pool.DirtyCount() != 1 {
		t.Error("GetMut should mark the page dirty")
	}
}

func TestPoolLRUEviction(t *testing.T) {
	pool, handle := setupPool(t, 3)
	for i := 0; i < 4; i++ {
		if _, err := pool.AppendPage(handle); err != nil {
			t.Fatal(err)
		}
	}
	// Pages 1,2,3 should be resident; page 0 was the LRU and evicted.
	if pool.Cached(handle, 0) {
		t.Error("page 0 should have been evicted")
	}
	for _, pn := range []int64{1, 2, 3} {
		if !pool.Cached(handle, pn) {
			t.Errorf("page %d should be resident", pn)
		}
	}
	if pool.Len() != 3 {
		t.Errorf("pool length = %d, expected 3", pool.Len())
	}
}

func TestPoolAccessPromotes(t *testing.T) {
	pool, handle := setupPool(t, 3)
	for i := 0; i < 3; i++ {
		if _, err := pool.AppendPage(handle); err != nil {
			t.Fatal(err)
		}
	}
	// Touch page 0 so page 1 becomes the LRU.
	if _, err := pool.Get(handle, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.AppendPage(handle); err != nil {
		t.Fatal(err)
	}
	if !pool.Cached(handle, 0) || pool.Cached(handle, 1) {
		t.Error("LRU should evict the least recently accessed page")
	}
}

func TestPoolEvictionWritesDirtyPages(t *testing.T) {
	pool, handle := setupPool(t, 1)
	page, err := pool.AppendPage(handle)
	if err != nil {
		t.Fatal(err)
	}
	page.Update([]byte{123}, 0, 1)
	// Appending a second page evicts (and flushes) the first.
	if _, err := pool.AppendPage(handle); err != nil {
		t.Fatal(err)
	}
	got, err := pool.Get(handle, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.GetData()[0] != 123 {
		t.Error("dirty page content lost across eviction")
	}
}

func TestPoolEvictFile(t *testing.T) {
	fm := pager.NewFileManager()
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.tbl")
	pathB := filepath.Join(dir, "b.tbl")
	for _, path := range []string{pathA, pathB} {
		if err := fm.CreateFile(path); err != nil {
			t.Fatal(err)
		}
	}
	handleA, _ := fm.OpenFile(pathA)
	handleB, _ := fm.OpenFile(pathB)
	pool := pager.NewWithCapacity(fm, 8)

	pageA, err := pool.AppendPage(handleA)
	if err != nil {
		t.Fatal(err)
	}
	pageA.Update([]byte{55}, 0, 1)
	if _, err := pool.AppendPage(handleB); err != nil {
		t.Fatal(err)
	}

	if err := pool.EvictFile(handleA); err != nil {
		t.Fatal(err)
	}
	if pool.Cached(handleA, 0) {
		t.Error("file A pages should be dropped")
	}
	if !pool.Cached(handleB, 0) {
		t.Error("file B pages should be unaffected")
	}
	// The dirty page reached disk.
	got, err := pool.Get(handleA, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.GetData()[0] != 55 {
		t.Error("evicted dirty page was not written back")
	}
}

func TestPoolPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	fm := pager.NewFileManager()
	path := filepath.Join(t.TempDir(), "t.tbl")
	if err := fm.CreateFile(path); err != nil {
		t.Fatal(err)
	}
	handle, err := fm.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pool := pager.NewWithCapacity(fm, 4)
	for i := 0; i < 3; i++ {
		page, err := pool.AppendPage(handle)
		if err != nil {
			t.Fatal(err)
		}
		page.Update([]byte{byte(i + 1)}, 0, 1)
	}
	if err := pool.CloseFile(handle); err != nil {
		t.Fatal(err)
	}

	handle, err = fm.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 3; i++ {
		page, err := pool.Get(handle, i)
		if err != nil {
			t.Fatal(err)
		}
		if page.GetData()[0] != byte(i+1) {
			t.Errorf("page %d content lost across close/reopen", i)
		}
	}
}
