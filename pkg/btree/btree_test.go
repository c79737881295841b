package btree_test

import (
	"math/rand"
	"path/filepath"
	"testing"

	"raptordb/pkg/btree"
	"raptordb/pkg/entry"
	"raptordb/pkg/pager"
)

// Mod vals by this value to prevent hardcoding tests
var btreeSalt = rand.Int63n(1000) + 1

// setupBTree creates and opens an empty index with a small order so splits
// and merges happen quickly.
func setupBTree(t *testing.T, order int) *btree.BTreeIndex {
	t.Parallel()
	fm := pager.NewFileManager()
	pool := pager.NewWithCapacity(fm, 64)
	index, err := btree.CreateIndex(pool, filepath.Join(t.TempDir(), "t_a.idx"), order)
	if err != nil {
		t.Fatal("Failed to create BTree index:", err)
	}
	return index
}

// ridFor deterministically derives a rid from a key.
func ridFor(key int64) entry.RID {
	return entry.NewRID(key%97, key%13)
}

// generateValue deterministically derives a "random" key from an ordinal.
func generateValue(i int64) int64 {
	return (i * btreeSalt) % 100003
}

// insertEntry inserts and fails the test on error.
func insertEntry(t *testing.T, index *btree.BTreeIndex, key int64) {
	t.Helper()
	if err := index.Insert(key, ridFor(key)); err != nil {
		t.Fatalf("Failed to insert %d: %s", key, err)
	}
}

// verify runs the structural invariant checker.
func verify(t *testing.T, index *btree.BTreeIndex) {
	t.Helper()
	if err := index.Verify(); err != nil {
		t.Fatal("Invariant violation:", err)
	}
}

func TestInsertAndSearch(t *testing.T) {
	index := setupBTree(t, 8)
	for i := int64(0); i < 500; i++ {
		insertEntry(t, index, i)
	}
	verify(t, index)
	for i := int64(0); i < 500; i++ {
		rids, err := index.Search(i)
		if err != nil {
			t.Fatal(err)
		}
		if len(rids) != 1 || rids[0] != ridFor(i) {
			t.Fatalf("Search(%d) = %v, expected [%v]", i, rids, ridFor(i))
		}
	}
	if rids, _ := index.Search(10_000); len(rids) != 0 {
		t.Errorf("Search of absent key returned %v", rids)
	}
}

func TestInsertRandomOrder(t *testing.T) {
	index := setupBTree(t, 8)
	keys := rand.Perm(1000)
	for _, k := range keys {
		insertEntry(t, index, int64(k))
	}
	verify(t, index)
	entries, err := index.Select()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1000 {
		t.Fatalf("Select returned %d entries, expected 1000", len(entries))
	}
	for i, e := range entries {
		if e.Key != int64(i) {
			t.Fatalf("entry %d has key %d", i, e.Key)
		}
	}
}

func TestDuplicateKeysOrderedByRID(t *testing.T) {
	index := setupBTree(t, 8)
	const key = 42
	// Insert duplicates with descending rids; Search must return them in
	// rid order regardless.
	for i := int64(20); i > 0; i-- {
		if err := index.Insert(key, entry.NewRID(i, 0)); err != nil {
			t.Fatal(err)
		}
	}
	rids, err := index.Search(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(rids) != 20 {
		t.Fatalf("Search returned %d rids, expected 20", len(rids))
	}
	for i := 1; i < len(rids); i++ {
		if rids[i-1].Compare(rids[i]) >= 0 {
			t.Fatal("duplicate rids out of order")
		}
	}
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	index := setupBTree(t, 8)
	index.SetUnique(true)
	insertEntry(t, index, 7)
	err := index.Insert(7, entry.NewRID(99, 99))
	if err != btree.ErrDuplicateKey {
		t.Fatalf("duplicate insert = %v, expected ErrDuplicateKey", err)
	}
	// The failed insert must not have mutated the tree.
	if index.EntryCount() != 1 {
		t.Errorf("entry count = %d, expected 1", index.EntryCount())
	}
	verify(t, index)
}

func TestDeleteWithRebalancing(t *testing.T) {
	index := setupBTree(t, 6)
	const n = 800
	for i := int64(0); i < n; i++ {
		insertEntry(t, index, i)
	}
	// Delete in an order that forces redistribution and merges at every
	// depth, verifying invariants as the tree shrinks.
	perm := rand.Perm(n)
	for step, k := range perm {
		if err := index.Delete(int64(k), ridFor(int64(k))); err != nil {
			t.Fatalf("Failed to delete %d: %s", k, err)
		}
		if step%50 == 0 {
			verify(t, index)
		}
	}
	verify(t, index)
	if index.EntryCount() != 0 {
		t.Errorf("entry count = %d after deleting everything", index.EntryCount())
	}
	entries, err := index.Select()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Select returned %d entries from an empty tree", len(entries))
	}
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	index := setupBTree(t, 8)
	for i := int64(0); i < 100; i++ {
		insertEntry(t, index, i)
	}
	before, err := index.Select()
	if err != nil {
		t.Fatal(err)
	}
	// Absent key, and present key with the wrong rid.
	if err := index.Delete(5000, entry.NewRID(1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := index.Delete(10, entry.NewRID(77, 77)); err != nil {
		t.Fatal(err)
	}
	after, err := index.Select()
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Error("idempotent delete changed the index")
	}
	verify(t, index)
}

func TestSelectRangeInclusive(t *testing.T) {
	index := setupBTree(t, 8)
	for i := int64(0); i < 1000; i += 2 {
		insertEntry(t, index, i)
	}
	entries, err := index.SelectRange(10, 20)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{10, 12, 14, 16, 18, 20}
	if len(entries) != len(want) {
		t.Fatalf("SelectRange returned %d entries, expected %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Key != want[i] {
			t.Errorf("entry %d key = %d, expected %d", i, e.Key, want[i])
		}
	}
}

func TestCursorWalksLeafChain(t *testing.T) {
	index := setupBTree(t, 6)
	for i := int64(0); i < 500; i++ {
		insertEntry(t, index, generateValue(i))
	}
	cursor := index.Iter()
	var prev int64 = -1
	count := 0
	for cursor.Next() {
		if cursor.Entry().Key < prev {
			t.Fatal("cursor produced keys out of order")
		}
		prev = cursor.Entry().Key
		count++
	}
	if err := cursor.Err(); err != nil {
		t.Fatal(err)
	}
	if int64(count) != index.EntryCount() {
		t.Errorf("cursor visited %d entries, metadata says %d", count, index.EntryCount())
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	fm := pager.NewFileManager()
	pool := pager.NewWithCapacity(fm, 64)
	path := filepath.Join(t.TempDir(), "t_a.idx")
	index, err := btree.CreateIndex(pool, path, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 300; i++ {
		insertEntry(t, index, i)
	}
	if err := index.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := btree.OpenIndex(pool, path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.EntryCount() != 300 {
		t.Fatalf("entry count = %d after reopen, expected 300", reopened.EntryCount())
	}
	verify(t, reopened)
	for i := int64(0); i < 300; i++ {
		rids, err := reopened.Search(i)
		if err != nil || len(rids) != 1 {
			t.Fatalf("Search(%d) after reopen = %v (%v)", i, rids, err)
		}
	}
}

func TestOpenRejectsNonIndexFile(t *testing.T) {
	t.Parallel()
	fm := pager.NewFileManager()
	pool := pager.NewWithCapacity(fm, 8)
	path := filepath.Join(t.TempDir(), "junk.idx")
	if err := fm.CreateFile(path); err != nil {
		t.Fatal(err)
	}
	handle, err := fm.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.AppendPage(handle); err != nil {
		t.Fatal(err)
	}
	if err := pool.CloseFile(handle); err != nil {
		t.Fatal(err)
	}
	if _, err := btree.OpenIndex(pool, path); err == nil {
		t.Fatal("expected a magic number error opening a zeroed file")
	}
}

func TestOrderBounds(t *testing.T) {
	t.Parallel()
	if _, err := btree.CreateIndex(nil, "", 2); err != btree.ErrOrderTooLarge {
		t.Errorf("order 2 = %v, expected ErrOrderTooLarge", err)
	}
	if _, err := btree.CreateIndex(nil, "", btree.MaxOrder+1); err != btree.ErrOrderTooLarge {
		t.Errorf("order %d = %v, expected ErrOrderTooLarge", btree.MaxOrder+1, err)
	}
}
