package record_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"raptordb/pkg/entry"
	"raptordb/pkg/pager"
	"raptordb/pkg/record"

	"github.com/stretchr/testify/require"
)

// setupTable creates a fresh table over a small buffer pool.
func setupTable(t *testing.T, poolPages int) *record.Table {
	t.Parallel()
	fm := pager.NewFileManager()
	pool := pager.NewWithCapacity(fm, poolPages)
	schema := testSchema(t)
	table, err := record.CreateTable(pool, filepath.Join(t.TempDir(), "users.tbl"), schema)
	require.NoError(t, err)
	return table
}

func userRecord(id int32, name string, score float64) record.Record {
	return record.NewRecord([]record.Value{
		record.IntValue(id), record.StringValue(name), record.FloatValue(score),
	})
}

func TestInsertAndGet(t *testing.T) {
	table := setupTable(t, 16)
	rid, err := table.Insert(userRecord(1, "alice", 95.5))
	require.NoError(t, err)
	got, err := table.Get(rid)
	require.NoError(t, err)
	require.Equal(t, userRecord(1, "alice", 95.5), got)
}

func TestUpdateInPlace(t *testing.T) {
	table := setupTable(t, 16)
	rid, err := table.Insert(userRecord(1, "alice", 95.5))
	require.NoError(t, err)
	require.NoError(t, table.Update(rid, userRecord(1, "bob", 85)))
	got, err := table.Get(rid)
	require.NoError(t, err)
	require.Equal(t, "bob", got.Values[1].Str())
}

func TestDeleteFreesSlot(t *testing.T) {
	table := setupTable(t, 16)
	rid, err := table.Insert(userRecord(1, "alice", 95.5))
	require.NoError(t, err)
	other, err := table.Insert(userRecord(2, "bob", 1))
	require.NoError(t, err)

	require.NoError(t, table.Delete(rid))
	_, err = table.Get(rid)
	require.ErrorIs(t, err, record.ErrInvalidRid)
	require.ErrorIs(t, table.Delete(rid), record.ErrInvalidRid)

	// Sibling records keep their rids.
	got, err := table.Get(other)
	require.NoError(t, err)
	require.Equal(t, int32(2), got.Values[0].Int())

	// The freed slot is reused by the next insert.
	reused, err := table.Insert(userRecord(3, "carol", 2))
	require.NoError(t, err)
	require.Equal(t, rid, reused)
}

func TestGetInvalidRid(t *testing.T) {
	table := setupTable(t, 16)
	_, err := table.Get(entry.NewRID(99, 0))
	require.ErrorIs(t, err, record.ErrInvalidRid)
	_, err = table.Get(entry.NewRID(1, 5000))
	require.ErrorIs(t, err, record.ErrInvalidRid)
}

func TestScanOrder(t *testing.T) {
	table := setupTable(t, 16)
	const n = 50
	for i := 0; i < n; i++ {
		_, err := table.Insert(userRecord(int32(i), fmt.Sprintf("u%d", i), 0))
		require.NoError(t, err)
	}
	cursor := table.Scan()
	var prev entry.RID
	count := 0
	for cursor.Next() {
		rid := cursor.RID()
		if count > 0 {
			require.Positive(t, rid.Compare(prev), "scan must visit rids in order")
		}
		rec, err := cursor.Record()
		require.NoError(t, err)
		require.Equal(t, int32(count), rec.Values[0].Int())
		prev = rid
		count++
	}
	require.NoError(t, cursor.Err())
	require.Equal(t, n, count)
}

func TestMultiPageInsertion(t *testing.T) {
	table := setupTable(t, 4)
	// The 33-byte user record packs a few hundred slots per page; spill
	// well into a second page.
	const n = 600
	rids := make([]entry.RID, n)
	for i := 0; i < n; i++ {
		rid, err := table.Insert(userRecord(int32(i), "x", 0))
		require.NoError(t, err)
		rids[i] = rid
	}
	require.Greater(t, rids[n-1].PageNum, int64(1), "expected the chain to grow")
	for i, rid := range rids {
		rec, err := table.Get(rid)
		require.NoError(t, err)
		require.Equal(t, int32(i), rec.Values[0].Int())
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	fm := pager.NewFileManager()
	pool := pager.NewWithCapacity(fm, 8)
	schema := testSchema(t)
	path := filepath.Join(t.TempDir(), "users.tbl")

	table, err := record.CreateTable(pool, path, schema)
	require.NoError(t, err)
	rid, err := table.Insert(userRecord(9, "durable", 3.25))
	require.NoError(t, err)
	require.NoError(t, table.Close())

	reopened, err := record.OpenTable(pool, path, schema)
	require.NoError(t, err)
	got, err := reopened.Get(rid)
	require.NoError(t, err)
	require.Equal(t, userRecord(9, "durable", 3.25), got)
}
