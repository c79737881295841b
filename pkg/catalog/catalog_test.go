package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"raptordb/pkg/catalog"
	"raptordb/pkg/config"
	"raptordb/pkg/record"

	"github.com/stretchr/testify/require"
)

func sampleCatalog() *catalog.Catalog {
	def := "0"
	cat := catalog.New("school")
	cat.Tables = append(cat.Tables, &catalog.TableMeta{
		Name: "students",
		Columns: []catalog.ColumnMeta{
			{Name: "id", Type: "INT", NotNull: true},
			{Name: "name", Type: "VARCHAR(32)"},
			{Name: "credits", Type: "INT", Default: &def},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []catalog.IndexMeta{{Column: "id", File: "students_id.idx"}},
	}, &catalog.TableMeta{
		Name: "enrollments",
		Columns: []catalog.ColumnMeta{
			{Name: "student", Type: "INT"},
			{Name: "course", Type: "VARCHAR(16)", NotNull: true},
		},
		ForeignKeys: []catalog.ForeignKeyMeta{{
			Name: "fk_enrollments_0", Columns: []string{"student"},
			RefTable: "students", RefColumns: []string{"id"},
		}},
	})
	return cat
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cat := sampleCatalog()
	require.NoError(t, cat.Save(dir))

	loaded, err := catalog.Load(dir)
	require.NoError(t, err)
	require.Equal(t, cat, loaded)
}

func TestSaveIsAtomicReplacement(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cat := sampleCatalog()
	require.NoError(t, cat.Save(dir))

	// A second save replaces the file without leaving temporaries behind.
	cat.Tables[0].PrimaryKey = nil
	require.NoError(t, cat.Save(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, config.CatalogFileName, entries[0].Name())

	loaded, err := catalog.Load(dir)
	require.NoError(t, err)
	require.Empty(t, loaded.Tables[0].PrimaryKey)
}

func TestLoadCorruptCatalog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.CatalogFileName), []byte("{nope"), 0666))
	_, err := catalog.Load(dir)
	require.Error(t, err)
}

func TestTableLookups(t *testing.T) {
	t.Parallel()
	cat := sampleCatalog()

	meta, err := cat.GetTable("students")
	require.NoError(t, err)
	idx, err := meta.FindColumn("name")
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	_, err = meta.FindColumn("nope")
	require.ErrorIs(t, err, catalog.ErrColumnNotFound)

	_, ok := meta.FindIndex("id")
	require.True(t, ok)
	_, ok = meta.FindIndex("name")
	require.False(t, ok)

	_, err = cat.GetTable("ghosts")
	require.ErrorIs(t, err, catalog.ErrTableNotFound)

	require.ErrorIs(t, cat.AddTable(&catalog.TableMeta{Name: "students"}), catalog.ErrTableExists)
	require.NoError(t, cat.DropTable("enrollments"))
	require.False(t, cat.HasTable("enrollments"))
}

func TestSchemaConversion(t *testing.T) {
	t.Parallel()
	cat := sampleCatalog()
	meta, err := cat.GetTable("students")
	require.NoError(t, err)
	schema, err := meta.Schema()
	require.NoError(t, err)
	require.Equal(t, 3, schema.NumColumns())
	require.Equal(t, record.IntType, schema.Column(0).Type)
	require.Equal(t, record.VarcharType(32), schema.Column(1).Type)
	require.True(t, schema.Column(0).NotNull)

	def, err := meta.Columns[2].DefaultValue()
	require.NoError(t, err)
	require.Equal(t, int32(0), def.Int())
}
