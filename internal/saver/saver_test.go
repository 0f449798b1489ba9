package saver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/schema"
)

func parquetRows(t *testing.T, path string) int64 {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, nil, 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	return pr.GetNumRows()
}

func TestExportRoot(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(t.TempDir(), "parquet")
	require.NoError(t, os.WriteFile(filepath.Join(root, "Person_1.txt"),
		[]byte("PIN\tNmae\tVornmae\tGeburtsdatum\tAdresse\n1\tMeier\tHans\t1980-01-01\tBahnhofstrasse 1\n2\tHuber\tAnna\n3\tKeller\tEva\t1990-02-02\tHauptgasse 4\textra\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "FZ.csv"), []byte("STAMM,Kennzeichen\n1,BE 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.txt"), nil, 0o644))

	c, err := schema.DefaultCatalog()
	require.NoError(t, err)
	s := New(out, schema.NewCorrector(c, config.DefaultSimilarityThreshold), config.DefaultTabularExtensions, 2, nil)

	exports, err := s.ExportRoot(context.Background(), root)
	require.Error(t, err, "the empty table cannot be exported")
	require.Len(t, exports, 2)

	person := exports[0]
	assert.Equal(t, "Person_1.txt", person.Source)
	assert.Equal(t, filepath.Join(out, "Person_1.parquet"), person.Output)
	assert.Equal(t, []string{"PIN", "Nmae", "Vorname", "Geburtsdatum", "Adresse"}, person.Columns)
	assert.EqualValues(t, 3, person.Rows)
	assert.EqualValues(t, 3, parquetRows(t, person.Output))

	fz := exports[1]
	assert.Equal(t, "sub/FZ.csv", fz.Source)
	assert.Equal(t, filepath.Join(out, "sub__FZ.parquet"), fz.Output)
	assert.EqualValues(t, 1, parquetRows(t, fz.Output))

	_, err = os.Stat(filepath.Join(out, "empty.parquet"))
	assert.True(t, os.IsNotExist(err), "failed exports leave no file behind")
}

func TestColumnNames(t *testing.T) {
	got := columnNames([]string{"Änderungsdatum", "Gültigkeitsdatum", "a b", "", "1st", "Name", "Name", "x=y, z"})
	assert.Equal(t, []string{"Aenderungsdatum", "Gueltigkeitsdatum", "a_b", "column_4", "c_1st", "Name", "Name_2", "x_y__z"}, got)
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "Person_1.parquet", OutputName("Person_1.txt"))
	assert.Equal(t, "content__schema0__rows.parquet", OutputName("content/schema0/rows.csv"))
}
