package tabular

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadHeadReturnsHeaderAndLimitedRows(t *testing.T) {
	path := writeCSV(t, "a,b,c\n1,2,3\n4,5,6\n7,8,9\n")

	table, err := ReadHead(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, table.Header)
	assert.Len(t, table.Rows, 2)
}

func TestReadFullReturnsAllRows(t *testing.T) {
	path := writeCSV(t, "a,b\n1,2\n3,4\n5,6\n")

	table, err := ReadFull(path)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 3)
}

func TestReadFullEmptyFileErrors(t *testing.T) {
	path := writeCSV(t, "")

	_, err := ReadFull(path)
	assert.Error(t, err)
}

func TestReadHeadRejectsSpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not really xlsx"), 0o644))

	_, err := ReadHead(path, 10)
	assert.Error(t, err)
}

func TestWriteCSVThenReadFullRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	header := []string{"x", "y"}
	rows := [][]string{{"1", "2"}, {"3", "4"}}

	require.NoError(t, WriteCSV(path, header, rows))

	table, err := ReadFull(path)
	require.NoError(t, err)
	assert.Equal(t, header, table.Header)
	assert.Equal(t, rows, table.Rows)
}

func TestIsSpreadsheetDetectsExtension(t *testing.T) {
	assert.True(t, IsSpreadsheet("file.xlsx"))
	assert.True(t, IsSpreadsheet("FILE.XLSX"))
	assert.False(t, IsSpreadsheet("file.csv"))
}

func TestReadHeadToleratesNonUTF8Bytes(t *testing.T) {
	// 0xE9 is "é" in Latin-1/CP1252; the encoding fallback chain must not
	// error out on it.
	content := []byte("name,notes\nBTC,caf\xE9\n")
	path := filepath.Join(t.TempDir(), "latin1.csv")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	table, err := ReadHead(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "notes"}, table.Header)
	require.Len(t, table.Rows, 1)
}
