package sheet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_LocalCSV(t *testing.T) {
	path := writeTempCSV(t, "name,website,notes\nAcme,acme.test,big\nGlobex,globex.test,\n")

	table, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "website", "notes"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 1, table.WebsiteCol)
	assert.Equal(t, "acme.test", table.Website(0))
	assert.Equal(t, []string{"Acme", "acme.test", "big"}, table.Rows[0])
}

func TestLoad_BOMStripped(t *testing.T) {
	path := writeTempCSV(t, "\xEF\xBB\xBFwebsite\nexample.com\n")

	table, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"website"}, table.Header)
	assert.Equal(t, 0, table.WebsiteCol)
}

func TestLoad_HeaderCaseInsensitive(t *testing.T) {
	path := writeTempCSV(t, "Name, WEBSITE \nAcme,acme.test\n")

	table, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, table.WebsiteCol)
	// The header cell itself passes through untouched.
	assert.Equal(t, " WEBSITE ", table.Header[1])
}

func TestLoad_NoWebsiteColumn(t *testing.T) {
	path := writeTempCSV(t, "name,url\nAcme,acme.test\n")

	_, err := Load(context.Background(), path, LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "website column")
}

func TestLoad_HeaderOnlyIsEmpty(t *testing.T) {
	path := writeTempCSV(t, "name,website\n")

	_, err := Load(context.Background(), path, LoadOptions{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrEmptySource))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), LoadOptions{})
	require.Error(t, err)
}

func TestLoad_LazyQuotes(t *testing.T) {
	path := writeTempCSV(t, "website,slogan\nacme.test,say \"hi\" anytime\n")

	table, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Contains(t, table.Rows[0][1], `"hi"`)
}

func TestLoad_ShortRowWebsiteBlank(t *testing.T) {
	path := writeTempCSV(t, "name,website\nAcme\n")

	table, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "", table.Website(0))
}

func TestTable_WebsiteTrimmed(t *testing.T) {
	path := writeTempCSV(t, "website\n  acme.test  \n")

	table, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "acme.test", table.Website(0))
	// The underlying cell keeps its padding for passthrough.
	assert.Equal(t, "  acme.test  ", table.Rows[0][0])
}

func TestLoad_HTTPSource(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("website\nexample.com\n"))
	}))
	defer srv.Close()

	table, err := Load(context.Background(), srv.URL+"/leads.csv", LoadOptions{UserAgent: "TestAgent/1.0"})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 1)
	assert.Equal(t, "TestAgent/1.0", gotUA)
}

func TestLoad_HTTPRetriesTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(503)
			return
		}
		_, _ = w.Write([]byte("website\nexample.com\n"))
	}))
	defer srv.Close()

	table, err := Load(context.Background(), srv.URL+"/leads.csv", LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestLoad_HTTP404NotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(404)
	}))
	defer srv.Close()

	_, err := Load(context.Background(), srv.URL+"/leads.csv", LoadOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			cell := row.AddCell()
			cell.SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoad_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"name", "website"},
		{"Acme", "acme.test"},
		{"Globex", "globex.test"},
	})

	table, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "website"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "globex.test", table.Website(1))
}

func TestLoad_XLSXHeaderOnly(t *testing.T) {
	path := createTestXLSX(t, [][]string{{"website"}})

	_, err := Load(context.Background(), path, LoadOptions{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrEmptySource))
}

func TestWebsiteColumn(t *testing.T) {
	col, err := websiteColumn([]string{"id", "Website", "city"})
	require.NoError(t, err)
	assert.Equal(t, 1, col)

	_, err = websiteColumn([]string{"id", "url"})
	assert.Error(t, err)
}
