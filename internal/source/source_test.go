package source

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/FranksOps/sitelayout/internal/storage/sqlite"
	"github.com/FranksOps/sitelayout/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func hosts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Host)
	}
	return out
}

func TestParse_List(t *testing.T) {
	in := `# top sites
example.com
  News.BBC.co.uk   # trailing comment

https://shop.io/path
example.com
`
	entries, err := Parse(strings.NewReader(in), Options{Format: FormatList})
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "news.bbc.co.uk", "shop.io"}, hosts(entries))
	assert.Zero(t, entries[0].Rank)
}

func TestParse_CSV(t *testing.T) {
	in := "rank,domain\n1,google.com\n2, youtube.com\n# skipped\n3,facebook.com\n"

	entries, err := Parse(strings.NewReader(in), Options{Format: FormatCSV})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Host: "youtube.com", Rank: 2}, entries[1])
}

func TestParse_CSVErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("1,a.com\nx,b.com\n"), Options{Format: FormatCSV})
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("1\n"), Options{Format: FormatCSV})
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("a.com\n"), Options{Format: "xml"})
	assert.Error(t, err)
}

func TestParse_Paging(t *testing.T) {
	in := "1,a.com\n2,b.com\n3,c.com\n4,d.com\n"

	tests := []struct {
		name         string
		start, count int
		want         []string
	}{
		{"all", 0, 0, []string{"a.com", "b.com", "c.com", "d.com"}},
		{"count", 0, 2, []string{"a.com", "b.com"}},
		{"start", 3, 0, []string{"d.com"}},
		{"window", 1, 2, []string{"b.com", "c.com"}},
		{"past end", 9, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Parse(strings.NewReader(in), Options{Format: FormatCSV, Start: tt.start, Count: tt.count})
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, entries)
				return
			}
			assert.Equal(t, tt.want, hosts(entries))
		})
	}
}

func TestParse_XLSX(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]any{{"rank", "host"}, {1, "a.com"}, {}, {2, "B.org"}}
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	entries, err := Parse(&buf, Options{Format: FormatXLSX})
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Host: "a.com", Rank: 1}, {Host: "b.org", Rank: 2}}, entries)

	_, err = Parse(strings.NewReader("not a workbook"), Options{Format: FormatXLSX})
	assert.Error(t, err)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatCSV, formatFor("top-1m.CSV"))
	assert.Equal(t, FormatXLSX, formatFor("https://example.org/top.xlsx?dl=1"))
	assert.Equal(t, FormatList, formatFor("hosts.txt"))
	assert.Equal(t, FormatList, formatFor("hosts"))
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "top.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("1,a.com\n2,b.com\n"), 0o644))
	listPath := filepath.Join(dir, "hosts.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("c.com\n"), 0o644))

	entries, err := Load(context.Background(), csvPath, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, entries[1].Rank, "csv picked by extension")

	entries, err = Load(context.Background(), listPath, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.com"}, hosts(entries))

	_, err = Load(context.Background(), filepath.Join(dir, "missing.txt"), nil, Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_HTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.csv" {
			w.WriteHeader(http.StatusGone)
			return
		}
		_, _ = w.Write([]byte("1,a.com\n2,b.com\n"))
	}))
	defer ts.Close()

	client, err := httpclient.New(httpclient.Config{})
	require.NoError(t, err)

	entries, err := Load(context.Background(), ts.URL+"/top.csv", client, Options{Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Host: "a.com", Rank: 1}}, entries)

	_, err = Load(context.Background(), ts.URL+"/gone.csv", client, Options{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusGone, se.Code)

	_, err = Load(context.Background(), ts.URL+"/top.csv", nil, Options{})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatAuto, "auto": FormatAuto, "CSV": FormatCSV, "list": FormatList} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestImporter_Import(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx, false))
	require.NoError(t, store.CreateSite(ctx, &storage.Site{Host: "old.com", Name: "old_com"}))

	sum, err := NewImporter(store, nil).Import(ctx, []Entry{
		{Host: "a.com", Rank: 1},
		{Host: "old.com", Rank: 2},
		{Host: "localhost", Rank: 3},
		{Host: "b.co.uk", Rank: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Created: 2, Duplicate: 1, Invalid: 1}, *sum)

	site, err := store.GetSiteByHost(ctx, "b.co.uk")
	require.NoError(t, err)
	assert.Equal(t, "b_co_uk", site.Name)
	assert.Equal(t, 4, site.Rank)
	assert.False(t, site.Processed)
}
