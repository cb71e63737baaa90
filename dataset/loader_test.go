package dataset

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
)

const irisHead = `Sepal.Length,Sepal.Width,Species
5.1,3.5,setosa
7.0,3.2,versicolor
6.3,NA,virginica
4.9,3.0,setosa
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func requireLoadError(t *testing.T, err error) *errors.LoadError {
	t.Helper()
	var le *errors.LoadError
	require.True(t, errors.As(err, &le), "expected LoadError, got %v", err)
	return le
}

func TestLoadLocalCSVInfersKinds(t *testing.T) {
	path := writeFile(t, "iris.csv", irisHead)
	logger, _ := log.NewTestLogger(log.LevelDebug)

	ds, err := Load(context.Background(), path, FormatCSV, WithLogger(logger))
	require.NoError(t, err)
	assert.Equal(t, 4, ds.NRows())

	col, _ := ds.Schema().Lookup("Sepal.Width")
	assert.Equal(t, Numeric, col.Kind)
	col, _ = ds.Schema().Lookup("Species")
	assert.Equal(t, Categorical, col.Kind)

	w, err := ds.Numeric("Sepal.Width")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(w[2]))

	assert.True(t, logger.ContainsMessage("Dataset loaded"))
	assert.True(t, logger.ContainsField(log.SamplesKey, 4.0))
}

func TestLoadForcedKindsAndDelimited(t *testing.T) {
	path := writeFile(t, "cars.txt", "cyl;mpg;name\n4;30.1;a car\n6;21.0;b car\n")

	ds, err := Load(context.Background(), path, FormatDelimited,
		WithDelimiter(';'),
		WithKinds(map[string]Kind{"cyl": Categorical, "name": Text}),
	)
	require.NoError(t, err)

	levels, err := ds.Levels("cyl")
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "6"}, levels)
	col, _ := ds.Schema().Lookup("name")
	assert.Equal(t, Text, col.Kind)
}

func TestLoadTSV(t *testing.T) {
	path := writeFile(t, "d.tsv", "x\ty\n1\ta\n2\tb\n")
	ds, err := Load(context.Background(), path, FormatTSV)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.NRows())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		format   Format
		opts     []LoadOption
		wantLine int
	}{
		{name: "empty file", content: "", format: FormatCSV},
		{name: "header only", content: "a,b\n", format: FormatCSV},
		{name: "ragged row", content: "a,b\n1,2\n3\n", format: FormatCSV, wantLine: 3},
		{
			name:     "forced numeric not parsable",
			content:  "a,b\n1,x\n2,y\n",
			format:   FormatCSV,
			opts:     []LoadOption{WithKinds(map[string]Kind{"b": Numeric})},
			wantLine: 2,
		},
		{name: "delimited without delimiter", content: "a\n1\n", format: FormatDelimited},
		{name: "unknown format", content: "a\n1\n", format: Format("parquet")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "data", tt.content)
			_, err := Load(context.Background(), path, tt.format, tt.opts...)
			le := requireLoadError(t, err)
			if tt.wantLine > 0 {
				assert.Equal(t, tt.wantLine, le.Line)
			}
		})
	}

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), FormatCSV)
	requireLoadError(t, err)
}

func TestLoadRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iris.csv":
			w.Header().Set("Content-Type", "text/csv")
			_, _ = w.Write([]byte(irisHead))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ds, err := Load(context.Background(), srv.URL+"/iris.csv", FormatCSV, WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 4, ds.NRows())

	_, err = Load(context.Background(), srv.URL+"/missing.csv", FormatCSV)
	le := requireLoadError(t, err)
	assert.True(t, strings.Contains(le.Reason, "404"))
}

func TestLoadRemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/data.csv"
	srv.Close()

	_, err := Load(context.Background(), url, FormatCSV, WithTimeout(time.Second))
	requireLoadError(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("TSV")
	require.NoError(t, err)
	assert.Equal(t, FormatTSV, f)

	_, err = ParseFormat("xlsx")
	assert.True(t, errors.IsInvalidParameter(err))
}
