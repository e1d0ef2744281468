package ingest

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportReader_Batches(t *testing.T) {
	data := gzipBytes(t, "query,requests\nshoes,5\nbags,3\n\"red, shoes\",2\n")
	r, err := NewReportReader(bytes.NewReader(data), 2)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)
	require.Len(t, first.Rows, 2)
	assert.Equal(t, ReportRow{Line: 2, Value: "shoes", Requests: 5}, first.Rows[0])
	assert.Equal(t, 2, first.FirstLine())

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)
	require.Len(t, second.Rows, 1)
	assert.Equal(t, "red, shoes", second.Rows[0].Value)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, r.RowErrors())
}

func TestReportReader_NoHeader(t *testing.T) {
	data := gzipBytes(t, "shoes,5\n")
	r, err := NewReportReader(bytes.NewReader(data), 10)
	require.NoError(t, err)

	b, err := r.Next()
	require.NoError(t, err)
	require.Len(t, b.Rows, 1)
	assert.Equal(t, 1, b.Rows[0].Line)
}

func TestReportReader_CollectsMalformedRows(t *testing.T) {
	data := gzipBytes(t, "shoes,5\nbags\n,4\nhats,many\ncaps,-1\nsocks,7\n")
	r, err := NewReportReader(bytes.NewReader(data), 10)
	require.NoError(t, err)

	b, err := r.Next()
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, "socks", b.Rows[1].Value)

	assert.Equal(t, 4, r.Skipped())
	rowErrs := r.RowErrors()
	require.Len(t, rowErrs, 4)
	assert.Equal(t, 2, rowErrs[0].Line)
	assert.True(t, errors.Is(rowErrs[0], ErrMalformedRow))
}

func TestReportReader_RejectsNonGzip(t *testing.T) {
	_, err := NewReportReader(bytes.NewReader([]byte("shoes,5\n")), 10)
	require.ErrorIs(t, err, ErrUnreadableReport)
}

func TestReportReader_EmptyReport(t *testing.T) {
	r, err := NewReportReader(bytes.NewReader(gzipBytes(t, "")), 10)
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenReport_MissingFile(t *testing.T) {
	_, err := OpenReport("/nonexistent/report.csv.gz", 10)
	require.Error(t, err)
}
