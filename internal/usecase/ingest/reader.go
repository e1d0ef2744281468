package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultBatchSize is the number of rows per batch.
	DefaultBatchSize = 1000
	maxRowErrors     = 1000
)

// ReportRow is one parsed report line.
type ReportRow struct {
	Line     int
	Value    string
	Requests int64
}

// Batch is a slice of consecutive report rows.
type Batch struct {
	Index int
	Rows  []ReportRow
}

// FirstLine returns the line number of the first row, or 0 for an empty batch.
func (b Batch) FirstLine() int {
	if len(b.Rows) == 0 {
		return 0
	}
	return b.Rows[0].Line
}

// RowError describes a malformed line that was skipped.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// ErrMalformedRow marks a report line that cannot be parsed.
var ErrMalformedRow = errors.New("malformed report row")

// ErrUnreadableReport marks a report file that is not a gzip stream.
var ErrUnreadableReport = errors.New("unreadable report")

// ReportReader streams a gzip-compressed CSV report in batches.
type ReportReader struct {
	closer    io.Closer
	gz        *gzip.Reader
	csv       *csv.Reader
	batchSize int
	index     int
	skipped   int
	rowErrors []RowError
	started   bool
}

// OpenReport opens the report file at path.
func OpenReport(path string, batchSize int) (*ReportReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	r, err := NewReportReader(f, batchSize)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReportReader wraps a gzip stream. batchSize <= 0 selects DefaultBatchSize.
func NewReportReader(src io.Reader, batchSize int) (*ReportReader, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("open report gzip: %w: %w", ErrUnreadableReport, err)
	}
	cr := csv.NewReader(gz)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return &ReportReader{gz: gz, csv: cr, batchSize: batchSize}, nil
}

// Next returns the next batch, or io.EOF once the report is exhausted.
func (r *ReportReader) Next() (Batch, error) {
	rows := make([]ReportRow, 0, r.batchSize)
	for len(rows) < r.batchSize {
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.skip(parseErr.StartLine, fmt.Errorf("%w: %v", ErrMalformedRow, parseErr.Err))
				continue
			}
			return Batch{}, fmt.Errorf("read report: %w", err)
		}
		line, _ := r.csv.FieldPos(0)
		first := !r.started
		r.started = true

		row, err := parseRow(line, record)
		if err != nil {
			if first && line == 1 {
				// header
				continue
			}
			r.skip(line, err)
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return Batch{}, io.EOF
	}
	b := Batch{Index: r.index, Rows: rows}
	r.index++
	return b, nil
}

// RowErrors returns the first skipped lines, capped to keep memory bounded.
func (r *ReportReader) RowErrors() []RowError {
	return r.rowErrors
}

// Skipped returns the number of malformed lines.
func (r *ReportReader) Skipped() int {
	return r.skipped
}

// Close releases the gzip stream and the underlying file, if any.
func (r *ReportReader) Close() error {
	err := r.gz.Close()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (r *ReportReader) skip(line int, err error) {
	r.skipped++
	if len(r.rowErrors) < maxRowErrors {
		r.rowErrors = append(r.rowErrors, RowError{Line: line, Err: err})
	}
}

func parseRow(line int, record []string) (ReportRow, error) {
	if len(record) < 2 {
		return ReportRow{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformedRow, len(record))
	}
	value := strings.TrimSpace(record[0])
	if value == "" {
		return ReportRow{}, fmt.Errorf("%w: empty search query", ErrMalformedRow)
	}
	requests, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
	if err != nil {
		return ReportRow{}, fmt.Errorf("%w: requests %q is not a number", ErrMalformedRow, record[1])
	}
	if requests < 0 {
		return ReportRow{}, fmt.Errorf("%w: negative requests %d", ErrMalformedRow, requests)
	}
	return ReportRow{Line: line, Value: value, Requests: requests}, nil
}
