package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"searchstats/internal/domain/searchquery"
)

// ErrUnauthorized is returned by a source that rejected the credentials.
var ErrUnauthorized = errors.New("report source rejected credentials")

// Source downloads raw (uncompressed) CSV reports.
type Source interface {
	DownloadReport(ctx context.Context, period searchquery.ReportPeriod) (io.ReadCloser, error)
}

// Path returns where the report of day and period is stored under dir:
// <dir>/YYYY/MM/YYYY-MM-DD_<period>_report.csv.gz.
func Path(dir string, day time.Time, period searchquery.ReportPeriod) string {
	return filepath.Join(dir,
		day.Format("2006"),
		day.Format("01"),
		fmt.Sprintf("%s_%s_report.csv.gz", day.Format(time.DateOnly), period))
}
