package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/jobrun"
	"searchstats/internal/domain/report"
)

func (c *Chain) acquire(ctx context.Context, p AcquirePayload) error {
	day := dailystat.Day(p.Day)
	path := report.Path(c.cfg.ReportDir, day, p.Period)

	fetched, err := c.ensureReport(ctx, p, path)
	if err != nil {
		return err
	}
	c.logger.Info("report acquired", "run_id", p.RunID, "path", path, "fetched", fetched)

	_, err = c.queue.Enqueue(ctx, jobrun.StageIngest, IngestPayload{
		RunID:      p.RunID,
		ReportPath: path,
		Period:     p.Period,
		Day:        day,
	})
	if err != nil {
		return fmt.Errorf("enqueue ingest: %w", err)
	}
	return nil
}

// ensureReport downloads the report unless path already exists.
// The file only appears once it is complete.
func (c *Chain) ensureReport(ctx context.Context, p AcquirePayload, path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat report: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create report dir: %w", err)
	}

	body, err := c.deps.Source.DownloadReport(ctx, p.Period)
	if err != nil {
		if errors.Is(err, report.ErrUnauthorized) {
			return false, NonRetryable(fmt.Errorf("download report: %w", err))
		}
		return false, fmt.Errorf("download report: %w", err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	start := time.Now()
	zw := gzip.NewWriter(tmp)
	n, err := io.Copy(zw, body)
	if err == nil {
		err = zw.Close()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return false, fmt.Errorf("publish report: %w", err)
	}
	committed = true
	c.logger.Info("report downloaded", "path", path, "bytes", n, "elapsed", time.Since(start))
	return true, nil
}
