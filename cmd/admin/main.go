package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"searchstats/internal/app/bootstrap"
	"searchstats/internal/domain/jobrun"
	"searchstats/internal/domain/searchquery"
	"searchstats/internal/pkg/apptime"
	"searchstats/internal/platform/telemetry"
	"searchstats/internal/usecase/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args); err != nil {
		slog.Error("admin command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		printUsage()
		return fmt.Errorf("missing command")
	}
	switch args[1] {
	case "run":
		return runChain(ctx, args[2:])
	case "ingest":
		return runIngest(ctx, args[2:])
	case "aggregate":
		return runAggregate(ctx, args[2:])
	case "cache":
		return runCache(ctx, args[2:])
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[1])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  admin run --period one_week --day 2024-03-20")
	fmt.Fprintln(os.Stderr, "  admin ingest --file ./report.csv.gz --day 2024-03-20 --period one_week")
	fmt.Fprintln(os.Stderr, "  admin aggregate --day 2024-03-20")
	fmt.Fprintln(os.Stderr, "  admin cache purge --yes")
	fmt.Fprintln(os.Stderr, "  admin cache warmup --values 'shoes,red dress'")
}

func runCache(ctx context.Context, args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("missing cache subcommand")
	}
	switch args[0] {
	case "purge":
		return runCachePurge(ctx, args[1:])
	case "warmup":
		return runCacheWarmup(ctx, args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown cache subcommand: %s", args[0])
	}
}

type session struct {
	rt  *bootstrap.Runtime
	svc *bootstrap.Services
	log *slog.Logger
}

// withSession loads config, connects the stores and runs fn with them.
func withSession(ctx context.Context, fn func(s *session) error) error {
	rt, err := bootstrap.Init("admin")
	if err != nil {
		return err
	}
	defer rt.Flush()
	if rt.SentryEnabled {
		defer telemetry.Recover()
	}

	svc, err := bootstrap.NewServices(ctx, rt, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	return fn(&session{rt: rt, svc: svc, log: rt.Logger})
}

// syncChain returns a chain that runs every stage in-process.
func (s *session) syncChain() (*jobs.Chain, *jobs.SyncQueue) {
	queue := jobs.NewSyncQueue()
	chain := s.svc.Chain(queue)
	queue.Bind(chain)
	return chain, queue
}

func runChain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	periodFlag := fs.String("period", string(searchquery.PeriodOneWeek), "report period")
	dayFlag := fs.String("day", "", "report day YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	period, err := searchquery.ParsePeriod(*periodFlag)
	if err != nil {
		return err
	}
	day, err := parseDay(*dayFlag)
	if err != nil {
		return err
	}

	return withSession(ctx, func(s *session) error {
		chain, _ := s.syncChain()
		jobRun, _, err := chain.Start(ctx, period, day)
		if err != nil {
			return fmt.Errorf("report run failed: %w", err)
		}
		s.log.Info("report run completed", "run_id", jobRun.ID, "period", period, "day", apptime.FormatDate(day))
		return nil
	})
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	file := fs.String("file", "", "gzip-compressed CSV report (required)")
	periodFlag := fs.String("period", string(searchquery.PeriodOneWeek), "report period")
	dayFlag := fs.String("day", "", "report day YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return fmt.Errorf("--file is required")
	}
	if _, err := os.Stat(*file); err != nil {
		return fmt.Errorf("report file: %w", err)
	}
	period, err := searchquery.ParsePeriod(*periodFlag)
	if err != nil {
		return err
	}
	day, err := parseDay(*dayFlag)
	if err != nil {
		return err
	}

	return withSession(ctx, func(s *session) error {
		_, queue := s.syncChain()
		payload := jobs.IngestPayload{
			RunID:      uuid.NewString(),
			ReportPath: *file,
			Period:     period,
			Day:        day,
		}
		if _, err := queue.Enqueue(ctx, jobrun.StageIngest, payload); err != nil {
			if errors.Is(err, jobs.ErrDayLocked) {
				return fmt.Errorf("day %s is being ingested by another run", apptime.FormatDate(day))
			}
			return fmt.Errorf("ingest report: %w", err)
		}
		s.log.Info("report ingested and aggregated", "run_id", payload.RunID, "file", *file, "day", apptime.FormatDate(day))
		return nil
	})
}

func runAggregate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dayFlag := fs.String("day", "", "report day YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	day, err := parseDay(*dayFlag)
	if err != nil {
		return err
	}

	return withSession(ctx, func(s *session) error {
		total, err := s.svc.Stats.AggregateDay(ctx, day)
		if err != nil {
			return fmt.Errorf("aggregate day: %w", err)
		}
		s.log.Info("day aggregated", "day", apptime.FormatDate(total.Day), "total", total.TotalRequestsPerWeek)
		return nil
	})
}

func runCachePurge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache purge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	yes := fs.Bool("yes", false, "required confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return fmt.Errorf("--yes is required")
	}

	return withSession(ctx, func(s *session) error {
		if s.svc.QueryCache == nil {
			return fmt.Errorf("search query cache is disabled (APP_CACHE_BACKEND=%s)", s.rt.Config.App.CacheBackend)
		}
		deleted, err := s.svc.QueryCache.Purge(ctx)
		if err != nil {
			return err
		}
		s.log.Info("cache purge completed", "deleted", deleted)
		return nil
	})
}

func runCacheWarmup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache warmup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	values := fs.String("values", "", "comma-separated search query texts (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list := splitCSV(*values)
	if len(list) == 0 {
		return fmt.Errorf("--values is required")
	}

	return withSession(ctx, func(s *session) error {
		if s.svc.QueryCache == nil {
			return fmt.Errorf("search query cache is disabled (APP_CACHE_BACKEND=%s)", s.rt.Config.App.CacheBackend)
		}
		found, err := s.svc.SearchQueries.ResolveMany(ctx, list)
		if err != nil {
			return fmt.Errorf("warm search queries: %w", err)
		}
		s.log.Info("cache warmup completed", "requested", len(list), "cached", len(found))
		return nil
	})
}

func parseDay(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return apptime.Today(), nil
	}
	return apptime.ParseDate(value)
}

func splitCSV(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
