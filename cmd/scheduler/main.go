package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"searchstats/internal/app/bootstrap"
	"searchstats/internal/domain/searchquery"
	"searchstats/internal/pkg/apptime"
	"searchstats/internal/platform/telemetry"
)

// scheduler enqueues one report run and exits. It is meant to be started by cron.
func main() {
	os.Exit(run())
}

func run() int {
	var (
		periodFlag = flag.String("period", string(searchquery.PeriodOneWeek), "report period: one_week, one_month or three_months")
		dayFlag    = flag.String("day", "", "report day YYYY-MM-DD (default: today)")
		deadline   = flag.Duration("deadline", time.Minute, "overall execution deadline")
	)
	flag.Parse()

	period, err := searchquery.ParsePeriod(*periodFlag)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *deadline)
	defer cancel()

	rt, err := bootstrap.Init("scheduler")
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Flush()
	if rt.SentryEnabled {
		defer telemetry.Recover()
	}
	log := rt.Logger

	day := apptime.Today()
	if *dayFlag != "" {
		if day, err = apptime.ParseDate(*dayFlag); err != nil {
			log.Error("invalid day", "day", *dayFlag, "error", err)
			return 2
		}
	}

	svc, err := bootstrap.NewServices(ctx, rt, nil)
	if err != nil {
		log.Error("scheduler setup failed", "error", err)
		return 1
	}
	defer svc.Close()

	queue, err := rt.ConnectQueue()
	if err != nil {
		log.Error("scheduler setup failed", "error", err)
		return 1
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Error("failed to close job queue", "error", err)
		}
	}()

	jobRun, jobID, err := svc.Chain(queue).Start(ctx, period, day)
	if err != nil {
		log.Error("failed to schedule report run", "period", period, "day", apptime.FormatDate(day), "error", err)
		return 1
	}
	log.Info("report run scheduled", "run_id", jobRun.ID, "job_id", jobID, "period", period, "day", apptime.FormatDate(day))
	return 0
}
