package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"searchstats/internal/domain/jobrun"
	"searchstats/internal/domain/searchquery"
	"searchstats/internal/pkg/apptime"
)

// RunStarter starts a download-ingest-aggregate job run.
type RunStarter interface {
	Start(ctx context.Context, period searchquery.ReportPeriod, day time.Time) (*jobrun.Run, string, error)
}

// CommandHandler serves operator commands.
type CommandHandler struct {
	runs   RunStarter
	logger *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(runs RunStarter, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandHandler{runs: runs, logger: logger}
}

// RegisterRoutes wires command routes.
func (h *CommandHandler) RegisterRoutes(r chiRouter) {
	r.Post("/commands/download-report", h.handleDownloadReport)
}

func (h *CommandHandler) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusInternalServerError, errServiceUnavailable)
		return
	}
	period, err := searchquery.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	day, err := apptime.ParseOptionalDate(r.URL.Query().Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("day: %w", err))
		return
	}
	if day.IsZero() {
		day = apptime.Today()
	}

	run, jobID, err := h.runs.Start(r.Context(), period, day)
	if err != nil {
		h.logger.Error("start download run failed", "period", period, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{RunID: run.ID, JobID: jobID})
}

type commandResponse struct {
	RunID string `json:"run_id"`
	JobID string `json:"job_id"`
}
