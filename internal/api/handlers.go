package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/status"
)

const (
	defaultReportLimit = 10
	maxReportLimit     = 100
)

// JobView is the state of one job as served by the API
type JobView struct {
	Job        string                 `json:"job"`
	Status     *status.RunStatus      `json:"status,omitempty"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint,omitempty"`
}

// JobList is the response of GET /v1/jobs
type JobList struct {
	Jobs []JobView `json:"jobs"`
}

// ReportList is the response of GET /v1/jobs/{job}/reports
type ReportList struct {
	Job     string           `json:"job"`
	Reports []*report.Report `json:"reports"`
}

type handler struct {
	jobs        []string
	statuses    status.StatusPersistence
	checkpoints checkpoint.Store
	reports     ReportLister
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	if _, err := h.statuses.LoadAllStatus(r.Context()); err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Status store not ready")
		writeError(w, "status store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.statuses.LoadAllStatus(r.Context())
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Failed to load job statuses")
		writeError(w, "failed to load job statuses", http.StatusInternalServerError)
		return
	}

	out := JobList{Jobs: make([]JobView, 0, len(h.jobs))}
	for _, job := range h.jobs {
		view := JobView{Job: job, Status: statuses[job]}
		cp, err := h.loadCheckpoint(r, job)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		view.Checkpoint = cp
		out.Jobs = append(out.Jobs, view)
	}
	writeJSON(w, out, http.StatusOK)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobParam(w, r)
	if !ok {
		return
	}

	st, err := h.statuses.LoadStatus(r.Context(), job)
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Failed to load job status", "job", job)
		writeError(w, "failed to load job status", http.StatusInternalServerError)
		return
	}
	// A job that never ran has an empty status
	if st != nil && st.Phase == "" {
		st = nil
	}

	cp, err := h.loadCheckpoint(r, job)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, JobView{Job: job, Status: st, Checkpoint: cp}, http.StatusOK)
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobParam(w, r)
	if !ok {
		return
	}
	if h.reports == nil {
		writeError(w, "report history requires database storage", http.StatusNotImplemented)
		return
	}

	limit := defaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxReportLimit {
			writeError(w, fmt.Sprintf("limit must be an integer between 1 and %d", maxReportLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	reports, err := h.reports(r.Context(), job, limit)
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Failed to list reports", "job", job)
		writeError(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []*report.Report{}
	}
	writeJSON(w, ReportList{Job: job, Reports: reports}, http.StatusOK)
}

// jobParam reads {job} and writes a 404 when it is not a known job
func (h *handler) jobParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	job := chi.URLParam(r, "job")
	if !slices.Contains(h.jobs, job) {
		writeError(w, fmt.Sprintf("job %q not found", job), http.StatusNotFound)
		return "", false
	}
	return job, true
}

// loadCheckpoint returns nil when the job has no checkpoint
func (h *handler) loadCheckpoint(r *http.Request, job string) (*checkpoint.Checkpoint, error) {
	cp, err := h.checkpoints.Load(r.Context(), job)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Failed to load checkpoint", "job", job)
		return nil, fmt.Errorf("failed to load checkpoint for job %s", job)
	}
	return &cp, nil
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
