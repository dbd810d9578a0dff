package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ruslano69/glyte/pkg/dashboard"
	"github.com/ruslano69/glyte/pkg/ingest"
	"github.com/ruslano69/glyte/pkg/store"
)

// maxUploadBytes bounds the multipart body so a single upload cannot
// exhaust memory or disk.
const maxUploadBytes = 256 << 20 // 256 MiB

type dashboardsHandler struct {
	svc *dashboard.Service
}

// ─────────────────────────────────────────────
// Ingestion
// ─────────────────────────────────────────────

// Upload accepts a multipart file, stages it and reports whether it
// looks like a refresh of an existing dashboard.
func (h *dashboardsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	res, err := h.svc.IngestUpload(r.Context(), file, header.Filename)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	uploadsTotal.Inc()
	writeJSON(w, http.StatusOK, res)
}

type confirmRequest struct {
	TempPath          string `json:"tempPath"`
	TargetDashboardID string `json:"targetDashboardId"`
}

// ConfirmUpload promotes a staged upload into a dashboard table,
// either as a brand new dashboard or as the next version of an
// existing one.
func (h *dashboardsHandler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TempPath == "" {
		writeError(w, http.StatusBadRequest, "tempPath is required")
		return
	}

	d, err := h.svc.ConfirmIngest(r.Context(), req.TempPath, req.TargetDashboardID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	kind := "new"
	status := http.StatusCreated
	if req.TargetDashboardID != "" {
		kind = "refresh"
		status = http.StatusOK
	}
	confirmsTotal.WithLabelValues(kind).Inc()
	writeJSON(w, status, d)
}

// ─────────────────────────────────────────────
// Dashboards
// ─────────────────────────────────────────────

func (h *dashboardsHandler) List(w http.ResponseWriter, _ *http.Request) {
	list, err := h.svc.ListDashboards()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *dashboardsHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.LoadDashboard(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *dashboardsHandler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.ListVersions(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *dashboardsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDashboard(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *dashboardsHandler) Columns(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'table' is required")
		return
	}

	cols, err := h.svc.ListColumns(r.Context(), table)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": cols})
}

// ─────────────────────────────────────────────
// Query and export
// ─────────────────────────────────────────────

type queryRequest struct {
	SQL string `json:"sql"`
}

func (h *dashboardsHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start := time.Now()
	res, err := h.svc.RunQuery(r.Context(), chi.URLParam(r, "id"), req.SQL)
	if err != nil {
		if dashboard.IsRejected(err) {
			queriesTotal.WithLabelValues("rejected").Inc()
		} else {
			queriesTotal.WithLabelValues("failed").Inc()
		}
		writeServiceError(w, err)
		return
	}

	queriesTotal.WithLabelValues("success").Inc()
	queryDuration.Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, res)
}

func (h *dashboardsHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := h.svc.LoadDashboard(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// render into a buffer first: an empty table must surface as 404,
	// which is impossible once the CSV headers are committed
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(r.Context(), id, &buf); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(d.Title)))
	_, _ = w.Write(buf.Bytes())
	exportsTotal.Inc()
}

var exportNamePattern = regexp.MustCompile(`[^a-zA-Z0-9]`)

// exportFilename derives the download name from the dashboard title.
func exportFilename(title string) string {
	name := exportNamePattern.ReplaceAllString(title, "_")
	if name == "" {
		name = "export"
	}
	return name + ".csv"
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Ref   string `json:"ref,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps service errors to HTTP statuses without
// leaking engine internals the caller has no business seeing.
func writeServiceError(w http.ResponseWriter, err error) {
	msg, ref := dashboard.SafeErrorMessage(err)
	writeJSON(w, statusFor(err), errorResponse{Error: msg, Ref: ref})
}

func statusFor(err error) int {
	switch {
	case dashboard.IsRejected(err):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidID),
		errors.Is(err, dashboard.ErrInvalidIdentifier),
		errors.Is(err, dashboard.ErrParse),
		errors.Is(err, ingest.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrEngineTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
