package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/yojigen/ai-secretary/internal/approval"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

var yearMonthRegexp = regexp.MustCompile(`^\d{4}-\d{2}$`)

type revisionReader interface {
	Month(ctx context.Context, yearMonth string) ([]approval.Revision, error)
}

type exportArchiver interface {
	StoreTrainingExport(ctx context.Context, yearMonth, format string, data []byte) (string, error)
}

// AdminRevisionsHandler serves the correction-history training data to
// operators: monthly statistics and JSON/CSV exports.
type AdminRevisionsHandler struct {
	revisions revisionReader
	archive   exportArchiver
	logger    *logging.Logger
}

func NewAdminRevisionsHandler(revisions revisionReader, archive exportArchiver, logger *logging.Logger) *AdminRevisionsHandler {
	if revisions == nil {
		panic("handlers: revision store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRevisionsHandler{revisions: revisions, archive: archive, logger: logger}
}

// Stats handles GET /admin/revisions/{yearMonth}/stats.
func (h *AdminRevisionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	yearMonth := chi.URLParam(r, "yearMonth")
	if !yearMonthRegexp.MatchString(yearMonth) {
		http.Error(w, "yearMonth must be YYYY-MM", http.StatusBadRequest)
		return
	}

	revs, err := h.revisions.Month(r.Context(), yearMonth)
	if err != nil {
		h.logger.Error("failed to load revisions", "year_month", yearMonth, "error", err)
		http.Error(w, "failed to load revisions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(approval.Summarize(yearMonth, revs))
}

// Export handles GET /admin/revisions/{yearMonth}/export?format=json|csv.
// With archive=true the export is also written to the training bucket.
func (h *AdminRevisionsHandler) Export(w http.ResponseWriter, r *http.Request) {
	yearMonth := chi.URLParam(r, "yearMonth")
	if !yearMonthRegexp.MatchString(yearMonth) {
		http.Error(w, "yearMonth must be YYYY-MM", http.StatusBadRequest)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	revs, err := h.revisions.Month(r.Context(), yearMonth)
	if err != nil {
		h.logger.Error("failed to load revisions", "year_month", yearMonth, "error", err)
		http.Error(w, "failed to load revisions", http.StatusInternalServerError)
		return
	}

	var data []byte
	var contentType string
	switch format {
	case "json":
		data, err = approval.ExportJSON(revs)
		contentType = "application/json"
	case "csv":
		data, err = approval.ExportCSV(revs)
		contentType = "text/csv"
	default:
		http.Error(w, "format must be json or csv", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("failed to export revisions", "year_month", yearMonth, "format", format, "error", err)
		http.Error(w, "failed to export revisions", http.StatusInternalServerError)
		return
	}

	if h.archive != nil && r.URL.Query().Get("archive") == "true" {
		key, err := h.archive.StoreTrainingExport(r.Context(), yearMonth, format, data)
		if err != nil {
			h.logger.Error("failed to archive export", "year_month", yearMonth, "error", err)
		} else {
			w.Header().Set("X-Archive-Key", key)
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}
