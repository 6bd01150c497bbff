package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/de-tools/identity-atlas/pkg/adapters"
	"github.com/de-tools/identity-atlas/pkg/models/api"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/models/store"
	"github.com/de-tools/identity-atlas/pkg/services/audit"
	"github.com/de-tools/identity-atlas/pkg/services/rules"
	auditstore "github.com/de-tools/identity-atlas/pkg/store/duckdb/audit"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const defaultHistoryLimit = 50

type Auditor interface {
	Run(ctx context.Context, req audit.Request) (domain.AuditReport, error)
	Rules() []rules.Rule
	Platforms() []string
}

type History interface {
	List(ctx context.Context, limit int) ([]store.AuditRun, error)
	Get(ctx context.Context, runID string) (api.AuditReport, error)
}

type Handler struct {
	auditor Auditor
	history History
}

func NewHandler(auditor Auditor, history History) *Handler {
	return &Handler{
		auditor: auditor,
		history: history,
	}
}

func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	req := audit.Request{
		Platform: query.Get("platform"),
		Profile:  query.Get("profile"),
	}
	if retries := query.Get("retries"); retries != "" {
		n, err := strconv.ParseUint(retries, 10, 8)
		if err != nil {
			writeError(ctx, w, http.StatusBadRequest, "request", errors.New("retries must be a small non-negative integer"))
			return
		}
		req.Retries = n
	}

	report, err := h.auditor.Run(ctx, req)
	if errors.Is(err, audit.ErrReportNotWritten) {
		zerolog.Ctx(ctx).Error().Err(err).Str("run_id", report.RunID).Msg("audit completed but report was not persisted")
		err = nil
	}
	if err != nil {
		status, kind := classify(err)
		writeError(ctx, w, status, kind, err)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, adapters.MapAuditReportDomainToApi(report))
}

func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(ctx, w, http.StatusBadRequest, "request", errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := h.history.List(ctx, limit)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, "storage", err)
		return
	}

	response := make([]api.AuditRun, 0, len(runs))
	for _, run := range runs {
		response = append(response, adapters.MapAuditRunStoreToApi(run))
	}
	writeJSON(ctx, w, http.StatusOK, response)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "run")

	report, err := h.history.Get(ctx, runID)
	switch {
	case errors.Is(err, auditstore.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "not_found", err)
		return
	case err != nil:
		writeError(ctx, w, http.StatusInternalServerError, "storage", err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, report)
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	enabled := h.auditor.Rules()
	response := make([]api.Rule, 0, len(enabled))
	for _, rule := range enabled {
		response = append(response, api.Rule{Name: rule.Name, Description: rule.Description})
	}
	writeJSON(r.Context(), w, http.StatusOK, response)
}

func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, h.auditor.Platforms())
}

func classify(err error) (int, string) {
	var collErr *domain.CollectionError
	switch {
	case domain.IsConfiguration(err):
		return http.StatusUnprocessableEntity, "configuration"
	case domain.IsCancelled(err):
		return http.StatusGatewayTimeout, "cancelled"
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable, "collection"
	case errors.As(err, &collErr):
		return http.StatusBadGateway, "collection"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, kind string, err error) {
	zerolog.Ctx(ctx).Error().Err(err).Int("status", status).Str("kind", kind).Msg("request failed")
	writeJSON(ctx, w, status, api.Error{Error: err.Error(), Kind: kind})
}
