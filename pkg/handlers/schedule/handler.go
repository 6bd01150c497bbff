package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/de-tools/identity-atlas/pkg/adapters"
	"github.com/de-tools/identity-atlas/pkg/models/api"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/schedule"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	controller schedule.Controller
}

func NewHandler(controller schedule.Controller) *Handler {
	return &Handler{controller: controller}
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "request", fmt.Errorf("invalid request body: %w", err))
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "request", fmt.Errorf("invalid interval: %w", err))
		return
	}

	sched, err := h.controller.Start(r.Context(), req.Profile, req.Platform, interval)
	switch {
	case domain.IsConfiguration(err):
		writeError(w, r, http.StatusUnprocessableEntity, "configuration", err)
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "storage", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, adapters.MapScheduleStoreToApi(*sched))
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.controller.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage", err)
		return
	}

	response := make([]api.Schedule, 0, len(schedules))
	for _, s := range schedules {
		response = append(response, adapters.MapScheduleStoreToApi(*s))
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	err := h.controller.Cancel(r.Context(), chi.URLParam(r, "profile"))
	switch {
	case errors.Is(err, schedule.ErrNotScheduled):
		writeError(w, r, http.StatusNotFound, "not_found", err)
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "storage", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind string, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("schedule request failed")
	writeJSON(w, r, status, api.Error{Error: err.Error(), Kind: kind})
}
