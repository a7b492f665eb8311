package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/authz"
	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/repository"
)

type AutomationHandler struct {
	automations repository.AutomationRepository
	executions  repository.ExecutionRepository
	logger      zerolog.Logger
}

func NewAutomationHandler(automations repository.AutomationRepository, executions repository.ExecutionRepository, logger zerolog.Logger) *AutomationHandler {
	return &AutomationHandler{
		automations: automations,
		executions:  executions,
		logger:      logger,
	}
}

type automationSummary struct {
	models.Automation
	LastExecution *models.ExecutionRecord `json:"last_execution,omitempty"`
}

// List returns the caller's automations with their most recent execution.
func (h *AutomationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	automations, err := h.automations.ListAutomations(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list automations")
		http.Error(w, "failed to list automations", http.StatusInternalServerError)
		return
	}

	summaries := make([]automationSummary, 0, len(automations))
	for _, a := range automations {
		summary := automationSummary{Automation: a}
		last, err := h.executions.GetLast(r.Context(), a.ID)
		switch {
		case err == nil:
			summary.LastExecution = &last
		case engine.IsKind(err, engine.KindNotFound):
			// Never executed.
		default:
			h.logger.Error().Err(err).Str("automation_id", a.ID).Msg("failed to load last execution")
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, summaries)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabled toggles an automation. Disabling stops new detections; in-flight
// executions finish on their own.
func (h *AutomationHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	automationID := mux.Vars(r)["id"]

	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.automations.SetEnabled(r.Context(), userID, automationID, req.Enabled)
	if err != nil {
		if engine.IsKind(err, engine.KindNotFound) {
			http.Error(w, "automation not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("automation_id", automationID).Msg("failed to toggle automation")
		http.Error(w, "failed to update automation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": automationID, "enabled": req.Enabled})
}

// ListExecutions returns the execution history of one automation, newest
// first.
func (h *AutomationHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	automationID := mux.Vars(r)["id"]

	automation, err := h.automations.GetAutomation(r.Context(), automationID)
	if err != nil || automation.UserID != userID {
		http.Error(w, "automation not found", http.StatusNotFound)
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	records, err := h.executions.ListByAutomation(r.Context(), automationID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("automation_id", automationID).Msg("failed to list executions")
		http.Error(w, "failed to list executions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
