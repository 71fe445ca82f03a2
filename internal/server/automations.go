package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/automation"
	"github.com/patchwell/courier/internal/recurrence"
)

type createAutomationRequest struct {
	TenantID   string          `json:"tenant_id"`
	Name       string          `json:"name"`
	Recurrence json.RawMessage `json:"recurrence"`
	Message    string          `json:"message"`
	Recipients []string        `json:"recipients"`
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req createAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid automation payload")
		return
	}
	if req.TenantID == "" || req.Name == "" {
		badRequest(w, "tenant_id and name are required")
		return
	}

	a := &automation.Automation{
		TenantID:   req.TenantID,
		Name:       req.Name,
		Recurrence: recurrence.ParseDescriptor(req.Recurrence),
		Message:    req.Message,
		Recipients: req.Recipients,
		Enabled:    true,
	}

	if err := s.automations.Create(r.Context(), a); err != nil {
		log.Error().Err(err).Str("tenant_id", req.TenantID).Msg("Failed to create automation")
		internalError(w, "failed to create automation")
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	var (
		list []*automation.Automation
		err  error
	)

	if tenantID := r.URL.Query().Get("tenant_id"); tenantID != "" {
		list, err = s.automations.ListByTenant(r.Context(), tenantID)
	} else {
		list, err = s.automations.List(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list automations")
		internalError(w, "failed to list automations")
		return
	}

	if list == nil {
		list = []*automation.Automation{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	a, err := s.automations.Get(r.Context(), r.PathValue("automationID"))
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			notFound(w, "automation not found")
			return
		}
		internalError(w, "failed to load automation")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("automationID")

	if _, err := s.automations.Get(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			notFound(w, "automation not found")
			return
		}
		internalError(w, "failed to load automation")
		return
	}

	if err := s.automations.Delete(r.Context(), id); err != nil {
		log.Error().Err(err).Str("automation_id", id).Msg("Failed to delete automation")
		internalError(w, "failed to delete automation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
