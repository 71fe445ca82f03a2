package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/dispatch"
)

type startRunRequest struct {
	TenantID    string               `json:"tenant_id"`
	TemplateRef string               `json:"template_ref,omitempty"`
	Recipients  []dispatch.Recipient `json:"recipients"`

	// Resume continues the campaign's most recent cancelled run from
	// its checkpoint instead of starting over. The recipient list must
	// be the same one the original run was started with.
	Resume bool `json:"resume,omitempty"`
}

type startRunResponse struct {
	RunID      string `json:"run_id"`
	StartIndex int    `json:"start_index"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("campaignID")

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid run payload")
		return
	}
	if len(req.Recipients) == 0 {
		badRequest(w, "recipients are required")
		return
	}

	var run *dispatch.CampaignRun
	if req.Resume {
		prev, err := s.runs.GetByCampaign(r.Context(), campaignID)
		if err != nil {
			if errors.Is(err, dispatch.ErrRunNotFound) {
				notFound(w, "no run to resume")
				return
			}
			internalError(w, "failed to load campaign run")
			return
		}
		if prev.Status == dispatch.RunStatusRunning {
			writeError(w, http.StatusConflict, "RUN_ACTIVE", "campaign run already in progress")
			return
		}
		run = prev
	} else {
		if req.TenantID == "" {
			badRequest(w, "tenant_id is required")
			return
		}
		run = &dispatch.CampaignRun{
			CampaignID:  campaignID,
			TenantID:    req.TenantID,
			TemplateRef: req.TemplateRef,
		}
		if err := s.runs.Create(r.Context(), run); err != nil {
			log.Error().Err(err).Str("campaign_id", campaignID).Msg("Failed to create campaign run")
			internalError(w, "failed to create campaign run")
			return
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.activeMu.Lock()
	s.active[run.ID] = cancel
	s.activeMu.Unlock()

	if req.Resume {
		if err := s.runs.SetStatus(r.Context(), run.ID, dispatch.RunStatusRunning); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to mark run running")
		}
	}

	go func() {
		defer func() {
			cancel()
			s.activeMu.Lock()
			delete(s.active, run.ID)
			s.activeMu.Unlock()
		}()

		if _, err := s.runner.Run(runCtx, run, req.Recipients); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("Campaign run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:      run.ID,
		StartIndex: run.LastSentIndex,
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")

	s.activeMu.Lock()
	cancel, ok := s.active[runID]
	s.activeMu.Unlock()

	if !ok {
		notFound(w, "no active run with that id")
		return
	}

	// The run observes this before its next send; an in-flight provider
	// call still completes.
	cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
