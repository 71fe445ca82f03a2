package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/dispatch"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleTenantRate(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	if tenantID == "" {
		badRequest(w, "tenant id is required")
		return
	}

	writeJSON(w, http.StatusOK, s.limiter.Status(tenantID))
}

type campaignProgressResponse struct {
	RunID         string    `json:"run_id"`
	CampaignID    string    `json:"campaign_id"`
	TenantID      string    `json:"tenant_id"`
	Status        string    `json:"status"`
	LastSentIndex int       `json:"last_sent_index"`
	TotalSent     int       `json:"total_sent"`
	TotalFailed   int       `json:"total_errors"`
	QueueDepth    int       `json:"queue_depth"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Server) handleCampaignProgress(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("campaignID")

	run, err := s.runs.GetByCampaign(r.Context(), campaignID)
	if err != nil {
		if errors.Is(err, dispatch.ErrRunNotFound) {
			notFound(w, "no runs for campaign")
			return
		}
		log.Error().Err(err).Str("campaign_id", campaignID).Msg("Failed to load campaign run")
		internalError(w, "failed to load campaign run")
		return
	}

	writeJSON(w, http.StatusOK, campaignProgressResponse{
		RunID:         run.ID,
		CampaignID:    run.CampaignID,
		TenantID:      run.TenantID,
		Status:        string(run.Status),
		LastSentIndex: run.LastSentIndex,
		TotalSent:     run.TotalSent,
		TotalFailed:   run.TotalFailed,
		QueueDepth:    s.queue.Depth(),
		UpdatedAt:     run.UpdatedAt,
	})
}

type sendMessageResponse struct {
	Queued bool `json:"queued"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var msg dispatch.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		badRequest(w, "invalid message payload")
		return
	}
	if msg.TenantID == "" || msg.To == "" || msg.Body == "" {
		badRequest(w, "tenant_id, to and message are required")
		return
	}

	queued, err := s.queue.Send(r.Context(), msg)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", msg.TenantID).Msg("Ad-hoc send failed")
		writeError(w, http.StatusBadGateway, "SEND_FAILED", "provider rejected the message")
		return
	}

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, sendMessageResponse{Queued: queued})
}
