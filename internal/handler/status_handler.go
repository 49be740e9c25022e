// internal/handler/status_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/zapflow/zapflow-backend/internal/service"
)

// StatusHandler serves the read-only activity projection. It goes through
// the same gate evaluator the scheduler uses, so what it reports and what the
// dispatch loop does never disagree.
type StatusHandler struct {
	Service *service.CampaignService
}

func (h *StatusHandler) GetActivityStatus(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	status, err := h.Service.GetActivityStatus(id)
	if err != nil {
		log.WithField("campaign_id", id).WithError(err).Error("failed to project campaign status")
		http.Error(w, "failed to fetch campaign status: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
