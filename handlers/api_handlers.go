package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"newton/services"
	t "newton/temporal"
)

type generateRequest struct {
	Request string `json:"request"`
}

type generateResponse struct {
	WorkflowID string `json:"workflow_id"`
	StatusURL  string `json:"status_url"`
	EventsURL  string `json:"events_url"`
}

// HandleGenerate starts a workflow from a JSON body and answers 202 with the
// URLs to follow it.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	workflowID, err := h.Workflows.Start(r.Context(), req.Request)
	if errors.Is(err, t.ErrEmptyRequest) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Error starting workflow", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to start generation task")
		return
	}
	writeJSON(w, http.StatusAccepted, generateResponse{
		WorkflowID: workflowID,
		StatusURL:  "/runs/" + workflowID,
		EventsURL:  "/runs/" + workflowID + "/events",
	})
}

// HandleRun returns the persisted run record.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	rec, err := h.Runs.GetRun(r.Context(), workflowID)
	if errors.Is(err, services.ErrRunNotFound) {
		writeJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("Error loading run", "workflow_id", workflowID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleCancel asks Temporal to cancel the run.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	if err := h.Workflows.Cancel(r.Context(), workflowID); err != nil {
		h.logger.Warn("Error cancelling workflow", "workflow_id", workflowID, "error", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": workflowID, "status": "cancelling"})
}
