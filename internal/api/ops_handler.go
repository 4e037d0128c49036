// Package api exposes the engine's operational HTTP surface: health,
// stream introspection, and per-node conversation memory. It is not an
// ingress for work; jobs arrive through the stream queue.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/api/shared"
	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/memory"
	"github.com/nodpt/workflow-engine/internal/stream"
)

// StreamInfoResponse represents the response data for stream introspection
type StreamInfoResponse struct {
	Stream            string         `json:"stream"`
	Length            int            `json:"length"`
	PendingByConsumer map[string]int `json:"pending_by_consumer,omitempty"`
}

// NodeMemoryResponse represents a node's conversational memory state
type NodeMemoryResponse struct {
	NodeID  string                  `json:"node_id"`
	Summary string                  `json:"summary"`
	History []domain.HistoryMessage `json:"history"`
}

// OpsHandler handles operational HTTP requests
type OpsHandler struct {
	log    stream.Log
	memory *memory.Manager
	logger *slog.Logger
}

// NewOpsHandler creates a new OpsHandler. If logger is nil, the default
// logger is used.
func NewOpsHandler(log stream.Log, mem *memory.Manager, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{
		log:    log,
		memory: mem,
		logger: logger.With("component", "ops_handler"),
	}
}

// Health handles GET /healthz requests
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// StreamInfo handles GET /streams/{key} requests. An optional ?group=
// query adds the group's pending workload per consumer.
func (h *OpsHandler) StreamInfo(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Stream key is required")
		return
	}
	group := r.URL.Query().Get("group")

	info, err := h.log.Info(r.Context(), key, group)
	if err != nil {
		if errors.Is(err, stream.ErrStreamNotFound) || errors.Is(err, stream.ErrGroupNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Stream or group not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to read stream info", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StreamInfoResponse{
		Stream:            key,
		Length:            info.Length,
		PendingByConsumer: info.PendingByConsumer,
	})
}

// NodeMemory handles GET /nodes/{nodeID}/memory requests
func (h *OpsHandler) NodeMemory(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid node ID")
		return
	}

	summary, err := h.memory.LoadSummary(r.Context(), nodeID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load node memory", err)
		return
	}

	history := h.memory.GetHistory(nodeID)
	if history == nil {
		history = []domain.HistoryMessage{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NodeMemoryResponse{
		NodeID:  nodeID.String(),
		Summary: summary,
		History: history,
	})
}

// ClearNodeMemory handles DELETE /nodes/{nodeID}/memory requests. This
// is the conversation reset: history, cached summary, and the persisted
// summary are all removed.
func (h *OpsHandler) ClearNodeMemory(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid node ID")
		return
	}

	if err := h.memory.ClearMemory(r.Context(), nodeID); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to clear node memory", err)
		return
	}

	h.logger.Info("node memory cleared", "node_id", nodeID)
	w.WriteHeader(http.StatusNoContent)
}
