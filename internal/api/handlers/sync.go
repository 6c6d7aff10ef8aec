package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/orin-labs/uciagent/internal/api"
)

// SyncService defines the ingestion surface the handlers expose.
type SyncService interface {
	SyncRouter(ctx context.Context, routerAddress string) (int, error)
	SyncPackages(ctx context.Context, routerAddress string, packages []string) error
	IngestFile(ctx context.Context, sourceFile, text string) (int, error)
}

type SyncHandler struct {
	svc SyncService
}

func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

type SyncRequest struct {
	RouterAddress string   `json:"router_address"`
	Packages      []string `json:"packages,omitempty"`
}

type SyncResponse struct {
	RouterAddress string `json:"router_address"`
	Chunks        int    `json:"chunks"`
}

type IngestRequest struct {
	SourceFile string `json:"source_file"`
	Text       string `json:"text"`
}

type IngestResponse struct {
	SourceFile string `json:"source_file"`
	Chunks     int    `json:"chunks"`
}

// Sync handles POST /sync. With a package list it re-syncs just those
// packages; without one it pulls the router's full export.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RouterAddress == "" {
		api.Error(w, http.StatusBadRequest, "router_address is required")
		return
	}

	if len(req.Packages) > 0 {
		if err := h.svc.SyncPackages(r.Context(), req.RouterAddress, req.Packages); err != nil {
			api.HandleError(w, err)
			return
		}
		api.Success(w, http.StatusOK, SyncResponse{RouterAddress: req.RouterAddress})
		return
	}

	count, err := h.svc.SyncRouter(r.Context(), req.RouterAddress)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, SyncResponse{RouterAddress: req.RouterAddress, Chunks: count})
}

// Ingest handles POST /ingest for configuration text pushed directly,
// without pulling from a router.
func (h *SyncHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceFile == "" {
		api.Error(w, http.StatusBadRequest, "source_file is required")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	count, err := h.svc.IngestFile(r.Context(), req.SourceFile, req.Text)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, IngestResponse{SourceFile: req.SourceFile, Chunks: count})
}
