package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orin-labs/uciagent/internal/api"
	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/service"
)

// PipelineService defines the query pipeline surface the handlers expose.
type PipelineService interface {
	SubmitQuery(ctx context.Context, routerAddress, queryText string) (*domain.GeneratedScript, error)
	ConfirmAndRun(ctx context.Context, scriptID string, flags service.ConfirmFlags) (*domain.ExecutionResult, error)
	GetScript(ctx context.Context, scriptID string) (*domain.GeneratedScript, *domain.ExecutionResult, error)
}

type ScriptHandler struct {
	svc PipelineService
}

func NewScriptHandler(svc PipelineService) *ScriptHandler {
	return &ScriptHandler{svc: svc}
}

type SubmitQueryRequest struct {
	RouterAddress string `json:"router_address"`
	Query         string `json:"query"`
}

type RunScriptRequest struct {
	AllowManagementInterface bool `json:"allow_management_interface"`
	AllowFirewallDefaults    bool `json:"allow_firewall_defaults"`
	AllowRemoteAccess        bool `json:"allow_remote_access"`
}

type ScriptResponse struct {
	ID                string   `json:"id"`
	RouterAddress     string   `json:"router_address"`
	Query             string   `json:"query"`
	RetrievedChunkIDs []string `json:"retrieved_chunk_ids"`
	Commands          []string `json:"commands"`
	ValidationStatus  string   `json:"validation_status"`
	RejectionReason   string   `json:"rejection_reason,omitempty"`
	ExecutionStatus   string   `json:"execution_status"`
	CreatedAt         string   `json:"created_at"`
}

type CommandOutcomeResponse struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type ExecutionResultResponse struct {
	ScriptID          string                   `json:"script_id"`
	Status            string                   `json:"status"`
	Outcomes          []CommandOutcomeResponse `json:"outcomes"`
	RollbackPerformed bool                     `json:"rollback_performed"`
}

type ScriptDetailResponse struct {
	Script    *ScriptResponse          `json:"script"`
	Execution *ExecutionResultResponse `json:"execution,omitempty"`
}

func scriptToResponse(s *domain.GeneratedScript) *ScriptResponse {
	return &ScriptResponse{
		ID:                s.ID,
		RouterAddress:     s.RouterAddress,
		Query:             s.QueryText,
		RetrievedChunkIDs: s.RetrievedChunkIDs,
		Commands:          s.Commands,
		ValidationStatus:  string(s.ValidationStatus),
		RejectionReason:   s.RejectionReason,
		ExecutionStatus:   string(s.ExecutionStatus),
		CreatedAt:         s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func executionToResponse(r *domain.ExecutionResult) *ExecutionResultResponse {
	resp := &ExecutionResultResponse{
		ScriptID:          r.ScriptID,
		Status:            string(r.Status),
		RollbackPerformed: r.RollbackPerformed,
	}
	for _, o := range r.Outcomes {
		resp.Outcomes = append(resp.Outcomes, CommandOutcomeResponse{
			Command:  o.Command,
			Stdout:   o.Stdout,
			Stderr:   o.Stderr,
			ExitCode: o.ExitCode,
		})
	}
	return resp
}

// Submit handles POST /scripts
func (h *ScriptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RouterAddress == "" {
		api.Error(w, http.StatusBadRequest, "router_address is required")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	script, err := h.svc.SubmitQuery(r.Context(), req.RouterAddress, req.Query)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, scriptToResponse(script))
}

// Run handles POST /scripts/{id}/run
func (h *ScriptHandler) Run(w http.ResponseWriter, r *http.Request) {
	scriptID := chi.URLParam(r, "id")
	if scriptID == "" {
		api.Error(w, http.StatusBadRequest, "script id is required")
		return
	}

	var req RunScriptRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.svc.ConfirmAndRun(r.Context(), scriptID, service.ConfirmFlags{
		AllowManagementInterface: req.AllowManagementInterface,
		AllowFirewallDefaults:    req.AllowFirewallDefaults,
		AllowRemoteAccess:        req.AllowRemoteAccess,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status != domain.ExecutionOK {
		// The command record is the response body either way; conflict
		// signals that the router did not end up in the requested state.
		status = http.StatusConflict
	}
	api.Success(w, status, executionToResponse(result))
}

// Get handles GET /scripts/{id}
func (h *ScriptHandler) Get(w http.ResponseWriter, r *http.Request) {
	scriptID := chi.URLParam(r, "id")
	if scriptID == "" {
		api.Error(w, http.StatusBadRequest, "script id is required")
		return
	}

	script, execution, err := h.svc.GetScript(r.Context(), scriptID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &ScriptDetailResponse{Script: scriptToResponse(script)}
	if execution != nil {
		resp.Execution = executionToResponse(execution)
	}
	api.Success(w, http.StatusOK, resp)
}
