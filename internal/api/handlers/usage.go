package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/services/cost_tracker"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// UsageService is the part of the cost tracker exposed over HTTP
type UsageService interface {
	GetUsageStats(ctx context.Context, owner string) *cost_tracker.Stats
	GetAlerts(ctx context.Context, owner string, limit int) []*cost_limit.Alert
	AcknowledgeAlert(ctx context.Context, alertID uuid.UUID, actorID string) error
	CheckCostLimit(ctx context.Context, actorID, tenantID string, estimatedCost decimal.Decimal) cost_tracker.LimitCheck
}

var _ UsageService = (*cost_tracker.Service)(nil)

// UsageHandler serves the usage dashboard and limit endpoints
type UsageHandler struct {
	svc UsageService
	log *logger.Logger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(svc UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{svc: svc, log: log.Component("usage_api")}
}

// Register mounts the handler's routes
func (h *UsageHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/usage/{owner}/stats", h.HandleStats)
	mux.HandleFunc("GET /v1/usage/{owner}/alerts", h.HandleAlerts)
	mux.HandleFunc("POST /v1/usage/check", h.HandleCheck)
	mux.HandleFunc("POST /v1/alerts/{id}/ack", h.HandleAcknowledge)
}

// HandleStats returns the dashboard bundle of an owner
func (h *UsageHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	if owner == "" {
		writeError(w, h.log, errors.Wrap(errors.ErrInvalidInput, "owner is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.GetUsageStats(r.Context(), owner))
}

// AlertsResponse lists open alerts of an owner
type AlertsResponse struct {
	OwnerID string              `json:"owner_id"`
	Alerts  []*cost_limit.Alert `json:"alerts"`
}

// HandleAlerts returns unacknowledged alerts, newest first. ?limit=N caps the page.
func (h *UsageHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, h.log, errors.Wrapf(errors.ErrInvalidInput, "bad limit %q", raw))
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, AlertsResponse{
		OwnerID: owner,
		Alerts:  h.svc.GetAlerts(r.Context(), owner, limit),
	})
}

// AcknowledgeRequest is the body of POST /v1/alerts/{id}/ack
type AcknowledgeRequest struct {
	ActorID string `json:"actor_id"`
}

// HandleAcknowledge marks an alert as seen. Repeating the call is a no-op.
func (h *UsageHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, errors.Wrapf(errors.ErrInvalidInput, "bad alert id %q", r.PathValue("id")))
		return
	}

	var req AcknowledgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.ActorID == "" {
		writeError(w, h.log, errors.Wrap(errors.ErrInvalidInput, "actor_id is required"))
		return
	}

	if err := h.svc.AcknowledgeAlert(r.Context(), id, req.ActorID); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckRequest asks whether an operation of the estimated cost may run
type CheckRequest struct {
	ActorID       string          `json:"actor_id"`
	TenantID      string          `json:"tenant_id"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// HandleCheck runs a pre-flight budget check. A denial is a normal 200 reply
// with allowed=false; the caller decides what to do with it.
func (h *UsageHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.CheckCostLimit(r.Context(), req.ActorID, req.TenantID, req.EstimatedCost))
}
