package handlers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"coursecast/internal/adapters/embeddings"
	"coursecast/internal/domain/usage"
	"coursecast/internal/services/cost_tracker"
	"coursecast/internal/services/pricing"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// maxEmbeddingBatch bounds the number of texts in one request
const maxEmbeddingBatch = 256

// LimitChecker runs pre-flight budget checks
type LimitChecker interface {
	CheckCostLimit(ctx context.Context, actorID, tenantID string, estimatedCost decimal.Decimal) cost_tracker.LimitCheck
}

// EmbeddingsHandler embeds texts on behalf of an owner, gated by the owner's budget
type EmbeddingsHandler struct {
	provider  embeddings.Provider
	limits    LimitChecker
	estimator pricing.CostEstimator
	log       *logger.Logger
}

// NewEmbeddingsHandler creates a new embeddings handler
func NewEmbeddingsHandler(provider embeddings.Provider, limits LimitChecker, estimator pricing.CostEstimator, log *logger.Logger) *EmbeddingsHandler {
	return &EmbeddingsHandler{
		provider:  provider,
		limits:    limits,
		estimator: estimator,
		log:       log.Component("embeddings_api"),
	}
}

// Register mounts the handler's routes
func (h *EmbeddingsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/embeddings", h.HandleEmbed)
}

// EmbedRequest is the body of POST /v1/embeddings
type EmbedRequest struct {
	ActorID  string   `json:"actor_id"`
	TenantID string   `json:"tenant_id"`
	Texts    []string `json:"texts"`
}

// EmbedResponse carries vectors index-aligned with the request texts
type EmbedResponse struct {
	Model      string                  `json:"model"`
	Dimensions int                     `json:"dimensions"`
	Embeddings [][]float32             `json:"embeddings"`
	Limit      cost_tracker.LimitCheck `json:"limit"`
}

// DeniedResponse is returned with 402 when the budget check fails
type DeniedResponse struct {
	Error string                  `json:"error"`
	Limit cost_tracker.LimitCheck `json:"limit"`
}

// HandleEmbed estimates the cost from text length, checks the owner's limit and
// embeds. Cached vectors cost nothing; only provider calls are metered.
func (h *EmbeddingsHandler) HandleEmbed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := validateEmbed(req); err != nil {
		writeError(w, h.log, err)
		return
	}

	est := h.estimator.Estimate(usage.ProviderOpenAI, usage.ServiceEmbeddings, h.provider.Name(), pricing.Usage{
		InputUnits: approxTokens(req.Texts),
	})

	check := h.limits.CheckCostLimit(r.Context(), req.ActorID, req.TenantID, est.Cost)
	if !check.Allowed {
		writeJSON(w, http.StatusPaymentRequired, DeniedResponse{Error: check.Err().Error(), Limit: check})
		return
	}

	ctx := embeddings.WithCall(r.Context(), cost_tracker.Call{
		ActorID:    req.ActorID,
		TenantID:   req.TenantID,
		Endpoint:   r.URL.Path,
		HTTPMethod: r.Method,
	})

	vectors, err := h.provider.GenerateBatchEmbeddings(ctx, req.Texts)
	if err != nil {
		writeError(w, h.log, errors.Wrap(err, "generate embeddings"))
		return
	}

	writeJSON(w, http.StatusOK, EmbedResponse{
		Model:      h.provider.Name(),
		Dimensions: h.provider.Dimensions(),
		Embeddings: vectors,
		Limit:      check,
	})
}

func validateEmbed(req EmbedRequest) error {
	if req.ActorID == "" && req.TenantID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "actor_id or tenant_id is required")
	}
	if len(req.Texts) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "texts are required")
	}
	if len(req.Texts) > maxEmbeddingBatch {
		return errors.Wrapf(errors.ErrInvalidInput, "at most %d texts per request", maxEmbeddingBatch)
	}
	for i, t := range req.Texts {
		if t == "" {
			return errors.Wrapf(errors.ErrInvalidInput, "text %d is empty", i)
		}
	}
	return nil
}

// approxTokens estimates tokens at four bytes each, rounding up per text
func approxTokens(texts []string) int64 {
	var n int64
	for _, t := range texts {
		n += int64(len(t)+3) / 4
	}
	return n
}
