package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coursecast/internal/adapters/embeddings"
	"coursecast/internal/services/cost_tracker"
	"coursecast/internal/services/pricing"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// MockProvider is a mock for embeddings.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockProvider) Dimensions() int { return 2 }

func (m *MockProvider) Name() string { return "text-embedding-3-small" }

// MockLimitChecker is a mock for LimitChecker
type MockLimitChecker struct {
	mock.Mock
}

func (m *MockLimitChecker) CheckCostLimit(ctx context.Context, actorID, tenantID string, estimatedCost decimal.Decimal) cost_tracker.LimitCheck {
	return m.Called(ctx, actorID, tenantID, estimatedCost).Get(0).(cost_tracker.LimitCheck)
}

func newEmbeddingsMux(p embeddings.Provider, limits LimitChecker) *http.ServeMux {
	mux := http.NewServeMux()
	NewEmbeddingsHandler(p, limits, pricing.NewEstimator(pricing.DefaultTable()), logger.NewNop()).Register(mux)
	return mux
}

func TestEmbeddingsHandler_Embeds(t *testing.T) {
	provider := &MockProvider{}
	limits := &MockLimitChecker{}

	limits.On("CheckCostLimit", mock.Anything, "user-1", "creator-1", mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.IsPositive()
	})).Return(cost_tracker.LimitCheck{Allowed: true, Verified: true})

	provider.On("GenerateBatchEmbeddings", mock.MatchedBy(func(ctx context.Context) bool {
		call := embeddings.CallFromContext(ctx)
		return call.TenantID == "creator-1" && call.ActorID == "user-1" &&
			call.Endpoint == "/v1/embeddings" && call.HTTPMethod == http.MethodPost
	}), []string{"intro to rust", "ownership"}).Return([][]float32{{1, 2}, {3, 4}}, nil)

	rec := do(newEmbeddingsMux(provider, limits), http.MethodPost, "/v1/embeddings",
		`{"actor_id":"user-1","tenant_id":"creator-1","texts":["intro to rust","ownership"]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body EmbedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "text-embedding-3-small", body.Model)
	assert.Equal(t, 2, body.Dimensions)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, body.Embeddings)
	assert.True(t, body.Limit.Allowed)

	provider.AssertExpectations(t)
	limits.AssertExpectations(t)
}

func TestEmbeddingsHandler_DeniedByLimit(t *testing.T) {
	provider := &MockProvider{}
	limits := &MockLimitChecker{}
	limits.On("CheckCostLimit", mock.Anything, "user-1", "", mock.Anything).Return(cost_tracker.LimitCheck{
		Allowed:           false,
		DailyPercentage:   decimal.RequireFromString("100.5"),
		MonthlyPercentage: decimal.RequireFromString("20"),
		Verified:          true,
	})

	rec := do(newEmbeddingsMux(provider, limits), http.MethodPost, "/v1/embeddings", `{"actor_id":"user-1","texts":["hi"]}`)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body DeniedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "daily 100.5%")
	provider.AssertNotCalled(t, "GenerateBatchEmbeddings", mock.Anything, mock.Anything)
}

func TestEmbeddingsHandler_ProviderError(t *testing.T) {
	provider := &MockProvider{}
	limits := &MockLimitChecker{}
	limits.On("CheckCostLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(cost_tracker.LimitCheck{Allowed: true})
	provider.On("GenerateBatchEmbeddings", mock.Anything, mock.Anything).Return(nil, errors.Wrap(errors.ErrUnavailable, "openai"))

	rec := do(newEmbeddingsMux(provider, limits), http.MethodPost, "/v1/embeddings", `{"tenant_id":"creator-1","texts":["hi"]}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEmbeddingsHandler_Validation(t *testing.T) {
	tooMany := make([]string, maxEmbeddingBatch+1)
	for i := range tooMany {
		tooMany[i] = "x"
	}
	raw, err := json.Marshal(EmbedRequest{ActorID: "user-1", Texts: tooMany})
	require.NoError(t, err)

	for name, body := range map[string]string{
		"no owner":   `{"texts":["hi"]}`,
		"no texts":   `{"actor_id":"user-1","texts":[]}`,
		"empty text": `{"actor_id":"user-1","texts":["hi",""]}`,
		"too many":   string(raw),
	} {
		t.Run(name, func(t *testing.T) {
			limits := &MockLimitChecker{}
			rec := do(newEmbeddingsMux(&MockProvider{}, limits), http.MethodPost, "/v1/embeddings", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			limits.AssertNotCalled(t, "CheckCostLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, int64(0), approxTokens(nil))
	assert.Equal(t, int64(1), approxTokens([]string{"a"}))
	assert.Equal(t, int64(3), approxTokens([]string{"abcd", strings.Repeat("x", 5)}))
}
