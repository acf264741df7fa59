package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coursecast/internal/domain/usage"
	"coursecast/internal/services/cost_tracker"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// MockMeter is a mock for Meter
type MockMeter struct {
	mock.Mock
}

func (m *MockMeter) TrackOpenAIEmbedding(ctx context.Context, call cost_tracker.Call, resp *openai.CreateEmbeddingResponse) *usage.Event {
	m.Called(ctx, call, resp)
	return nil
}

func (m *MockMeter) TrackEmbeddingUsage(ctx context.Context, call cost_tracker.Call, model string, tokens int64) *usage.Event {
	m.Called(ctx, call, model, tokens)
	return nil
}

// fakeOpenAI answers /embeddings with one 3-dim vector per input, in reverse order
func fakeOpenAI(t *testing.T, status int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
			return
		}

		var body struct {
			Input json.RawMessage `json:"input"`
			Model string          `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var inputs []string
		if err := json.Unmarshal(body.Input, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(body.Input, &single))
			inputs = []string{single}
		}

		data := make([]map[string]interface{}, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(inputs[i])), float64(i), 0.5},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  body.Model,
			"usage":  map[string]int{"prompt_tokens": 7 * len(inputs), "total_tokens": 7 * len(inputs)},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, srv *httptest.Server, meter Meter) *OpenAIProvider {
	t.Helper()

	opts := []OpenAIOption{
		WithLogger(logger.NewNop()),
		WithRequestOptions(option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0)),
	}
	if meter != nil {
		opts = append(opts, WithMeter(meter))
	}

	p, err := NewOpenAIProvider("test-key", "", time.Second, opts...)
	require.NoError(t, err)
	return p
}

func TestNewOpenAIProvider(t *testing.T) {
	_, err := NewOpenAIProvider("", "", 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	p, err := NewOpenAIProvider("key", openai.EmbeddingModelTextEmbedding3Large, 0, WithLogger(logger.NewNop()))
	require.NoError(t, err)
	assert.Equal(t, 3072, p.Dimensions())
	assert.Equal(t, "text-embedding-3-large", p.Name())

	p, err = NewOpenAIProvider("key", "", 0, WithLogger(logger.NewNop()))
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimensions())
	assert.Equal(t, "text-embedding-3-small", p.Name())
}

func TestOpenAIProvider_GenerateEmbedding(t *testing.T) {
	meter := &MockMeter{}
	call := cost_tracker.Call{ActorID: "user-1", TenantID: "creator-1"}

	meter.On("TrackOpenAIEmbedding", mock.Anything, mock.MatchedBy(func(c cost_tracker.Call) bool {
		return c.TenantID == "creator-1" && c.ActorID == "user-1" && c.Endpoint == "embeddings" && c.Latency > 0
	}), mock.MatchedBy(func(r *openai.CreateEmbeddingResponse) bool {
		return r.Usage.PromptTokens == 7 && r.Model == "text-embedding-3-small"
	})).Once()

	p := newTestProvider(t, fakeOpenAI(t, http.StatusOK), meter)

	vec, err := p.GenerateEmbedding(WithCall(context.Background(), call), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0.5}, vec)
	meter.AssertExpectations(t)
}

func TestOpenAIProvider_GenerateBatchEmbeddings_OrdersByIndex(t *testing.T) {
	p := newTestProvider(t, fakeOpenAI(t, http.StatusOK), nil)

	vecs, err := p.GenerateBatchEmbeddings(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 0, 0.5}, vecs[0])
	assert.Equal(t, []float32{3, 1, 0.5}, vecs[1])
	assert.Equal(t, []float32{2, 2, 0.5}, vecs[2])
}

func TestOpenAIProvider_MetersFailedCalls(t *testing.T) {
	meter := &MockMeter{}
	meter.On("TrackEmbeddingUsage", mock.Anything, mock.MatchedBy(func(c cost_tracker.Call) bool {
		return c.StatusCode == http.StatusBadRequest && c.Err != nil && c.ActorID == "user-1"
	}), "text-embedding-3-small", int64(0)).Once()

	p := newTestProvider(t, fakeOpenAI(t, http.StatusBadRequest), meter)

	ctx := WithCall(context.Background(), cost_tracker.Call{ActorID: "user-1"})
	_, err := p.GenerateEmbedding(ctx, "hello")

	require.Error(t, err)
	meter.AssertExpectations(t)
	meter.AssertNotCalled(t, "TrackOpenAIEmbedding", mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenAIProvider_RejectsEmptyInput(t *testing.T) {
	p := newTestProvider(t, fakeOpenAI(t, http.StatusOK), nil)

	_, err := p.GenerateEmbedding(context.Background(), "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = p.GenerateBatchEmbeddings(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestCallFromContext_Empty(t *testing.T) {
	assert.Equal(t, cost_tracker.Call{}, CallFromContext(context.Background()))
}
