package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/services/cost_tracker"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// MockUsageService is a mock for UsageService
type MockUsageService struct {
	mock.Mock
}

func (m *MockUsageService) GetUsageStats(ctx context.Context, owner string) *cost_tracker.Stats {
	return m.Called(ctx, owner).Get(0).(*cost_tracker.Stats)
}

func (m *MockUsageService) GetAlerts(ctx context.Context, owner string, limit int) []*cost_limit.Alert {
	return m.Called(ctx, owner, limit).Get(0).([]*cost_limit.Alert)
}

func (m *MockUsageService) AcknowledgeAlert(ctx context.Context, alertID uuid.UUID, actorID string) error {
	return m.Called(ctx, alertID, actorID).Error(0)
}

func (m *MockUsageService) CheckCostLimit(ctx context.Context, actorID, tenantID string, estimatedCost decimal.Decimal) cost_tracker.LimitCheck {
	return m.Called(ctx, actorID, tenantID, estimatedCost).Get(0).(cost_tracker.LimitCheck)
}

func newUsageMux(svc UsageService) *http.ServeMux {
	mux := http.NewServeMux()
	NewUsageHandler(svc, logger.NewNop()).Register(mux)
	return mux
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestUsageHandler_Stats(t *testing.T) {
	svc := &MockUsageService{}
	svc.On("GetUsageStats", mock.Anything, "creator-1").Return(&cost_tracker.Stats{
		OwnerID:     "creator-1",
		GeneratedAt: time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC),
	})

	rec := do(newUsageMux(svc), http.MethodGet, "/v1/usage/creator-1/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body cost_tracker.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "creator-1", body.OwnerID)
	svc.AssertExpectations(t)
}

func TestUsageHandler_Alerts(t *testing.T) {
	alert := &cost_limit.Alert{ID: uuid.New(), OwnerID: "creator-1", AlertType: cost_limit.AlertWarning, ThresholdPct: 80}

	tests := []struct {
		name      string
		query     string
		wantLimit int
		wantCode  int
	}{
		{"default page", "", 0, http.StatusOK},
		{"explicit limit", "?limit=5", 5, http.StatusOK},
		{"bad limit", "?limit=five", 0, http.StatusBadRequest},
		{"negative limit", "?limit=-1", 0, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockUsageService{}
			svc.On("GetAlerts", mock.Anything, "creator-1", tt.wantLimit).Return([]*cost_limit.Alert{alert})

			rec := do(newUsageMux(svc), http.MethodGet, "/v1/usage/creator-1/alerts"+tt.query, "")

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				svc.AssertNotCalled(t, "GetAlerts", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			var body AlertsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Len(t, body.Alerts, 1)
			assert.Equal(t, alert.ID, body.Alerts[0].ID)
		})
	}
}

func TestUsageHandler_Acknowledge(t *testing.T) {
	id := uuid.New()

	t.Run("acknowledged", func(t *testing.T) {
		svc := &MockUsageService{}
		svc.On("AcknowledgeAlert", mock.Anything, id, "user-9").Return(nil).Once()

		rec := do(newUsageMux(svc), http.MethodPost, "/v1/alerts/"+id.String()+"/ack", `{"actor_id":"user-9"}`)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("unknown alert", func(t *testing.T) {
		svc := &MockUsageService{}
		svc.On("AcknowledgeAlert", mock.Anything, id, "user-9").Return(errors.Wrap(errors.ErrNotFound, "cost alert"))

		rec := do(newUsageMux(svc), http.MethodPost, "/v1/alerts/"+id.String()+"/ack", `{"actor_id":"user-9"}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("storage failure hides details", func(t *testing.T) {
		svc := &MockUsageService{}
		svc.On("AcknowledgeAlert", mock.Anything, id, "user-9").Return(errors.New("pq: connection refused"))

		rec := do(newUsageMux(svc), http.MethodPost, "/v1/alerts/"+id.String()+"/ack", `{"actor_id":"user-9"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	})

	for name, tc := range map[string]struct{ path, body string }{
		"bad id":         {"/v1/alerts/not-a-uuid/ack", `{"actor_id":"user-9"}`},
		"missing actor":  {"/v1/alerts/" + id.String() + "/ack", `{}`},
		"unknown fields": {"/v1/alerts/" + id.String() + "/ack", `{"actor_id":"user-9","force":true}`},
		"malformed body": {"/v1/alerts/" + id.String() + "/ack", `{`},
	} {
		t.Run(name, func(t *testing.T) {
			svc := &MockUsageService{}
			rec := do(newUsageMux(svc), http.MethodPost, tc.path, tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			svc.AssertNotCalled(t, "AcknowledgeAlert", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUsageHandler_AcknowledgeRequiresPost(t *testing.T) {
	rec := do(newUsageMux(&MockUsageService{}), http.MethodGet, "/v1/alerts/"+uuid.NewString()+"/ack", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUsageHandler_Check(t *testing.T) {
	svc := &MockUsageService{}
	svc.On("CheckCostLimit", mock.Anything, "user-1", "creator-1", mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.RequireFromString("0.25"))
	})).Return(cost_tracker.LimitCheck{
		Allowed:         false,
		DailyPercentage: decimal.RequireFromString("102"),
		Warnings:        []string{"daily limit exceeded"},
		Verified:        true,
	})

	rec := do(newUsageMux(svc), http.MethodPost, "/v1/usage/check", `{"actor_id":"user-1","tenant_id":"creator-1","estimated_cost":"0.25"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body cost_tracker.LimitCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Allowed)
	assert.True(t, body.Verified)
	assert.Equal(t, []string{"daily limit exceeded"}, body.Warnings)
}
