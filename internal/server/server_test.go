package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-planner/internal/config"
	"github.com/sells-group/opportunity-planner/internal/cost"
	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/internal/monitoring"
	"github.com/sells-group/opportunity-planner/internal/planner"
	"github.com/sells-group/opportunity-planner/internal/reconcile"
	"github.com/sells-group/opportunity-planner/internal/resilience"
	"github.com/sells-group/opportunity-planner/internal/store"
	"github.com/sells-group/opportunity-planner/pkg/anthropic"
	"github.com/sells-group/opportunity-planner/pkg/anthropic/mocks"
)

const planJSON = `{"executive_summary":"Grow consulting.","initiatives":[
  {"id":"i1","title":"Expand consulting","priority":1,"expected_monthly_revenue_lift":15000}],
  "financial_breakdown":{"totalMonthlyRevenueLift":15000}}`

const recordsBody = `{
  "records": [
    {"id":"consulting","name":"Consulting","currentValue":240000,"potentialValue":360000,"additionalValue":120000,"growthPercentage":50},
    {"id":"support","name":"Support","currentValue":120000,"potentialValue":180000,"additionalValue":60000,"growthPercentage":50}
  ],
  "preferences": {"timeHorizonMonths": 6}
}`

type fixture struct {
	handler http.Handler
	planner *planner.Planner
	client  *mocks.MockClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := mocks.NewMockClient(t)
	st := store.NewMemory()
	p := planner.New(client, st, planner.Options{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 1024,
		Timeout:   2 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
		Circuit:    resilience.CircuitBreakerConfig{FailureThreshold: 5},
		Tolerances: reconcile.DefaultTolerances(),
		Rates:      cost.DefaultRates(),
	})
	srv := New(p, monitoring.NewCollector(st, p.Breaker()), config.ServerConfig{}, 0).
		WithBreaker(p.Breaker())
	return &fixture{handler: srv.Handler(), planner: p, client: client}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func planResponse() *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   "claude-sonnet-4-5",
		Content: []anthropic.ContentBlock{{Type: "text", Text: planJSON}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Circuit)
	assert.Equal(t, "closed", resp.Circuit.State)
}

func TestSubmit_SyncMode(t *testing.T) {
	f := newFixture(t)
	f.client.EXPECT().CreateMessage(mock.Anything, mock.Anything).Return(planResponse(), nil).Once()

	w := f.do(t, http.MethodPost, "/plans?mode=sync", recordsBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var job model.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, model.JobStatusComplete, job.Status)
	require.NotNil(t, job.Plan)
	assert.Len(t, job.Plan.Initiatives, 1)
}

func TestSubmit_AsyncThenStatus(t *testing.T) {
	f := newFixture(t)
	f.client.EXPECT().CreateMessage(mock.Anything, mock.Anything).Return(planResponse(), nil).Once()

	w := f.do(t, http.MethodPost, "/plans", recordsBody)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, model.JobStatusPending, sub.Status)
	assert.Equal(t, "/plans/"+sub.ID, w.Header().Get("Location"))

	f.planner.Wait()

	w = f.do(t, http.MethodGet, "/plans/"+sub.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, sub.ID, job.ID)
	assert.Equal(t, model.JobStatusComplete, job.Status)
}

func TestSubmit_EmptyRecords(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/plans", `{"records":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"input"`)
}

func TestSubmit_InvalidBody(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/plans", `{"records":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestSubmit_PrebuiltPayload(t *testing.T) {
	f := newFixture(t)
	f.client.EXPECT().CreateMessage(mock.Anything, mock.Anything).Return(planResponse(), nil).Once()

	pl, err := f.planner.Payload([]model.ServiceOpportunity{
		{ID: "consulting", Name: "Consulting", CurrentValue: 240000, AdditionalValue: 120000},
	}, model.PlanPreferences{})
	require.NoError(t, err)
	body, err := json.Marshal(PlanRequest{Payload: pl})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/plans?mode=sync", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

const inconsistentPayloadBody = `{"payload": {
  "summaryMetrics": {"monthlyRevenueDelta": 999999, "itemCount": 1},
  "topDrivers": [{"rank": 1, "id": "a", "name": "A", "monthlyRevenueImpact": 10, "included": true}]
}}`

func TestInconsistentPayloadIsRejected(t *testing.T) {
	for _, path := range []string{"/payloads", "/plans", "/plans?mode=sync"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture(t)

			w := f.do(t, http.MethodPost, path, inconsistentPayloadBody)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, string(model.JobErrorInput), resp.Kind)
			assert.Contains(t, resp.Error, "monthlyRevenueDelta is 999999")
		})
	}
}

func TestStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/plans/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPayloadPreview(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/payloads", recordsBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pl model.OpportunityPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pl))
	assert.Equal(t, 2, pl.SummaryMetrics.ItemCount)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.client.EXPECT().CreateMessage(mock.Anything, mock.Anything).Return(planResponse(), nil).Once()

	_, err := f.planner.SubmitRecords(context.Background(), []model.ServiceOpportunity{
		{ID: "consulting", Name: "Consulting", CurrentValue: 240000, AdditionalValue: 120000},
	}, model.PlanPreferences{})
	require.NoError(t, err)
	f.planner.Wait()

	w := f.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.JobsTotal)
	assert.Equal(t, 1, snap.JobsComplete)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	r := httptest.NewRequest(http.MethodOptions, "/plans", nil)
	r.Header.Set("Origin", "https://planner.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	assert.True(t, strings.HasPrefix(w.Header().Get("Access-Control-Allow-Origin"), "*"))
}
