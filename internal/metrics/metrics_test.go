package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserveCount(t *testing.T) {
	m := New()

	m.ObserveCount("gpt-4", OutcomeOK, 100, false)
	m.ObserveCount("gpt-4", OutcomeOK, 50, false)
	m.ObserveCount("gpt-4", OutcomeInvalid, 0, false)
	m.ObserveCount("llama", OutcomeOK, 10, true)
	m.ObserveRecordFailure()

	body := scrape(t, m)
	assert.Contains(t, body, `token_count_requests_total{model="gpt-4",outcome="ok"} 2`)
	assert.Contains(t, body, `token_count_requests_total{model="gpt-4",outcome="invalid"} 1`)
	assert.Contains(t, body, `token_input_tokens_total{estimated="false",model="gpt-4"} 150`)
	assert.Contains(t, body, `token_input_tokens_total{estimated="true",model="llama"} 10`)
	assert.Contains(t, body, `token_input_tokens_count{model="gpt-4"} 2`)
	assert.Contains(t, body, "token_usage_record_failures_total 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCount("gpt-4", OutcomeOK, 1, false)
		m.ObserveRecordFailure()
	})
}

func TestHTTPMiddleware(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Post("/v1/tokens/count", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/tokens/count", nil),
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	body := scrape(t, m)
	assert.Contains(t, body, `http_requests_total{method="POST",route="/v1/tokens/count",status="400"} 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",route="/healthz",status="200"} 2`)
	assert.Contains(t, body, "go_goroutines")
}
