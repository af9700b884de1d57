package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesDomainMetrics(t *testing.T) {
	ObserveEvaluation("evolved")
	ObserveTransition("up")
	ObserveOracleRead("eth-usd", 15*time.Millisecond, errors.New("boom"))
	ObserveHTTPRequest("evaluate", "POST", 200, 3*time.Millisecond)
	ObserveSweep(4)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`evolve_evaluations_total{outcome="evolved"}`,
		`evolve_transitions_total{direction="up"}`,
		`evolve_oracle_failures_total{feed="eth-usd"}`,
		`evolve_http_requests_total{code="200",handler="evaluate",method="POST"}`,
		`evolve_keeper_due_assets 4`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
