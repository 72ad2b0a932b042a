package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveToolResult(contractx.ToolResult{Tool: "lookup_grade", Success: true, Duration: 20 * time.Millisecond})
	m.ObserveToolResult(contractx.ToolResult{Tool: "lookup_grade", ErrorKind: contractx.ErrorKindTimeout})
	m.ObserveTurn(contractx.TurnComplete, 2)
	m.ObserveModelCall(time.Second, errors.New("503"))
	m.SetSessionsActive(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		`tutor_tool_executions_total{status="success",tool_name="lookup_grade"} 1`,
		`tutor_tool_execution_errors_total{error_type="timeout",tool_name="lookup_grade"} 1`,
		`tutor_turns_total{status="complete"} 1`,
		`tutor_model_calls_total{status="error"} 1`,
		`tutor_sessions_active 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}
}
