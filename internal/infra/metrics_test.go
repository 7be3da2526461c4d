package infra

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_FeedCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordMessage()
	m.RecordMessage()
	m.RecordMessage()
	m.RecordParseError()
	m.RecordReconnect()

	if got := testutil.ToFloat64(m.feedMessages); got != 3 {
		t.Errorf("Expected 3 messages, got %v", got)
	}
	if got := testutil.ToFloat64(m.feedParseErrs); got != 1 {
		t.Errorf("Expected 1 parse error, got %v", got)
	}
	if got := testutil.ToFloat64(m.feedReconnects); got != 1 {
		t.Errorf("Expected 1 reconnect, got %v", got)
	}
}

func TestMetrics_FeedConnected(t *testing.T) {
	m := NewMetrics()

	if got := testutil.ToFloat64(m.feedConnected); got != 0 {
		t.Error("Expected disconnected initially")
	}

	m.SetFeedConnected(true)
	if got := testutil.ToFloat64(m.feedConnected); got != 1 {
		t.Error("Expected connected")
	}

	m.SetFeedConnected(false)
	if got := testutil.ToFloat64(m.feedConnected); got != 0 {
		t.Error("Expected disconnected")
	}
}

func TestMetrics_Orders(t *testing.T) {
	m := NewMetrics()

	m.RecordOrderPlaced("entry", "BUY")
	m.RecordOrderPlaced("entry", "BUY")
	m.RecordOrderPlaced("exit", "SELL")
	m.RecordOrderFilled("entry")
	m.RecordOrderTimeout("entry")

	if got := testutil.ToFloat64(m.ordersPlaced.WithLabelValues("entry", "BUY")); got != 2 {
		t.Errorf("Expected 2 entry buys, got %v", got)
	}
	if got := testutil.ToFloat64(m.ordersPlaced.WithLabelValues("exit", "SELL")); got != 1 {
		t.Errorf("Expected 1 exit sell, got %v", got)
	}
	if got := testutil.ToFloat64(m.ordersFilled.WithLabelValues("entry")); got != 1 {
		t.Errorf("Expected 1 fill, got %v", got)
	}
	if got := testutil.ToFloat64(m.ordersTimedOut.WithLabelValues("entry")); got != 1 {
		t.Errorf("Expected 1 timeout, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// none of these may panic
	m.RecordMessage()
	m.RecordReconnect()
	m.SetFeedConnected(true)
	m.RecordOrderPlaced("entry", "BUY")
	m.RecordExecution("entry", "FILLED", time.Second)
	m.SetPnLPercent("BTC-USD", 1.5)

	if m.Registry() != nil {
		t.Error("Expected nil registry")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordExecution("exit", "CLOSED", 3*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `perp_executions_total{kind="exit",outcome="CLOSED"} 1`) {
		t.Errorf("Expected execution counter in output, got:\n%s", rec.Body.String())
	}
}
