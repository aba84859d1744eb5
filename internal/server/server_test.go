package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"github.com/zgpcy/azure-cost-report/internal/clock"
	"github.com/zgpcy/azure-cost-report/internal/collector"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/provider"
	"github.com/zgpcy/azure-cost-report/internal/report"
	"github.com/zgpcy/azure-cost-report/internal/sink"
)

var testNow = time.Date(2026, time.July, 10, 8, 0, 0, 0, time.UTC)

// testLogger creates a logger for testing (error level to suppress test output)
func testLogger() *logger.Logger {
	return logger.New("error")
}

// mockRunner is a report runner returning a canned report
type mockRunner struct {
	mu     sync.Mutex
	report *report.Report
}

func (m *mockRunner) Run(ctx context.Context) *report.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

func (m *mockRunner) SetReport(r *report.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.report = r
}

// failingWorkbook always fails to render
type failingWorkbook struct{}

func (failingWorkbook) Write(io.Writer, *report.Report) error {
	return errors.New("disk full")
}

func (failingWorkbook) FileName() string {
	return "broken.xlsx"
}

func testReport() *report.Report {
	return &report.Report{
		Period:      report.NewPeriod(testNow, 6),
		GeneratedAt: testNow,
		Rows: []report.Row{
			{
				SubscriptionName: "Production",
				SubscriptionID:   "sub-1",
				YTD:              report.AmountValue(decimal.NewFromInt(600)),
				Forecast:         report.AmountValue(decimal.NewFromInt(1200)),
			},
			{
				SubscriptionName: "Sandbox",
				SubscriptionID:   "sub-2",
				YTD:              report.MarkerValue("HTTP Error 403"),
				Forecast:         report.MarkerValue("HTTP Error 403"),
				Err:              provider.StatusError("sub-2", 403, "denied"),
			},
		},
	}
}

type fixture struct {
	cfg       *config.Config
	runner    *mockRunner
	collector *collector.ReportCollector
	registry  *prometheus.Registry
	server    *Server
}

func newFixture(t *testing.T, rep *report.Report) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.HTTPPort = 8080
	cfg.RefreshInterval = 1800

	runner := &mockRunner{report: rep}
	coll := collector.NewReportCollector(runner, cfg, testLogger()).WithClock(clock.FixedClock{T: testNow})
	registry := prometheus.NewRegistry()
	registry.MustRegister(coll)

	workbook := sink.NewXLSXSink(cfg, testLogger()).WithClock(clock.FixedClock{T: testNow})

	return &fixture{
		cfg:       cfg,
		runner:    runner,
		collector: coll,
		registry:  registry,
		server:    NewServer(cfg, coll, workbook, registry, testLogger()),
	}
}

func (f *fixture) get(path string) *http.Response {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.server.server.Handler.ServeHTTP(w, req)
	return w.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return string(body)
}

// TestNewServer tests server creation
func TestNewServer(t *testing.T) {
	f := newFixture(t, testReport())

	if f.server.server == nil {
		t.Fatal("server.server should not be nil")
	}
	if f.server.collector == nil {
		t.Error("server.collector should not be nil")
	}
	if f.server.server.Addr != ":8080" {
		t.Errorf("server address: got %v, want :8080", f.server.server.Addr)
	}
}

// TestServerTimeouts tests that timeouts are configured
func TestServerTimeouts(t *testing.T) {
	f := newFixture(t, nil)

	if f.server.server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("ReadTimeout: got %v, want %v", f.server.server.ReadTimeout, DefaultReadTimeout)
	}
	if f.server.server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("WriteTimeout: got %v, want %v", f.server.server.WriteTimeout, DefaultWriteTimeout)
	}
	if f.server.server.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout: got %v, want %v", f.server.server.IdleTimeout, DefaultIdleTimeout)
	}
}

// TestHandleHealth tests the health endpoint
func TestHandleHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get("/health")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %v, want application/json", ct)
	}
	if body != `{"status":"healthy"}` {
		t.Errorf("Body: got %v", body)
	}
}

// TestHandleReady_StateTransitions tests readiness before, after and between runs
func TestHandleReady_StateTransitions(t *testing.T) {
	f := newFixture(t, testReport())

	if resp := f.get("/ready"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before first run: got %d, want 503", resp.StatusCode)
	}

	f.collector.Refresh(context.Background())
	resp := f.get("/ready")
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || body != `{"status":"ready"}` {
		t.Errorf("after run: got %d %s", resp.StatusCode, body)
	}

	f.runner.SetReport(&report.Report{ListingErr: errors.New(`az "login" required`)})
	f.collector.Refresh(context.Background())
	resp = f.get("/ready")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("after listing failure: got %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(body, `az \"login\" required`) {
		t.Errorf("error should be JSON-escaped in body, got %s", body)
	}
}

// TestHandleIndex_NotReady tests the index page before the first run
func TestHandleIndex_NotReady(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get("/")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Errorf("Content-Type: got %v, want text/html", ct)
	}

	body := readBody(t, resp)
	for _, required := range []string{
		"Azure Cost Report",
		"Not Ready",
		"Last Run: Never",
		"/metrics",
		"/health",
		"/ready",
		"/report.xlsx",
		"1800 seconds",
	} {
		if !strings.Contains(body, required) {
			t.Errorf("Response body should contain %q", required)
		}
	}
}

// TestHandleIndex_Ready tests the index page renders the cached rows
func TestHandleIndex_Ready(t *testing.T) {
	f := newFixture(t, testReport())
	f.collector.Refresh(context.Background())

	body := readBody(t, f.get("/"))
	for _, required := range []string{
		`class="status ready"`,
		"Last Run: 2026-07-10 08:00:00 UTC",
		"Period: 2026-01-01 to 2026-06-30",
		"Subscriptions: 2",
		"YTD Spend through June/2026",
		"Forecast through December/2026",
		"Production",
		"600.00",
		"1200.00",
		"HTTP Error 403",
	} {
		if !strings.Contains(body, required) {
			t.Errorf("Response body should contain %q", required)
		}
	}
}

// TestHandleWorkbook tests the xlsx download
func TestHandleWorkbook(t *testing.T) {
	f := newFixture(t, testReport())

	if resp := f.get("/report.xlsx"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before first run: got %d, want 503", resp.StatusCode)
	}

	f.collector.Refresh(context.Background())
	resp := f.get("/report.xlsx")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Content-Type: got %v", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="azure_costs_20260710_080000.xlsx"` {
		t.Errorf("Content-Disposition: got %v", cd)
	}

	wb, err := excelize.OpenReader(bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("response is not a workbook: %v", err)
	}
	defer wb.Close()

	got, err := wb.GetCellValue(f.cfg.Output.SheetName, "C3")
	if err != nil {
		t.Fatal(err)
	}
	if got != "HTTP Error 403" {
		t.Errorf("C3 = %q, want HTTP Error 403", got)
	}
}

// TestHandleWorkbook_RenderFailure tests that a sink failure is a 500
func TestHandleWorkbook_RenderFailure(t *testing.T) {
	f := newFixture(t, testReport())
	f.server.workbook = failingWorkbook{}
	f.collector.Refresh(context.Background())

	resp := f.get("/report.xlsx")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Status code: got %d, want 500", resp.StatusCode)
	}
}

// TestMetricsEndpoint tests the /metrics endpoint
func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, testReport())
	f.collector.Refresh(context.Background())

	resp := f.get("/metrics")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type should contain text/plain, got %v", ct)
	}

	for _, expected := range []string{
		"azure_cost_ytd",
		"azure_cost_forecast_year_end",
		`subscription_name="Production"`,
		`status="http_status"`,
		`up{provider="azure"} 0`,
	} {
		if !strings.Contains(body, expected) {
			t.Errorf("Metrics should contain %q", expected)
		}
	}
}

// TestConcurrency_MultipleRequests tests handlers under concurrent refreshes
func TestConcurrency_MultipleRequests(t *testing.T) {
	f := newFixture(t, testReport())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.collector.Refresh(context.Background())
		}()
		go func() {
			defer wg.Done()
			for _, path := range []string{"/", "/ready", "/metrics", "/report.xlsx"} {
				resp := f.get(path)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()
}
