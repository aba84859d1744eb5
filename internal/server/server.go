package server

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zgpcy/azure-cost-report/internal/collector"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/report"
)

//go:embed templates/index.html
var indexTemplate string

var indexPage = template.Must(template.New("index").Parse(indexTemplate))

// HTTP server timeout constants
const (
	DefaultReadTimeout  = 15 * time.Second // Maximum duration for reading the entire request
	DefaultWriteTimeout = 60 * time.Second // Workbook rendering can take longer than a metrics scrape
	DefaultIdleTimeout  = 60 * time.Second // Maximum amount of time to wait for the next request
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WorkbookWriter renders a report as a downloadable workbook
type WorkbookWriter interface {
	Write(w io.Writer, rep *report.Report) error
	FileName() string
}

// indexPageData holds template data for the index page
type indexPageData struct {
	StatusClass     string
	StatusText      string
	LastRun         string
	RowCount        int
	RefreshInterval int
	Period          string
	Headers         []string
	Rows            []report.Row
	ListingError    string
}

// Server represents the HTTP server
type Server struct {
	server    *http.Server
	collector *collector.ReportCollector
	workbook  WorkbookWriter
	cfg       *config.Config
	logger    *logger.Logger
}

// NewServer creates a new HTTP server. Metrics are served from gatherer.
func NewServer(cfg *config.Config, coll *collector.ReportCollector, workbook WorkbookWriter, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      mux,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		collector: coll,
		workbook:  workbook,
		cfg:       cfg,
		logger:    log,
	}

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/report.xlsx", s.handleWorkbook)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleIndex serves a landing page with the cached report
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexPageData{
		StatusClass:     "not-ready",
		StatusText:      "Not Ready",
		LastRun:         "Never",
		RowCount:        s.collector.RowCount(),
		RefreshInterval: s.cfg.RefreshInterval,
	}
	if s.collector.IsReady() {
		data.StatusClass = "ready"
		data.StatusText = "Ready"
	}
	if lastRun := s.collector.LastRunTime(); !lastRun.IsZero() {
		data.LastRun = lastRun.Format("2006-01-02 15:04:05 MST")
	}
	if rep := s.collector.LastReport(); rep != nil {
		data.Period = fmt.Sprintf("%s to %s", rep.Period.From.Format(time.DateOnly), rep.Period.To.Format(time.DateOnly))
		data.Headers = []string{"Subscription Name", "Subscription ID", rep.Period.YTDHeader(), rep.Period.ForecastHeader()}
		data.Rows = rep.Rows
		if rep.ListingErr != nil {
			data.ListingError = rep.ListingErr.Error()
		}
	}

	var buf bytes.Buffer
	if err := indexPage.Execute(&buf, data); err != nil {
		s.logger.Error("Failed to execute index template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Error("Failed to write index page", "error", err)
	}
}

// handleWorkbook renders the cached report as an .xlsx download
func (s *Server) handleWorkbook(w http.ResponseWriter, r *http.Request) {
	rep := s.collector.LastReport()
	if rep == nil {
		http.Error(w, "report not generated yet", http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := s.workbook.Write(&buf, rep); err != nil {
		s.logger.Error("Failed to render workbook", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.workbook.FileName()))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Error("Failed to write workbook response", "error", err)
	}
}

// handleHealth handles health check requests (always returns 200 for liveness)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
		s.logger.Error("Failed to write health response", "error", err)
	}
}

// handleReady returns 200 only once a run has listed subscriptions
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := s.collector.LastError(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := fmt.Fprintf(w, `{"status":"not ready","error":%q}`, err.Error()); writeErr != nil {
			s.logger.Error("Failed to write ready response", "error", writeErr)
		}
		return
	}

	if !s.collector.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(`{"status":"not ready","message":"waiting for the first report run"}`)); err != nil {
			s.logger.Error("Failed to write ready response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ready"}`)); err != nil {
		s.logger.Error("Failed to write ready response", "error", err)
	}
}
