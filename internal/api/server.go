// Package api serves the HTTP interface: service calls, button presses,
// schedule lookups, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"duneweaver/internal/clock"
	"duneweaver/internal/ha"
	"duneweaver/internal/patterns"
	"duneweaver/internal/schedule"
	"duneweaver/internal/table"
	"duneweaver/pkg/service"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Tables is the view of set-up instances the API needs
type Tables interface {
	Instances() []*table.Instance
	Button(uniqueID string) (*table.Button, bool)
}

// Options carries the server's dependencies
type Options struct {
	Registry *service.Registry
	Tables   Tables
	Schedule patterns.ScheduleSource
	Resolver *schedule.Resolver
	Clock    clock.Clock
	Location *time.Location
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Port     int
}

// Server provides HTTP API endpoints
type Server struct {
	opts   Options
	logger *zap.Logger
	router *mux.Router
	server *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.Named("api"),
		router: mux.NewRouter().StrictSlash(false),
	}

	s.router.HandleFunc("/", s.handleSitemap).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/instances", s.handleInstances).Methods(http.MethodGet)
	apiRouter.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	apiRouter.HandleFunc("/services/{service}", s.handleCallService).Methods(http.MethodPost)
	apiRouter.HandleFunc("/buttons/{unique_id}/press", s.handlePressButton).Methods(http.MethodPost)
	apiRouter.HandleFunc("/schedule/active", s.handleActivePlaylist).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler with panic recovery and compression
func (s *Server) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(handlers.CompressHandler(s.router))
}

// ButtonResponse describes a button
type ButtonResponse struct {
	Name     string `json:"name"`
	UniqueID string `json:"unique_id"`
	Service  string `json:"service"`
	EntityID string `json:"entity_id"`
}

// InstanceResponse describes a set-up table
type InstanceResponse struct {
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	Host    string           `json:"host"`
	Port    int              `json:"port"`
	AutoRun string           `json:"auto_run,omitempty"`
	Buttons []ButtonResponse `json:"buttons"`

	LastAction *table.ActionRecord `json:"last_action,omitempty"`
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	instances := s.opts.Tables.Instances()
	response := make([]InstanceResponse, 0, len(instances))

	for _, inst := range instances {
		d := inst.Device()
		item := InstanceResponse{
			ID:      d.ID,
			Title:   d.Title,
			Host:    d.Host,
			Port:    d.Port,
			AutoRun: d.AutoRun,
		}
		if last, ok := inst.LastAction(); ok {
			item.LastAction = &last
		}
		for _, b := range inst.Buttons() {
			item.Buttons = append(item.Buttons, ButtonResponse{
				Name:     b.Name,
				UniqueID: b.UniqueID,
				Service:  b.Service,
				EntityID: ha.EntityID(b.UniqueID),
			})
		}
		response = append(response, item)
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Registry.List())
}

// CallResponse is returned by a service call
type CallResponse struct {
	Service string            `json:"service"`
	Outcome *patterns.Outcome `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// handleCallService invokes a service and waits for it. An exhausted
// fallback chain is a successful call with stage "none". A client going away
// does not cancel a run already under way.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]

	outcome, err := s.opts.Registry.CallByName(context.WithoutCancel(r.Context()), name)
	switch {
	case errors.Is(err, service.ErrServiceNotFound):
		s.writeJSON(w, http.StatusNotFound, CallResponse{Service: name, Error: err.Error()})
	case err != nil:
		s.logger.Error("Service call failed", zap.String("service", name), zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, CallResponse{Service: name, Outcome: &outcome, Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusOK, CallResponse{Service: name, Outcome: &outcome})
	}
}

func (s *Server) handlePressButton(w http.ResponseWriter, r *http.Request) {
	uniqueID := mux.Vars(r)["unique_id"]

	button, ok := s.opts.Tables.Button(uniqueID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("button %q not found", uniqueID))
		return
	}

	button.Press(r.Context())
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "pressed",
		"unique_id": uniqueID,
		"service":   button.Service,
	})
}

// ActivePlaylistResponse is the schedule lookup result
type ActivePlaylistResponse struct {
	Date     string `json:"date"`
	Playlist string `json:"playlist,omitempty"`
	Active   bool   `json:"active"`
}

func (s *Server) handleActivePlaylist(w http.ResponseWriter, r *http.Request) {
	day := clock.Today(s.opts.Clock.Now(), s.opts.Location)

	if raw := r.URL.Query().Get("date"); raw != "" {
		loc := s.opts.Location
		if loc == nil {
			loc = time.Local
		}
		parsed, err := time.ParseInLocation(dateLayout, raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw))
			return
		}
		day = parsed
	}

	entries, err := s.opts.Schedule.Load()
	if err != nil {
		s.logger.Error("Could not load playlist schedule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	playlist, ok := s.opts.Resolver.ActivePlaylist(entries, day)
	s.writeJSON(w, http.StatusOK, ActivePlaylistResponse{
		Date:     day.Format(dateLayout),
		Playlist: playlist,
		Active:   ok,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"instances": len(s.opts.Tables.Instances()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/instances", Method: "GET", Description: "Configured tables and their buttons"},
	{Path: "/api/services", Method: "GET", Description: "Registered services"},
	{Path: "/api/services/{service}", Method: "POST", Description: "Call a service, e.g. run_fitting_pattern_<id>, and wait for the outcome"},
	{Path: "/api/buttons/{unique_id}/press", Method: "POST", Description: "Press a button without waiting"},
	{Path: "/api/schedule/active", Method: "GET", Description: "Active playlist for ?date=YYYY-MM-DD (default today)"},
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	s.writeSitemap(w, r, http.StatusOK)
}

// handleNotFound answers unknown paths with the sitemap and a 404
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeSitemap(w, r, http.StatusNotFound)
}

func (s *Server) writeSitemap(w http.ResponseWriter, r *http.Request, status int) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if !preferHTML {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "Dune Weaver API\n")
		fmt.Fprintf(w, "===============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-32s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  curl -X POST http://localhost:%d/api/services/run_fitting_pattern_<id>\n", s.opts.Port)
		fmt.Fprintf(w, "  curl 'http://localhost:%d/api/schedule/active?date=2025-12-25'\n\n", s.opts.Port)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Dune Weaver API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Dune Weaver API</h1>
`)
	for _, ep := range endpoints {
		fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
	}
	fmt.Fprintf(w, "</body>\n</html>\n")
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
