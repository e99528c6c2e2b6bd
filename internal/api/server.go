// Package api serves the sensor's state, poller health and metrics over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fpllive/internal/plugins/fplsensor"
	"fpllive/internal/shadowstate"
	"fpllive/internal/state"
	"fpllive/pkg/plugin"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusSource reports poller health
type StatusSource interface {
	Health() fplsensor.Health
}

// Dependencies are the components the server reads from. Nil members
// disable the matching endpoints' content.
type Dependencies struct {
	StateManager *state.Manager
	Entities     []plugin.Entity
	Status       StatusSource
	Shadow       *shadowstate.Tracker
}

// Server provides HTTP API endpoints for the sensor
type Server struct {
	deps   Dependencies
	logger *zap.Logger
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a new API server listening on port
func NewServer(deps Dependencies, logger *zap.Logger, port int) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.Named("api"),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.handleSitemap)
	s.mux.HandleFunc("/api/sensor", s.handleSensor)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/state", s.handleGetState)
	s.mux.HandleFunc("/api/shadow", s.handleShadow)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SensorResponse is one entity as served by /api/sensor
type SensorResponse struct {
	Name       string                 `json:"name"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// StateResponse represents the JSON response for the state endpoint
type StateResponse struct {
	Booleans map[string]bool        `json:"booleans"`
	Numbers  map[string]float64     `json:"numbers"`
	Strings  map[string]string      `json:"strings"`
	JSONs    map[string]interface{} `json:"jsons"`
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	sensors := make([]SensorResponse, 0, len(s.deps.Entities))
	for _, e := range s.deps.Entities {
		sensors = append(sensors, SensorResponse{
			Name:       e.FriendlyName(),
			State:      e.CurrentState(),
			Attributes: e.Attributes(),
		})
	}
	s.writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.deps.Status == nil {
		http.Error(w, "Poller not running", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Status.Health())
}

// handleGetState returns all state variables grouped by type
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.deps.StateManager == nil {
		http.Error(w, "State unavailable", http.StatusServiceUnavailable)
		return
	}

	response := StateResponse{
		Booleans: make(map[string]bool),
		Numbers:  make(map[string]float64),
		Strings:  make(map[string]string),
		JSONs:    make(map[string]interface{}),
	}

	for _, variable := range state.AllVariables {
		var err error
		switch variable.Type {
		case state.TypeBool:
			var v bool
			if v, err = s.deps.StateManager.GetBool(variable.Key); err == nil {
				response.Booleans[variable.Key] = v
			}
		case state.TypeNumber:
			var v float64
			if v, err = s.deps.StateManager.GetNumber(variable.Key); err == nil {
				response.Numbers[variable.Key] = v
			}
		case state.TypeString:
			var v string
			if v, err = s.deps.StateManager.GetString(variable.Key); err == nil {
				response.Strings[variable.Key] = v
			}
		case state.TypeJSON:
			var v interface{}
			if err = s.deps.StateManager.GetJSON(variable.Key, &v); err == nil {
				response.JSONs[variable.Key] = v
			}
		}
		if err != nil {
			s.logger.Error("Failed to read state variable",
				zap.String("key", variable.Key),
				zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleShadow serves every plugin's shadow state, or one with ?plugin=name
func (s *Server) handleShadow(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.deps.Shadow == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}

	if name := r.URL.Query().Get("plugin"); name != "" {
		shadow, ok := s.deps.Shadow.GetPluginState(name)
		if !ok {
			http.Error(w, "Unknown plugin", http.StatusNotFound)
			return
		}
		s.writeJSON(w, http.StatusOK, shadow)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Shadow.GetAllPluginStates())
}

// handleHealth reports "ok", or "degraded" while the provider is unreachable
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	status := "ok"
	if s.deps.Status != nil && s.deps.Status.Health().LastError == "provider_unavailable" {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/api/sensor", Method: "GET", Description: "Sensor entities with state and attributes"},
	{Path: "/api/status", Method: "GET", Description: "Poller health: day, gameweek, last poll, next wake-up, last error"},
	{Path: "/api/state", Method: "GET", Description: "Published helper values (booleans, numbers, strings, jsons)"},
	{Path: "/api/shadow", Method: "GET", Description: "Shadow state of all plugins, ?plugin=name for one"},
	{Path: "/health", Method: "GET", Description: "Health check"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists the endpoints. It answers 404 so automations never
// mistake it for data.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowGet(w, r) {
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")
	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "<!DOCTYPE html>\n<html>\n<head><title>FPL Live API</title></head>\n<body>\n<h1>FPL Live API</h1>\n<ul>\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  <li><code>%s</code> <a href=\"%s\">%s</a> %s</li>\n", ep.Method, ep.Path, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</ul>\n</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "FPL Live API\n============\n\nAvailable endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-14s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
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
