package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/DJA-prog/MCU/internal/app/config"
	"github.com/DJA-prog/MCU/internal/app/query"
	"github.com/DJA-prog/MCU/internal/app/recorder"
	"github.com/DJA-prog/MCU/internal/domain"
	"github.com/DJA-prog/MCU/internal/ports"
)

// Controller is the session surface the control endpoints drive.
type Controller interface {
	Start() error
	Stop() error
	Send(cmd ports.Command) error
}

// Query answers the read-only endpoints.
type Query interface {
	Status() recorder.Status
	Latest() (domain.Reading, bool)
	Recent(limit int) []domain.Reading
	Readings(f query.Filter) ([]domain.Reading, error)
	Statistics() (query.Statistics, error)
}

var (
	_ Controller = (*recorder.Session)(nil)
	_ Query      = (*query.Service)(nil)
)

// Server exposes the recorder over HTTP. Every JSON response carries
// the {status, data, message} envelope the front ends expect.
type Server struct {
	ctrl    Controller
	query   Query
	conf    config.Public
	obs     ports.Observability
	limiter *rate.Limiter
	started time.Time

	mu     sync.Mutex
	server *http.Server
}

// NewServer wires the handler set. cmdRate and cmdBurst bound how fast
// device commands leave through the actuator and threshold endpoints.
func NewServer(ctrl Controller, q Query, conf config.Public, obs ports.Observability, cmdRate float64, cmdBurst int) *Server {
	return &Server{
		ctrl:    ctrl,
		query:   q,
		conf:    conf,
		obs:     obs,
		limiter: rate.NewLimiter(rate.Limit(cmdRate), cmdBurst),
		started: time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/readings", s.handleReadings)
	mux.HandleFunc("/api/readings/latest", s.handleLatest)
	mux.HandleFunc("/api/readings/recent", s.handleRecent)
	mux.HandleFunc("/api/statistics", s.handleStatistics)
	mux.HandleFunc("/api/actuator/", s.handleActuator)
	mux.HandleFunc("/api/thresholds", s.handleThresholds)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Serve blocks on the listener until Shutdown or a listener error.
func (s *Server) Serve(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Total   *int   `json:"total,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.obs.LogWarn("api_response_encode_failed", err)
	}
}

func (s *Server) success(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, envelope{Status: "success", Data: data})
}

func (s *Server) successMsg(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusOK, envelope{Status: "success", Message: msg})
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, envelope{Status: "error", Message: msg})
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "API is running",
		Data: map[string]any{
			"time":           time.Now().Format(time.RFC3339),
			"uptime_seconds": int(time.Since(s.started).Seconds()),
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.success(w, s.query.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	switch err := s.ctrl.Start(); {
	case err == nil:
		s.successMsg(w, "Recording started successfully")
	case errors.Is(err, recorder.ErrAlreadyActive):
		s.fail(w, http.StatusBadRequest, "Recording is already active")
	default:
		s.fail(w, http.StatusInternalServerError, "Failed to start recording: "+err.Error())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	switch err := s.ctrl.Stop(); {
	case err == nil:
		s.successMsg(w, "Recording stopped successfully")
	case errors.Is(err, recorder.ErrNotActive):
		s.fail(w, http.StatusBadRequest, "Recording is not active")
	default:
		s.fail(w, http.StatusInternalServerError, "Failed to stop recording: "+err.Error())
	}
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	f, ok := s.parseFilter(w, r)
	if !ok {
		return
	}
	rows, err := s.query.Readings(f)
	if err != nil {
		s.obs.LogError("api_readings_failed", err)
		s.fail(w, http.StatusInternalServerError, "Failed to retrieve data: "+err.Error())
		return
	}
	if rows == nil {
		rows = []domain.Reading{}
	}
	total := len(rows)
	s.writeJSON(w, http.StatusOK, envelope{Status: "success", Data: rows, Total: &total})
}

func (s *Server) parseFilter(w http.ResponseWriter, r *http.Request) (query.Filter, bool) {
	var f query.Filter
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, http.StatusBadRequest, "Invalid limit "+strconv.Quote(v))
			return f, false
		}
		f.Limit = n
	}
	if v := q.Get("start_time"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			s.fail(w, http.StatusBadRequest, "Invalid start_time "+strconv.Quote(v))
			return f, false
		}
		f.Start = t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			s.fail(w, http.StatusBadRequest, "Invalid end_time "+strconv.Quote(v))
			return f, false
		}
		f.End = t
	}
	return f, true
}

func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	reading, ok := s.query.Latest()
	if !ok {
		s.writeJSON(w, http.StatusOK, envelope{Status: "success", Message: "No readings available"})
		return
	}
	s.success(w, reading)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, http.StatusBadRequest, "Invalid limit "+strconv.Quote(v))
			return
		}
		limit = n
	}
	rows := s.query.Recent(limit)
	if rows == nil {
		rows = []domain.Reading{}
	}
	total := len(rows)
	s.writeJSON(w, http.StatusOK, envelope{Status: "success", Data: rows, Total: &total})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := s.query.Statistics()
	if err != nil {
		s.obs.LogError("api_statistics_failed", err)
		s.fail(w, http.StatusInternalServerError, "Failed to calculate statistics: "+err.Error())
		return
	}
	s.success(w, stats)
}

func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	mode := strings.TrimPrefix(r.URL.Path, "/api/actuator/")
	if mode == "" || strings.Contains(mode, "/") {
		s.fail(w, http.StatusNotFound, "Not found")
		return
	}
	cmd, err := ports.ActuatorCommand(mode)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Unknown actuator mode "+strconv.Quote(mode))
		return
	}
	if !s.limiter.Allow() {
		s.fail(w, http.StatusTooManyRequests, "Too many device commands")
		return
	}
	if ok := s.sendCommand(w, cmd); !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "Actuator command sent",
		Data:    map[string]string{"command": string(cmd)},
	})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Start *float64 `json:"start"`
		Stop  *float64 `json:"stop"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Start == nil && req.Stop == nil {
		s.fail(w, http.StatusBadRequest, "No thresholds given")
		return
	}
	var cmds []ports.Command
	if req.Start != nil {
		cmds = append(cmds, ports.ThresholdStartCommand(*req.Start))
	}
	if req.Stop != nil {
		cmds = append(cmds, ports.ThresholdStopCommand(*req.Stop))
	}
	if !s.limiter.Allow() {
		s.fail(w, http.StatusTooManyRequests, "Too many device commands")
		return
	}
	sent := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		if ok := s.sendCommand(w, cmd); !ok {
			return
		}
		sent = append(sent, string(cmd))
	}
	s.writeJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "Thresholds updated",
		Data:    map[string]any{"sent": sent},
	})
}

// sendCommand forwards one device command and writes the failure
// response itself. Callers write the success response.
func (s *Server) sendCommand(w http.ResponseWriter, cmd ports.Command) bool {
	switch err := s.ctrl.Send(cmd); {
	case err == nil:
		return true
	case errors.Is(err, recorder.ErrNotConnected):
		s.fail(w, http.StatusConflict, "Transport not connected")
		return false
	default:
		s.fail(w, http.StatusBadGateway, "Failed to send command: "+err.Error())
		return false
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.success(w, s.conf)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.fail(w, http.StatusNotFound, "Not found")
		return
	}
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.success(w, map[string]any{
		"name": "MCU sensor recorder API",
		"endpoints": map[string]string{
			"GET /api/health":           "Health check",
			"GET /api/status":           "Recorder status",
			"POST /api/start":           "Start recording",
			"POST /api/stop":            "Stop recording",
			"GET /api/readings":         "History (params: limit, start_time, end_time)",
			"GET /api/readings/latest":  "Latest reading",
			"GET /api/readings/recent":  "In-memory recent window (param: limit)",
			"GET /api/statistics":       "Aggregate statistics",
			"POST /api/actuator/{mode}": "Cooler override (on, off, auto)",
			"POST /api/thresholds":      "Set cooler thresholds {start, stop}",
			"GET /api/config":           "Active configuration",
			"GET /metrics":              "Prometheus metrics",
		},
	})
}
