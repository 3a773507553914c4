// Package client is a small typed consumer of the recorder HTTP API,
// for scripts and front ends that would rather not hand-roll requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Reading mirrors one reading as served by the API.
type Reading struct {
	ReceivedAt        time.Time `json:"timestamp_received"`
	DeviceAt          string    `json:"timestamp_device,omitempty"`
	Device            string    `json:"device"`
	Temperature       *float64  `json:"temperature,omitempty"`
	Humidity          *float64  `json:"humidity,omitempty"`
	Pressure          *float64  `json:"pressure,omitempty"`
	Altitude          *float64  `json:"altitude,omitempty"`
	CoolerRunning     *bool     `json:"cooler_running,omitempty"`
	CoolerRuntime     *float64  `json:"cooler_runtime,omitempty"`
	TotalElapsedTime  *float64  `json:"total_elapsed_time,omitempty"`
	CoolerEverStarted *bool     `json:"cooler_ever_started,omitempty"`
	ManualOverride    *bool     `json:"manual_override,omitempty"`
}

// Status mirrors GET /api/status.
type Status struct {
	State         string     `json:"state"`
	IsRecording   bool       `json:"is_recording"`
	IsConnected   bool       `json:"is_connected"`
	Transport     string     `json:"transport"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	TotalReadings uint64     `json:"total_readings"`
	LastReading   *Reading   `json:"last_reading,omitempty"`
}

// FieldStats mirrors one aggregated column of GET /api/statistics.
type FieldStats struct {
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	Count int      `json:"count"`
}

// Statistics mirrors GET /api/statistics.
type Statistics struct {
	TotalReadings    int        `json:"total_readings"`
	FirstReadingTime *time.Time `json:"first_reading_time"`
	LastReadingTime  *time.Time `json:"last_reading_time"`
	Temperature      FieldStats `json:"temperature"`
	Humidity         FieldStats `json:"humidity"`
	Pressure         FieldStats `json:"pressure"`
	Altitude         FieldStats `json:"altitude"`
}

// ReadingsQuery bounds a history request. Zero values are omitted.
type ReadingsQuery struct {
	Limit int
	Start time.Time
	End   time.Time
}

// APIError is a non-success envelope returned by the recorder.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (http %d)", e.Message, e.Code)
}

// Client talks to one recorder instance.
type Client struct {
	base string
	http *http.Client
}

type Option func(*Client)

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New builds a client for baseURL, e.g. "http://localhost:5002".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Total   *int            `json:"total"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (*envelope, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || env.Status != "success" {
		return nil, &APIError{Code: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &env, nil
}

// Health checks that the API answers.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil, nil)
	return err
}

// Status fetches the live recorder status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	_, err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// Start begins a recording session.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/start", nil, nil)
	return err
}

// Stop ends the recording session.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/stop", nil, nil)
	return err
}

// Readings fetches history rows, oldest first.
func (c *Client) Readings(ctx context.Context, q ReadingsQuery) ([]Reading, error) {
	vals := url.Values{}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.Start.IsZero() {
		vals.Set("start_time", q.Start.Format(time.RFC3339Nano))
	}
	if !q.End.IsZero() {
		vals.Set("end_time", q.End.Format(time.RFC3339Nano))
	}
	path := "/api/readings"
	if len(vals) > 0 {
		path += "?" + vals.Encode()
	}
	var rows []Reading
	_, err := c.do(ctx, http.MethodGet, path, nil, &rows)
	return rows, err
}

// Latest fetches the most recent reading, or nil when none exists yet.
func (c *Client) Latest(ctx context.Context) (*Reading, error) {
	var r Reading
	env, err := c.do(ctx, http.MethodGet, "/api/readings/latest", nil, &r)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	return &r, nil
}

// Recent fetches the in-memory window without touching the log.
func (c *Client) Recent(ctx context.Context, limit int) ([]Reading, error) {
	path := "/api/readings/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var rows []Reading
	_, err := c.do(ctx, http.MethodGet, path, nil, &rows)
	return rows, err
}

// Statistics fetches the aggregate view of the whole log.
func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	var st Statistics
	_, err := c.do(ctx, http.MethodGet, "/api/statistics", nil, &st)
	return st, err
}

// SetActuator overrides the cooler: "on", "off" or "auto".
func (c *Client) SetActuator(ctx context.Context, mode string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/actuator/"+url.PathEscape(strings.ToLower(mode)), nil, nil)
	return err
}

// SetThresholds updates the cooler engage and release temperatures.
// Nil leaves that side untouched.
func (c *Client) SetThresholds(ctx context.Context, start, stop *float64) error {
	body := struct {
		Start *float64 `json:"start,omitempty"`
		Stop  *float64 `json:"stop,omitempty"`
	}{Start: start, Stop: stop}
	_, err := c.do(ctx, http.MethodPost, "/api/thresholds", body, nil)
	return err
}

// Config fetches the sanitized active configuration.
func (c *Client) Config(ctx context.Context) (map[string]any, error) {
	var conf map[string]any
	_, err := c.do(ctx, http.MethodGet, "/api/config", nil, &conf)
	return conf, err
}
