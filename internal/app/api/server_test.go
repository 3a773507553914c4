package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DJA-prog/MCU/internal/app/config"
	"github.com/DJA-prog/MCU/internal/app/query"
	"github.com/DJA-prog/MCU/internal/app/recorder"
	"github.com/DJA-prog/MCU/internal/domain"
	"github.com/DJA-prog/MCU/internal/ports"
	"github.com/DJA-prog/MCU/pkg/client"
)

type nopObs struct{}

func (nopObs) LogDebug(string, ...ports.Field)        {}
func (nopObs) LogInfo(string, ...ports.Field)         {}
func (nopObs) LogWarn(string, error, ...ports.Field)  {}
func (nopObs) LogError(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)             {}
func (nopObs) ObserveLatency(string, float64)         {}
func (nopObs) SetGauge(string, float64)               {}

type fakeCtrl struct {
	startErr error
	stopErr  error
	sendErr  error
	starts   int
	stops    int
	sent     []ports.Command
}

func (f *fakeCtrl) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeCtrl) Stop() error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stops++
	return nil
}

func (f *fakeCtrl) Send(cmd ports.Command) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

type fakeQuery struct {
	status     recorder.Status
	latest     *domain.Reading
	recent     []domain.Reading
	rows       []domain.Reading
	rowsErr    error
	stats      query.Statistics
	statsErr   error
	lastFilter query.Filter
}

func (f *fakeQuery) Status() recorder.Status { return f.status }

func (f *fakeQuery) Latest() (domain.Reading, bool) {
	if f.latest == nil {
		return domain.Reading{}, false
	}
	return *f.latest, true
}

func (f *fakeQuery) Recent(limit int) []domain.Reading {
	if limit <= 0 || limit >= len(f.recent) {
		return f.recent
	}
	return f.recent[len(f.recent)-limit:]
}

func (f *fakeQuery) Readings(flt query.Filter) ([]domain.Reading, error) {
	f.lastFilter = flt
	return f.rows, f.rowsErr
}

func (f *fakeQuery) Statistics() (query.Statistics, error) { return f.stats, f.statsErr }

type envResp struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Total   *int            `json:"total"`
}

func newTestHandler(ctrl *fakeCtrl, q *fakeQuery) http.Handler {
	conf := config.Public{Transport: "mqtt", MQTTBroker: "broker.local", MQTTTopic: "sensors/cooler"}
	return NewServer(ctrl, q, conf, nopObs{}, 100, 100).Handler()
}

func doReq(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, rdr))
	return rec
}

func decodeEnv(t *testing.T, rec *httptest.ResponseRecorder) envResp {
	t.Helper()
	var env envResp
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func TestStatusEndpoint(t *testing.T) {
	q := &fakeQuery{status: recorder.Status{State: recorder.StateRecording, IsRecording: true, IsConnected: true, TotalReadings: 7}}
	h := newTestHandler(&fakeCtrl{}, q)

	rec := doReq(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnv(t, rec)
	if env.Status != "success" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	var st recorder.Status
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.IsRecording || st.TotalReadings != 7 {
		t.Fatalf("status not forwarded: %+v", st)
	}
}

func TestStartAndConflict(t *testing.T) {
	ctrl := &fakeCtrl{}
	h := newTestHandler(ctrl, &fakeQuery{})

	rec := doReq(t, h, http.MethodPost, "/api/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if env := decodeEnv(t, rec); env.Message != "Recording started successfully" {
		t.Fatalf("unexpected message %q", env.Message)
	}
	if ctrl.starts != 1 {
		t.Fatalf("expected one start call, got %d", ctrl.starts)
	}

	ctrl.startErr = recorder.ErrAlreadyActive
	rec = doReq(t, h, http.MethodPost, "/api/start", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	env := decodeEnv(t, rec)
	if env.Status != "error" || env.Message != "Recording is already active" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	// Control endpoints are POST only.
	if rec := doReq(t, h, http.MethodGet, "/api/start", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStopWhenNotActive(t *testing.T) {
	h := newTestHandler(&fakeCtrl{stopErr: recorder.ErrNotActive}, &fakeQuery{})

	rec := doReq(t, h, http.MethodPost, "/api/stop", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env := decodeEnv(t, rec); env.Message != "Recording is not active" {
		t.Fatalf("unexpected message %q", env.Message)
	}
}

func TestReadingsFilterParsing(t *testing.T) {
	q := &fakeQuery{}
	h := newTestHandler(&fakeCtrl{}, q)

	rec := doReq(t, h, http.MethodGet, "/api/readings?limit=2&start_time=2025-03-14T00:00:00Z&end_time=2025-03-15", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if q.lastFilter.Limit != 2 {
		t.Fatalf("limit not parsed: %+v", q.lastFilter)
	}
	want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	if !q.lastFilter.Start.Equal(want) {
		t.Fatalf("start_time not parsed: %s", q.lastFilter.Start)
	}
	if !q.lastFilter.End.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end_time not parsed: %s", q.lastFilter.End)
	}

	for _, target := range []string{
		"/api/readings?limit=abc",
		"/api/readings?limit=-1",
		"/api/readings?start_time=yesterday",
		"/api/readings?end_time=14-03-2025",
	} {
		if rec := doReq(t, h, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestReadingsEmptyLogIsArray(t *testing.T) {
	h := newTestHandler(&fakeCtrl{}, &fakeQuery{})

	rec := doReq(t, h, http.MethodGet, "/api/readings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnv(t, rec)
	if string(env.Data) != "[]" {
		t.Fatalf("expected empty array, got %s", env.Data)
	}
	if env.Total == nil || *env.Total != 0 {
		t.Fatalf("expected total 0, got %v", env.Total)
	}
}

func TestLatestWhenAbsent(t *testing.T) {
	h := newTestHandler(&fakeCtrl{}, &fakeQuery{})

	rec := doReq(t, h, http.MethodGet, "/api/readings/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnv(t, rec)
	if env.Status != "success" || env.Message != "No readings available" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestActuatorEndpoint(t *testing.T) {
	ctrl := &fakeCtrl{}
	h := newTestHandler(ctrl, &fakeQuery{})

	rec := doReq(t, h, http.MethodPost, "/api/actuator/on", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(ctrl.sent) != 1 || ctrl.sent[0] != "SET-ACTUATOR=ON" {
		t.Fatalf("unexpected commands %v", ctrl.sent)
	}

	if rec := doReq(t, h, http.MethodPost, "/api/actuator/blast", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/actuator/on", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	ctrl.sendErr = recorder.ErrNotConnected
	rec = doReq(t, h, http.MethodPost, "/api/actuator/off", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when disconnected, got %d", rec.Code)
	}
	if env := decodeEnv(t, rec); env.Message != "Transport not connected" {
		t.Fatalf("unexpected message %q", env.Message)
	}
}

func TestActuatorRateLimit(t *testing.T) {
	ctrl := &fakeCtrl{}
	s := NewServer(ctrl, &fakeQuery{}, config.Public{}, nopObs{}, 1, 1)
	h := s.Handler()

	if rec := doReq(t, h, http.MethodPost, "/api/actuator/on", ""); rec.Code != http.StatusOK {
		t.Fatalf("first command: expected 200, got %d", rec.Code)
	}
	rec := doReq(t, h, http.MethodPost, "/api/actuator/off", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if len(ctrl.sent) != 1 {
		t.Fatalf("throttled command still sent: %v", ctrl.sent)
	}
}

func TestThresholdsEndpoint(t *testing.T) {
	ctrl := &fakeCtrl{}
	h := newTestHandler(ctrl, &fakeQuery{})

	rec := doReq(t, h, http.MethodPost, "/api/thresholds", `{"start":4.5,"stop":3.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(ctrl.sent) != 2 ||
		ctrl.sent[0] != "SET-THRESHOLD-START=4.5" ||
		ctrl.sent[1] != "SET-THRESHOLD-STOP=3.5" {
		t.Fatalf("unexpected commands %v", ctrl.sent)
	}

	if rec := doReq(t, h, http.MethodPost, "/api/thresholds", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/api/thresholds", `{"start":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken JSON, got %d", rec.Code)
	}
}

func TestConfigEndpoint(t *testing.T) {
	h := newTestHandler(&fakeCtrl{}, &fakeQuery{})

	rec := doReq(t, h, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "broker.local") {
		t.Fatalf("config view missing broker: %s", body)
	}
	if strings.Contains(body, "password") {
		t.Fatalf("config view leaked credentials: %s", body)
	}
}

func TestUnknownPath(t *testing.T) {
	h := newTestHandler(&fakeCtrl{}, &fakeQuery{})

	rec := doReq(t, h, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if env := decodeEnv(t, rec); env.Status != "error" {
		t.Fatalf("404 must still use the envelope, got %+v", env)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newTestHandler(&fakeCtrl{}, &fakeQuery{})

	rec := doReq(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics output missing runtime collectors")
	}
}

func TestTypedClientRoundTrip(t *testing.T) {
	temp := 21.5
	last := domain.Reading{
		ReceivedAt:  time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Device:      "dev1",
		Temperature: &temp,
	}
	q := &fakeQuery{
		status: recorder.Status{State: recorder.StateRecording, IsRecording: true, IsConnected: true, Transport: "mqtt", TotalReadings: 1, LastReading: &last},
		latest: &last,
		rows:   []domain.Reading{last},
	}
	ctrl := &fakeCtrl{}
	srv := httptest.NewServer(newTestHandler(ctrl, q))
	defer srv.Close()

	api := client.New(srv.URL)
	ctx := context.Background()

	if err := api.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	st, err := api.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != "recording" || st.LastReading == nil || *st.LastReading.Temperature != 21.5 {
		t.Fatalf("status lost fields over the wire: %+v", st)
	}
	rows, err := api.Readings(ctx, client.ReadingsQuery{Limit: 10})
	if err != nil {
		t.Fatalf("readings: %v", err)
	}
	if len(rows) != 1 || !rows[0].ReceivedAt.Equal(last.ReceivedAt) {
		t.Fatalf("readings lost fields over the wire: %+v", rows)
	}
	if err := api.SetActuator(ctx, "on"); err != nil {
		t.Fatalf("actuator: %v", err)
	}
	if len(ctrl.sent) != 1 || ctrl.sent[0] != "SET-ACTUATOR=ON" {
		t.Fatalf("unexpected commands %v", ctrl.sent)
	}
}
