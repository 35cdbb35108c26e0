package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rinnai-bridge/internal/bridges/rinnai"
	"github.com/nerrad567/rinnai-bridge/internal/cloud"
	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/identity"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type memHost struct {
	mu      sync.Mutex
	records map[string]device.Record
}

func (h *memHost) LoadRestored(context.Context) ([]device.Record, error) { return nil, nil }

func (h *memHost) Register(_ context.Context, rec device.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[rec.ID] = rec
	return nil
}

func (h *memHost) Update(_ context.Context, rec device.Record) error {
	return h.Register(context.Background(), rec)
}

func (h *memHost) Unregister(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, id)
	return nil
}

type fakeCommands struct {
	registry *device.Registry

	mu            sync.Mutex
	err           error
	temperatures  []float64
	recirculation []bool
	maintenance   []string
}

func (f *fakeCommands) RequestTemperatureChange(_ context.Context, id string, celsius float64) (device.Record, error) {
	f.mu.Lock()
	f.temperatures = append(f.temperatures, celsius)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return device.Record{}, err
	}
	rec, err := f.registry.Mutate(id, func(r *device.Record) { r.TargetTemperature = celsius })
	if err != nil {
		return device.Record{}, fmt.Errorf("%w: %s", rinnai.ErrDeviceNotFound, id)
	}
	return rec, nil
}

func (f *fakeCommands) SetRecirculation(_ context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recirculation = append(f.recirculation, enabled)
	if _, err := f.registry.Get(id); err != nil {
		return fmt.Errorf("%w: %s", rinnai.ErrDeviceNotFound, id)
	}
	return f.err
}

func (f *fakeCommands) RefreshMaintenance(id string) <-chan error {
	f.mu.Lock()
	f.maintenance = append(f.maintenance, id)
	f.mu.Unlock()
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

type fakePoller struct {
	mu      sync.Mutex
	calls   int
	err     error
	last    time.Time
	lastErr error
}

func (p *fakePoller) Poll() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	ch := make(chan error, 1)
	ch <- p.err
	return ch
}

func (p *fakePoller) LastPoll() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastErr
}

// ─── Helpers ───────────────────────────────────────────────────────

func testPref() units.Preference {
	return units.Preference{Unit: units.Fahrenheit, Minimum: 100, Maximum: 140, RecirculationDuration: 5}
}

func heater(id, name string, temperature float64, running bool) device.Attributes {
	return device.Attributes{
		ID:         id,
		ThingName:  "thing-" + id,
		DSN:        "dsn-" + id,
		DeviceName: name,
		Model:      "RUR199iN",
		Info: &device.Info{
			DomesticTemperature:  device.Reading(temperature),
			OutletTemperature:    device.Reading(temperature - 5),
			DomesticCombustion:   device.Flag(running),
			RecirculationCapable: true,
		},
		Shadow: &device.Shadow{},
	}
}

func idOf(t *testing.T, a device.Attributes) string {
	t.Helper()
	id, err := identity.Resolve(a.IdentityFields(), identity.Current())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return id
}

type testRig struct {
	srv      *Server
	registry *device.Registry
	commands *fakeCommands
	poller   *fakePoller
	router   http.Handler
}

// testServer creates a Server over a registry holding the given devices.
func testServer(t *testing.T, devices ...device.Attributes) *testRig {
	t.Helper()

	registry := device.NewRegistry(&memHost{records: make(map[string]device.Record)}, testPref())
	if len(devices) > 0 {
		if _, err := registry.Reconcile(context.Background(), devices); err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	commands := &fakeCommands{registry: registry}
	poller := &fakePoller{}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:         config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:     log,
		Registry:   registry,
		Commands:   commands,
		Poller:     poller,
		Preference: testPref(),
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testRig{srv: srv, registry: registry, commands: commands, poller: poller, router: srv.buildRouter()}
}

func (rig *testRig) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.Default()
	registry := device.NewRegistry(&memHost{records: make(map[string]device.Record)}, testPref())

	cases := map[string]Deps{
		"logger":   {Registry: registry, Commands: &fakeCommands{}, Poller: &fakePoller{}},
		"registry": {Logger: log, Commands: &fakeCommands{}, Poller: &fakePoller{}},
		"commands": {Logger: log, Registry: registry, Poller: &fakePoller{}},
		"poller":   {Logger: log, Registry: registry, Commands: &fakeCommands{}},
	}
	for name, deps := range cases {
		if _, err := New(deps); err == nil {
			t.Errorf("New without %s: expected error", name)
		}
	}
}

// ─── Health & Stats ────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	rig := testServer(t, heater("a", "Garage", 120, false))

	w := rig.do(http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", resp["devices"])
	}
	if _, ok := resp["last_poll"]; ok {
		t.Error("last_poll should be omitted before the first poll")
	}
}

func TestHealth_DegradedAfterFailedPoll(t *testing.T) {
	rig := testServer(t)
	rig.poller.last = time.Now()
	rig.poller.lastErr = errors.New("listing devices: boom")

	resp := decodeBody(t, rig.do(http.MethodGet, "/api/v1/health", ""))
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	if resp["last_poll_error"] != "listing devices: boom" {
		t.Errorf("last_poll_error = %v", resp["last_poll_error"])
	}
}

func TestStats(t *testing.T) {
	rig := testServer(t, heater("a", "Garage", 120, true), heater("b", "Attic", 110, false))

	w := rig.do(http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Registry device.Stats `json:"registry"`
		Clients  int          `json:"websocket_clients"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Registry.TotalDevices != 2 {
		t.Errorf("total = %d, want 2", resp.Registry.TotalDevices)
	}
	if resp.Registry.Running != 1 {
		t.Errorf("running = %d, want 1", resp.Registry.Running)
	}
	if resp.Clients != 0 {
		t.Errorf("clients = %d, want 0", resp.Clients)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	rig := testServer(t)

	w := rig.do(http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	rig := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	rig := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	rig := testServer(t)
	rig.srv.cfg.CORS.AllowedOrigins = []string{"http://dashboard.lan"}
	rig.router = rig.srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	rig := testServer(t)
	h := rig.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	rig := testServer(t, heater("a", "Garage", 120, false))
	id := idOf(t, heater("a", "Garage", 120, false))

	body := `{"temperature": 48, "pad": "` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := rig.do(http.MethodPut, "/api/v1/devices/"+id+"/temperature", body)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(rig.commands.temperatures) != 0 {
		t.Error("oversized body should not reach the dispatcher")
	}
}

func TestNotFound(t *testing.T) {
	rig := testServer(t)

	w := rig.do(http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if resp := decodeBody(t, w); resp["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeNotFound)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices_Empty(t *testing.T) {
	rig := testServer(t)

	w := rig.do(http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if resp := decodeBody(t, w); resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestListDevices_SortedAndFiltered(t *testing.T) {
	rig := testServer(t, heater("a", "Garage", 120, true), heater("b", "Attic", 110, false))

	var resp struct {
		Devices []deviceView `json:"devices"`
		Count   int          `json:"count"`
	}

	w := rig.do(http.MethodGet, "/api/v1/devices", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || resp.Devices[0].Name != "Attic" || resp.Devices[1].Name != "Garage" {
		t.Fatalf("devices = %+v, want Attic then Garage", resp.Devices)
	}

	w = rig.do(http.MethodGet, "/api/v1/devices?running=true", "")
	resp.Devices = nil
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Devices[0].Name != "Garage" {
		t.Errorf("running filter = %+v, want only Garage", resp.Devices)
	}

	w = rig.do(http.MethodGet, "/api/v1/devices?running=maybe", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid filter status = %d, want 400", w.Code)
	}
}

func TestGetDevice(t *testing.T) {
	attrs := heater("a", "Garage", 120, true)
	rig := testServer(t, attrs)
	id := idOf(t, attrs)

	w := rig.do(http.MethodGet, "/api/v1/devices/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var got deviceView
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.DeviceID != id {
		t.Errorf("device_id = %q, want %q", got.DeviceID, id)
	}
	if got.State != device.StateActive {
		t.Errorf("state = %q, want active", got.State)
	}
	if got.ThingName != "thing-a" {
		t.Errorf("thing_name = %q", got.ThingName)
	}
	if !got.Running {
		t.Error("running = false, want true")
	}
	if got.DisplayUnit != "F" {
		t.Errorf("display_unit = %q, want F", got.DisplayUnit)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	rig := testServer(t)

	w := rig.do(http.MethodGet, "/api/v1/devices/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSetTemperature(t *testing.T) {
	attrs := heater("a", "Garage", 120, false)
	rig := testServer(t, attrs)
	id := idOf(t, attrs)

	w := rig.do(http.MethodPut, "/api/v1/devices/"+id+"/temperature", `{"temperature": 48.5}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var got deviceView
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TargetTemperature != 48.5 {
		t.Errorf("target = %v, want 48.5", got.TargetTemperature)
	}
	if len(rig.commands.temperatures) != 1 || rig.commands.temperatures[0] != 48.5 {
		t.Errorf("dispatched = %v, want [48.5]", rig.commands.temperatures)
	}
}

func TestSetTemperature_Validation(t *testing.T) {
	attrs := heater("a", "Garage", 120, false)
	rig := testServer(t, attrs)
	id := idOf(t, attrs)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"temperature":`},
		{"missing field", `{}`},
		{"wrong type", `{"temperature": "hot"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := rig.do(http.MethodPut, "/api/v1/devices/"+id+"/temperature", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if len(rig.commands.temperatures) != 0 {
		t.Errorf("dispatched = %v, want none", rig.commands.temperatures)
	}
}

func TestSetTemperature_ErrorMapping(t *testing.T) {
	attrs := heater("a", "Garage", 120, false)
	id := idOf(t, attrs)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("%w: x", rinnai.ErrDeviceNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"invalid", fmt.Errorf("%w: NaN", units.ErrInvalidArgument), http.StatusBadRequest, ErrCodeValidation},
		{"disabled", rinnai.ErrTemperatureControlDisabled, http.StatusConflict, ErrCodeConflict},
		{"auth", cloud.ErrNotSignedIn, http.StatusBadGateway, ErrCodeCloudAuth},
		{"rejected", fmt.Errorf("%w: 403", cloud.ErrCommandRejected), http.StatusBadGateway, ErrCodeCloudError},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := testServer(t, attrs)
			rig.commands.err = tt.err

			w := rig.do(http.MethodPut, "/api/v1/devices/"+id+"/temperature", `{"temperature": 50}`)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if resp := decodeBody(t, w); resp["code"] != tt.code {
				t.Errorf("code = %v, want %s", resp["code"], tt.code)
			}
		})
	}
}

func TestSetRecirculation(t *testing.T) {
	attrs := heater("a", "Garage", 120, false)
	rig := testServer(t, attrs)
	id := idOf(t, attrs)

	w := rig.do(http.MethodPut, "/api/v1/devices/"+id+"/recirculation", `{"enabled": true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if resp := decodeBody(t, w); resp["enabled"] != true {
		t.Errorf("enabled = %v, want true", resp["enabled"])
	}

	w = rig.do(http.MethodPut, "/api/v1/devices/"+id+"/recirculation", `{"enabled": false}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if got := rig.commands.recirculation; len(got) != 2 || !got[0] || got[1] {
		t.Errorf("dispatched = %v, want [true false]", got)
	}

	w = rig.do(http.MethodPut, "/api/v1/devices/"+id+"/recirculation", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d, want 400", w.Code)
	}
}

func TestSetRecirculation_Unsupported(t *testing.T) {
	attrs := heater("a", "Garage", 120, false)
	rig := testServer(t, attrs)
	rig.commands.err = rinnai.ErrRecirculationUnsupported

	w := rig.do(http.MethodPut, "/api/v1/devices/"+idOf(t, attrs)+"/recirculation", `{"enabled": true}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestRefreshMaintenance(t *testing.T) {
	attrs := heater("a", "Garage", 120, false)
	rig := testServer(t, attrs)
	id := idOf(t, attrs)

	w := rig.do(http.MethodPost, "/api/v1/devices/"+id+"/maintenance", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if got := rig.commands.maintenance; len(got) != 1 || got[0] != id {
		t.Errorf("refreshed = %v, want [%s]", got, id)
	}

	w = rig.do(http.MethodPost, "/api/v1/devices/nope/maintenance", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
	if len(rig.commands.maintenance) != 1 {
		t.Error("unknown device should not be refreshed")
	}
}

// ─── Poll ──────────────────────────────────────────────────────────

func TestPoll(t *testing.T) {
	rig := testServer(t, heater("a", "Garage", 120, false))

	w := rig.do(http.MethodPost, "/api/v1/poll", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if rig.poller.calls != 1 {
		t.Errorf("poll calls = %d, want 1", rig.poller.calls)
	}
	if resp := decodeBody(t, w); resp["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", resp["devices"])
	}
}

func TestPoll_EmptyDeviceSet(t *testing.T) {
	rig := testServer(t)
	rig.poller.err = rinnai.ErrEmptyDeviceSet

	w := rig.do(http.MethodPost, "/api/v1/poll", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if resp := decodeBody(t, w); resp["code"] != ErrCodeEmptyDeviceSet {
		t.Errorf("code = %v", resp["code"])
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestStartAndClose(t *testing.T) {
	rig := testServer(t)

	if err := rig.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start: expected error")
	}
	if err := rig.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.srv.Start(context.Background()); err == nil {
		t.Error("second Start: expected error")
	}
	if err := rig.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	resp, err := http.Get("http://" + rig.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := rig.srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := rig.srv.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func dialWS(t *testing.T, rig *testRig, query string) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(rig.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for rig.srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_StateStream(t *testing.T) {
	attrs := heater("a", "Garage", 120, true)
	rig := testServer(t, attrs)
	conn := dialWS(t, rig, "?channels="+ChannelDeviceState)

	rec, err := rig.registry.Get(idOf(t, attrs))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rig.srv.Hub().DeviceUpdated(rec)

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceState {
		t.Fatalf("message = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", msg.Payload)
	}
	if payload["device_id"] != rec.ID || payload["running"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_SubscribeMessage(t *testing.T) {
	rig := testServer(t)
	conn := dialWS(t, rig, "")

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDeviceRemoved}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readWS(t, conn); ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	rig.srv.Hub().DeviceUpdated(device.Record{ID: "ignored"})
	rig.srv.Hub().DeviceRemoved("gone")

	msg := readWS(t, conn)
	if msg.EventType != ChannelDeviceRemoved {
		t.Fatalf("event_type = %q, want %q", msg.EventType, ChannelDeviceRemoved)
	}
	if payload, _ := msg.Payload.(map[string]any); payload["device_id"] != "gone" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	rig := testServer(t)
	conn := dialWS(t, rig, "")

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p" {
		t.Errorf("reply = %+v, want pong", msg)
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Default(), testPref())

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelDeviceRemoved: {}},
	}
	hub.Register(client)

	hub.DeviceUpdated(device.Record{ID: "a"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCountAndShutdown(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Default(), testPref())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	cancel()
	<-done

	if hub.ClientCount() != 0 {
		t.Errorf("after shutdown count = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed on shutdown")
	}

	// Unregister after shutdown must not double-close.
	hub.Unregister(client)
}
