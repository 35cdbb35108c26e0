package rinnai

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/rinnai-bridge/internal/cloud"
	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/identity"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu           sync.Mutex
	published    []mockPublish
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	connected    bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MockMQTTClient) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

// PublishedTo returns messages published to topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers payload to the handler subscribed on topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		_ = handler(topic, payload) //nolint:errcheck // test helper
	}
}

// fakeSession hands out fixed tokens.
type fakeSession struct {
	mu  sync.Mutex
	err error
}

func (s *fakeSession) CurrentSession(context.Context) (cloud.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return cloud.Tokens{}, s.err
	}
	return cloud.Tokens{IDToken: "id-token", AccessToken: "access-token"}, nil
}

func (s *fakeSession) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// fakeLister returns a settable device list.
type fakeLister struct {
	mu      sync.Mutex
	devices []device.Attributes
	err     error
	email   string
	token   string
	calls   atomic.Int32
}

func (l *fakeLister) ListDevicesForUser(_ context.Context, email, accessToken string) ([]device.Attributes, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.email, l.token = email, accessToken
	if l.err != nil {
		return nil, l.err
	}
	out := make([]device.Attributes, len(l.devices))
	for i := range l.devices {
		out[i] = l.devices[i].Clone()
	}
	return out, nil
}

func (l *fakeLister) set(devices []device.Attributes, err error) {
	l.mu.Lock()
	l.devices, l.err = devices, err
	l.mu.Unlock()
}

type patchCall struct {
	thing string
	token string
	patch cloud.Patch
}

// fakePatcher records patches.
type fakePatcher struct {
	mu    sync.Mutex
	calls []patchCall
	err   error
}

func (p *fakePatcher) Patch(_ context.Context, thingName, idToken string, patch cloud.Patch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, patchCall{thing: thingName, token: idToken, patch: patch})
	return p.err
}

func (p *fakePatcher) Calls() []patchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]patchCall(nil), p.calls...)
}

// memHost is an in-memory device.Host.
type memHost struct {
	mu      sync.Mutex
	records map[string]device.Record
}

func newMemHost(restored ...device.Record) *memHost {
	h := &memHost{records: make(map[string]device.Record)}
	for _, r := range restored {
		h.records[r.ID] = r
	}
	return h
}

func (h *memHost) LoadRestored(context.Context) ([]device.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]device.Record, 0, len(h.records))
	for _, r := range h.records {
		out = append(out, r)
	}
	return out, nil
}

func (h *memHost) Register(_ context.Context, rec device.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.records[rec.ID]; ok {
		return device.ErrDeviceExists
	}
	h.records[rec.ID] = rec
	return nil
}

func (h *memHost) Update(_ context.Context, rec device.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[rec.ID] = rec
	return nil
}

func (h *memHost) Unregister(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.records[id]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(h.records, id)
	return nil
}

// fakeMetrics counts metric calls.
type fakeMetrics struct {
	mu           sync.Mutex
	pollOK       int
	pollFailures []string
	sent         []string
	failures     []string
	gauges       int
}

func (m *fakeMetrics) PollSucceeded(int) {
	m.mu.Lock()
	m.pollOK++
	m.mu.Unlock()
}

func (m *fakeMetrics) PollFailed(kind string) {
	m.mu.Lock()
	m.pollFailures = append(m.pollFailures, kind)
	m.mu.Unlock()
}

func (m *fakeMetrics) CommandSent(command string) {
	m.mu.Lock()
	m.sent = append(m.sent, command)
	m.mu.Unlock()
}

func (m *fakeMetrics) CommandFailed(command, kind string) {
	m.mu.Lock()
	m.failures = append(m.failures, command+":"+kind)
	m.mu.Unlock()
}

func (m *fakeMetrics) DeviceState(string, string, float64, float64, bool, bool) {
	m.mu.Lock()
	m.gauges++
	m.mu.Unlock()
}

// recordingObserver records observer callbacks.
type recordingObserver struct {
	mu      sync.Mutex
	updated []device.Record
	removed []string
}

func (o *recordingObserver) DeviceUpdated(rec device.Record) {
	o.mu.Lock()
	o.updated = append(o.updated, rec)
	o.mu.Unlock()
}

func (o *recordingObserver) DeviceRemoved(id string) {
	o.mu.Lock()
	o.removed = append(o.removed, id)
	o.mu.Unlock()
}

func (o *recordingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.updated), len(o.removed)
}

// heater returns a device reporting readings in the controller's unit.
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
	require.NoError(t, err)
	return id
}

func fahrenheitPref() units.Preference {
	return units.Preference{Unit: units.Fahrenheit, Minimum: 100, Maximum: 140, RecirculationDuration: 5}
}

func celsiusPref() units.Preference {
	return units.Preference{Unit: units.Celsius, Minimum: 38, Maximum: 60, RecirculationDuration: 15}
}

// rig wires every collaborator of the bridge with fakes.
type rig struct {
	host       *memHost
	registry   *device.Registry
	session    *fakeSession
	lister     *fakeLister
	patcher    *fakePatcher
	metrics    *fakeMetrics
	observer   *recordingObserver
	engine     *Engine
	dispatcher *Dispatcher
}

type rigOptions struct {
	pref          units.Preference
	pollThrottle  time.Duration
	settle        time.Duration
	idleWindow    time.Duration
	runningWindow time.Duration
	restored      []device.Record
}

func newRig(t *testing.T, o rigOptions) *rig {
	t.Helper()

	if o.pollThrottle == 0 {
		o.pollThrottle = 10 * time.Millisecond
	}
	if o.settle == 0 {
		o.settle = 20 * time.Millisecond
	}
	if o.idleWindow == 0 {
		o.idleWindow = time.Hour
	}
	if o.runningWindow == 0 {
		o.runningWindow = time.Hour
	}

	r := &rig{
		host:     newMemHost(o.restored...),
		session:  &fakeSession{},
		lister:   &fakeLister{},
		patcher:  &fakePatcher{},
		metrics:  &fakeMetrics{},
		observer: &recordingObserver{},
	}
	r.registry = device.NewRegistry(r.host, o.pref)
	require.NoError(t, r.registry.Restore(context.Background()))

	var err error
	r.engine, err = NewEngine(EngineOptions{
		Registry:     r.registry,
		Session:      r.session,
		Lister:       r.lister,
		Username:     "owner@example.com",
		PollThrottle: o.pollThrottle,
		PollInterval: time.Hour,
		Metrics:      r.metrics,
	})
	require.NoError(t, err)
	r.engine.AddObserver(r.observer)

	r.dispatcher, err = NewDispatcher(DispatcherOptions{
		Registry:                   r.registry,
		Session:                    r.session,
		Patcher:                    r.patcher,
		Poller:                     r.engine,
		Notifier:                   r.engine,
		Preference:                 o.pref,
		SettleDelay:                o.settle,
		MaintenanceIdleThrottle:    o.idleWindow,
		MaintenanceRunningThrottle: o.runningWindow,
		Metrics:                    r.metrics,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		r.dispatcher.Stop()
		r.engine.Stop()
	})
	return r
}

// pollWith sets the device list and runs one unthrottled cycle.
func (r *rig) pollWith(t *testing.T, devices ...device.Attributes) {
	t.Helper()
	r.lister.set(devices, nil)
	require.NoError(t, r.engine.PollCycle(context.Background()))
}

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(payload, &v))
	return v
}
