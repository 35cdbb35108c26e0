package rinnai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/rinnai-bridge/internal/cloud"
	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/identity"
	"github.com/nerrad567/rinnai-bridge/internal/throttle"
)

// Engine defaults.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollThrottle = time.Second
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceLister fetches the account's devices. Implemented by
// *cloud.GraphQLClient.
type DeviceLister interface {
	ListDevicesForUser(ctx context.Context, email, accessToken string) ([]device.Attributes, error)
}

// Observer is told about device changes after every poll and command.
type Observer interface {
	DeviceUpdated(rec device.Record)
	DeviceRemoved(id string)
}

// Metrics receives poll and command outcomes. Implemented by
// *metrics.Recorder.
type Metrics interface {
	PollSucceeded(devices int)
	PollFailed(kind string)
	CommandSent(command string)
	CommandFailed(command, kind string)
	DeviceState(id, name string, target, outlet float64, running, recirculation bool)
}

type noopMetrics struct{}

func (noopMetrics) PollSucceeded(int)                                        {}
func (noopMetrics) PollFailed(string)                                        {}
func (noopMetrics) CommandSent(string)                                       {}
func (noopMetrics) CommandFailed(string, string)                             {}
func (noopMetrics) DeviceState(string, string, float64, float64, bool, bool) {}

// EngineOptions holds configuration for creating an engine.
type EngineOptions struct {
	Registry *device.Registry
	Session  cloud.Session
	Lister   DeviceLister

	// Username is the account email the device list is requested for.
	Username string

	// PollThrottle is the global poll window. Default: 1s.
	PollThrottle time.Duration

	// PollInterval is how often Run polls. Default: 30s.
	PollInterval time.Duration

	// Metrics is optional.
	Metrics Metrics

	// Logger is optional.
	Logger Logger
}

// Engine runs poll cycles: fetch the device list, reconcile it into the
// registry and tell observers what changed.
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	registry *device.Registry
	session  cloud.Session
	lister   DeviceLister
	username string
	interval time.Duration

	poll *throttle.Throttle[struct{}]

	observersMu sync.RWMutex
	observers   []Observer
	maintenance func()

	statusMu sync.RWMutex
	lastPoll time.Time
	lastErr  error

	metrics Metrics
	logger  Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewEngine creates an engine. Call Run to start periodic polling.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if opts.Lister == nil {
		return nil, fmt.Errorf("device lister is required")
	}

	window := opts.PollThrottle
	if window <= 0 {
		window = DefaultPollThrottle
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		registry: opts.Registry,
		session:  opts.Session,
		lister:   opts.Lister,
		username: opts.Username,
		interval: interval,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	e.poll = throttle.New(window, e.pollAction)

	return e, nil
}

// AddObserver registers o for device updates.
func (e *Engine) AddObserver(o Observer) {
	e.observersMu.Lock()
	e.observers = append(e.observers, o)
	e.observersMu.Unlock()
}

// SetMaintenance sets the hook Run calls on every tick to request
// maintenance refreshes.
func (e *Engine) SetMaintenance(fn func()) {
	e.observersMu.Lock()
	e.maintenance = fn
	e.observersMu.Unlock()
}

// Poll requests a poll cycle through the global throttle. The channel
// yields the result of the cycle this request was folded into.
func (e *Engine) Poll() <-chan error {
	return e.poll.Call(struct{}{})
}

func (e *Engine) pollAction(struct{}) error {
	err := e.PollCycle(e.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyDeviceSet):
		e.logger.Warn("poll returned no devices, keeping current devices")
	default:
		e.logger.Error("poll cycle failed", "error", err)
	}
	return err
}

// PollCycle fetches the device list once and reconciles it. It bypasses
// the throttle; use Poll from everywhere except tests.
//
// A failed session, query or shape check aborts the cycle before the
// registry is touched. An empty list returns ErrEmptyDeviceSet. Host
// persistence errors are logged; the in-memory state is still updated.
func (e *Engine) PollCycle(ctx context.Context) error {
	n, err := e.pollCycle(ctx)

	e.statusMu.Lock()
	e.lastPoll = time.Now().UTC()
	e.lastErr = err
	e.statusMu.Unlock()

	if err != nil {
		e.metrics.PollFailed(errorKind(err))
		return err
	}
	e.metrics.PollSucceeded(n)
	return nil
}

func (e *Engine) pollCycle(ctx context.Context) (int, error) {
	tokens, err := e.session.CurrentSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting session: %w", err)
	}

	devices, err := e.lister.ListDevicesForUser(ctx, e.username, tokens.AccessToken)
	if err != nil {
		return 0, fmt.Errorf("listing devices: %w", err)
	}
	if len(devices) == 0 {
		return 0, ErrEmptyDeviceSet
	}

	res, err := e.registry.Reconcile(ctx, devices)
	if errors.Is(err, identity.ErrUnknownScheme) {
		return 0, fmt.Errorf("reconciling devices: %w", err)
	}
	if err != nil {
		e.logger.Warn("device persistence failed", "error", err)
	}

	for _, id := range res.Removed {
		e.notifyRemoved(id)
	}
	for _, ids := range [][]string{res.Created, res.Updated} {
		for _, id := range ids {
			rec, err := e.registry.Get(id)
			if err != nil {
				continue
			}
			e.Notify(rec)
		}
	}

	e.logger.Debug("poll cycle complete",
		"devices", len(devices),
		"created", len(res.Created),
		"updated", len(res.Updated),
		"removed", len(res.Removed))
	return len(devices), nil
}

// Notify tells every observer that rec changed.
func (e *Engine) Notify(rec device.Record) {
	e.metrics.DeviceState(rec.ID, rec.Name(),
		rec.TargetTemperature, rec.OutletTemperature, rec.IsRunning, rec.RecirculationEnabled)

	for _, o := range e.snapshotObservers() {
		o.DeviceUpdated(rec)
	}
}

func (e *Engine) notifyRemoved(id string) {
	for _, o := range e.snapshotObservers() {
		o.DeviceRemoved(id)
	}
}

func (e *Engine) snapshotObservers() []Observer {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	return append([]Observer(nil), e.observers...)
}

// LastPoll returns when the last cycle finished and its error.
func (e *Engine) LastPoll() (time.Time, error) {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.lastPoll, e.lastErr
}

// Run polls immediately and then every poll interval until ctx is
// cancelled or Stop is called. Each tick also runs the maintenance hook.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("sync engine started", "interval", e.interval.String())
	e.tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick never waits on the poll; its result is logged by pollAction.
func (e *Engine) tick() {
	e.Poll()

	e.observersMu.RLock()
	fn := e.maintenance
	e.observersMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Stop cancels in-flight cycles and any pending throttled poll.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.poll.Stop()
		e.logger.Info("sync engine stopped")
	})
}
