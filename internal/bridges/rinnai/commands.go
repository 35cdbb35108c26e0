package rinnai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/rinnai-bridge/internal/cloud"
	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/throttle"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// Dispatcher defaults.
const (
	DefaultSettleDelay                = 5 * time.Second
	DefaultMaintenanceIdleThrottle    = 5 * time.Minute
	DefaultMaintenanceRunningThrottle = time.Minute
)

// Patcher sends a state patch to a device shadow. Implemented by
// *cloud.ShadowClient.
type Patcher interface {
	Patch(ctx context.Context, thingName, idToken string, patch cloud.Patch) error
}

// Poller requests throttled poll cycles. Implemented by *Engine.
type Poller interface {
	Poll() <-chan error
}

// Notifier publishes a changed record to observers. Implemented by *Engine.
type Notifier interface {
	Notify(rec device.Record)
}

// DispatcherOptions holds configuration for creating a dispatcher.
type DispatcherOptions struct {
	Registry *device.Registry
	Session  cloud.Session
	Patcher  Patcher
	Poller   Poller

	// Notifier is optional; it receives optimistic updates.
	Notifier Notifier

	Preference units.Preference

	// SettleDelay is the pause between a setpoint patch and its re-poll.
	SettleDelay time.Duration

	MaintenanceIdleThrottle    time.Duration
	MaintenanceRunningThrottle time.Duration

	Metrics Metrics
	Logger  Logger
}

// Dispatcher turns local commands into cloud state patches.
//
// Thread Safety: All methods are safe for concurrent use.
type Dispatcher struct {
	registry *device.Registry
	session  cloud.Session
	patcher  Patcher
	poller   Poller
	notifier Notifier
	pref     units.Preference
	settle   time.Duration

	// Maintenance refreshes are throttled per device, in two tiers picked
	// by whether the heater is currently firing.
	idle    *throttle.Keyed[string, struct{}]
	running *throttle.Keyed[string, struct{}]

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool

	metrics Metrics
	logger  Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if opts.Patcher == nil {
		return nil, fmt.Errorf("patcher is required")
	}
	if opts.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}

	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	idleWindow := opts.MaintenanceIdleThrottle
	if idleWindow <= 0 {
		idleWindow = DefaultMaintenanceIdleThrottle
	}
	runningWindow := opts.MaintenanceRunningThrottle
	if runningWindow <= 0 {
		runningWindow = DefaultMaintenanceRunningThrottle
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		registry: opts.Registry,
		session:  opts.Session,
		patcher:  opts.Patcher,
		poller:   opts.Poller,
		notifier: opts.Notifier,
		pref:     opts.Preference,
		settle:   settle,
		timers:   make(map[*time.Timer]struct{}),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if d.metrics == nil {
		d.metrics = noopMetrics{}
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	d.idle = throttle.NewKeyed(idleWindow, d.maintenanceAction)
	d.running = throttle.NewKeyed(runningWindow, d.maintenanceAction)

	return d, nil
}

// SetState sends patch to the device's shadow using the current session's
// ID token. Failures are returned, never retried.
func (d *Dispatcher) SetState(ctx context.Context, id string, patch cloud.Patch) error {
	rec, err := d.lookup(id)
	if err != nil {
		return err
	}
	return d.setState(ctx, "set_state", rec, patch)
}

func (d *Dispatcher) setState(ctx context.Context, command string, rec device.Record, patch cloud.Patch) error {
	tokens, err := d.session.CurrentSession(ctx)
	if err != nil {
		d.metrics.CommandFailed(command, errorKind(err))
		return fmt.Errorf("getting session: %w", err)
	}

	if err := d.patcher.Patch(ctx, rec.Attributes.ThingName, tokens.IDToken, patch); err != nil {
		d.metrics.CommandFailed(command, errorKind(err))
		d.logger.Error("setting device state failed", "device_id", rec.ID, "command", command, "error", err)
		return err
	}

	d.metrics.CommandSent(command)
	d.logger.Debug("device state sent", "device_id", rec.ID, "command", command)
	return nil
}

// RequestTemperatureChange quantizes a requested setpoint (°C), sends it
// and schedules a re-poll after the settle delay. The record's target is
// updated optimistically whether or not the patch went through; the next
// successful poll corrects it.
func (d *Dispatcher) RequestTemperatureChange(ctx context.Context, id string, celsius float64) (device.Record, error) {
	if d.pref.RecirculationOnly {
		return device.Record{}, ErrTemperatureControlDisabled
	}

	value, err := units.QuantizeSetpoint(celsius, d.pref)
	if err != nil {
		return device.Record{}, err
	}

	rec, err := d.lookup(id)
	if err != nil {
		return device.Record{}, err
	}

	d.logger.Info("setting target temperature",
		"device_id", id,
		"requested_c", celsius,
		"controller_value", value,
		"unit", string(d.pref.Unit))

	sendErr := d.setState(ctx, CommandSetTemperature, rec, cloud.Patch{
		cloud.KeyPriorityStatus: true,
		cloud.KeyTemperature:    value,
	})
	d.schedulePoll()

	updated, err := d.registry.Mutate(id, func(r *device.Record) {
		r.TargetTemperature = units.SetpointToDisplay(value, d.pref)
	})
	if err != nil {
		return device.Record{}, errors.Join(sendErr, fmt.Errorf("%w: %s", ErrDeviceNotFound, id))
	}
	if d.notifier != nil {
		d.notifier.Notify(updated)
	}

	return updated, sendErr
}

// SetRecirculation turns recirculation on for the configured duration or
// off, then schedules a re-poll.
func (d *Dispatcher) SetRecirculation(ctx context.Context, id string, enabled bool) error {
	rec, err := d.lookup(id)
	if err != nil {
		return err
	}
	if !rec.SupportsRecirculation {
		return ErrRecirculationUnsupported
	}

	duration := "0"
	if enabled {
		duration = strconv.Itoa(d.pref.RecirculationDuration)
	}

	d.logger.Info("setting recirculation", "device_id", id, "enabled", enabled, "duration", duration)

	if err := d.setState(ctx, CommandSetRecirculation, rec, cloud.Patch{
		cloud.KeyPriorityStatus:        true,
		cloud.KeyRecirculationDuration: duration,
		cloud.KeyRecirculationEnabled:  enabled,
	}); err != nil {
		return err
	}

	d.schedulePoll()
	return nil
}

// RequestMaintenanceRefresh asks the device to report maintenance data and
// then waits for a poll cycle. It is not throttled; use RefreshMaintenance.
func (d *Dispatcher) RequestMaintenanceRefresh(ctx context.Context, id string) error {
	rec, err := d.lookup(id)
	if err != nil {
		return err
	}

	if err := d.setState(ctx, CommandRefreshMaintenance, rec, cloud.Patch{
		cloud.KeyMaintenanceRetrieval: true,
	}); err != nil {
		return err
	}

	select {
	case err := <-d.poller.Poll():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshMaintenance requests a maintenance refresh through the device's
// running or idle tier throttle.
func (d *Dispatcher) RefreshMaintenance(id string) <-chan error {
	rec, err := d.lookup(id)
	if err != nil {
		ch := make(chan error, 1)
		ch <- err
		return ch
	}

	if rec.IsRunning {
		return d.running.Call(id, struct{}{})
	}
	return d.idle.Call(id, struct{}{})
}

// RefreshAllMaintenance calls RefreshMaintenance for every active device
// without waiting. Engine.Run calls it on every tick.
func (d *Dispatcher) RefreshAllMaintenance() {
	for _, rec := range d.registry.List() {
		if rec.State != device.StateActive {
			continue
		}
		d.RefreshMaintenance(rec.ID)
	}
}

func (d *Dispatcher) maintenanceAction(id string, _ struct{}) error {
	err := d.RequestMaintenanceRefresh(d.ctx, id)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("maintenance refresh failed", "device_id", id, "error", err)
	}
	return err
}

// Forget drops the device's maintenance throttles.
func (d *Dispatcher) Forget(id string) {
	d.idle.Forget(id)
	d.running.Forget(id)
}

// schedulePoll requests a poll once the settle delay has passed. It is
// fire-and-forget and does nothing after Stop.
func (d *Dispatcher) schedulePoll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		delete(d.timers, t)
		stopped := d.stopped
		d.mu.Unlock()

		if !stopped {
			d.poller.Poll()
		}
	})
	d.timers[t] = struct{}{}
}

// PendingPolls returns the number of settle-delay polls not yet fired.
func (d *Dispatcher) PendingPolls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels pending re-polls and maintenance refreshes.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	for t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
	d.mu.Unlock()

	d.cancel()
	d.idle.Stop()
	d.running.Stop()
}

func (d *Dispatcher) lookup(id string) (device.Record, error) {
	rec, err := d.registry.Get(id)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return device.Record{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return rec, err
}
