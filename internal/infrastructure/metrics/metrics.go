package metrics

import (
	"errors"
	"fmt"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/config"
)

// ErrDisabled indicates metrics are disabled in configuration.
var ErrDisabled = errors.New("metrics: disabled in configuration")

const sampleRate = 1

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// sink is the subset of statsd.ClientInterface the recorder uses.
type sink interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Incr(name string, tags []string, rate float64) error
	Flush() error
	Close() error
}

// Recorder sends bridge metrics. All methods are safe on a nil receiver.
type Recorder struct {
	client sink
	logger Logger
}

// New connects a DogStatsD client. It returns ErrDisabled when the
// metrics section is disabled.
func New(cfg config.MetricsConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client, err := statsd.New(cfg.Address,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		return nil, fmt.Errorf("creating statsd client for %s: %w", cfg.Address, err)
	}

	return &Recorder{client: client, logger: noopLogger{}}, nil
}

// SetLogger sets the logger used for emit failures.
func (r *Recorder) SetLogger(logger Logger) {
	if r == nil {
		return
	}
	r.logger = logger
}

// PollSucceeded records a completed poll cycle and the device count it saw.
func (r *Recorder) PollSucceeded(devices int) {
	r.incr("poll.success")
	r.gauge("poll.devices", float64(devices))
}

// PollFailed records an aborted poll cycle.
func (r *Recorder) PollFailed(kind string) {
	r.incr("poll.failure", "kind:"+kind)
}

// CommandSent records a state patch accepted by the cloud.
func (r *Recorder) CommandSent(command string) {
	r.incr("command.sent", "command:"+command)
}

// CommandFailed records a state patch that did not go through.
func (r *Recorder) CommandFailed(command, kind string) {
	r.incr("command.failure", "command:"+command, "kind:"+kind)
}

// DeviceState records one device's derived state.
func (r *Recorder) DeviceState(id, name string, target, outlet float64, running, recirculation bool) {
	tags := []string{"device_id:" + id, "name:" + name}
	r.gauge("device.target_temperature", target, tags...)
	r.gauge("device.outlet_temperature", outlet, tags...)
	r.gauge("device.running", boolGauge(running), tags...)
	r.gauge("device.recirculation", boolGauge(recirculation), tags...)
}

// Close flushes and closes the client.
func (r *Recorder) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	if err := r.client.Flush(); err != nil {
		r.logger.Warn("flushing metrics", "error", err)
	}
	return r.client.Close()
}

func (r *Recorder) incr(name string, tags ...string) {
	if r == nil || r.client == nil {
		return
	}
	if err := r.client.Incr(name, tags, sampleRate); err != nil {
		r.logger.Warn("failed to emit counter", "metric", name, "error", err)
	}
}

func (r *Recorder) gauge(name string, value float64, tags ...string) {
	if r == nil || r.client == nil {
		return
	}
	if err := r.client.Gauge(name, value, tags, sampleRate); err != nil {
		r.logger.Warn("failed to emit gauge", "metric", name, "error", err)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
