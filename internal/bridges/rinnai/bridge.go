package rinnai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// commandTimeout bounds one command including its cloud round trip.
const commandTimeout = 30 * time.Second

// MQTTClient is the interface for MQTT operations. Implemented by
// *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	MQTTClient MQTTClient
	Topics     mqtt.Topics
	QoS        byte

	Registry   *device.Registry
	Engine     *Engine
	Dispatcher *Dispatcher
	Preference units.Preference

	Version        string
	HealthInterval time.Duration

	Logger Logger
}

// Bridge exposes devices on MQTT: retained state per device, a command
// topic per device with acks, and bridge health.
//
// It installs itself as the registry's handler factory and as an engine
// observer.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt       MQTTClient
	topics     mqtt.Topics
	qos        byte
	registry   *device.Registry
	engine     *Engine
	dispatcher *Dispatcher
	pref       units.Preference
	health     *HealthReporter

	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:       opts.MQTTClient,
		topics:     opts.Topics,
		qos:        opts.QoS,
		registry:   opts.Registry,
		engine:     opts.Engine,
		dispatcher: opts.Dispatcher,
		pref:       opts.Preference,
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Topic:       opts.Topics.Health(),
		Version:     opts.Version,
		Interval:    opts.HealthInterval,
		Publisher:   opts.MQTTClient,
		Polls:       opts.Engine,
		DeviceCount: opts.Registry.Count,
	})
	b.health.SetLogger(b.logger)

	opts.Registry.SetHandlerFactory(b.NewHandler)
	opts.Engine.AddObserver(b)

	return b, nil
}

// Start publishes the starting status, the last known state of restored
// devices and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	for _, rec := range b.registry.List() {
		b.publishState(rec)
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logger.Error("failed to publish health", "error", err)
	}

	b.logger.Info("bridge started", "devices", b.registry.Count(), "prefix", b.topics.Prefix)
	return nil
}

// Stop cancels in-flight commands, closes device handlers and publishes
// the stopping status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.wg.Wait()

		if err := b.registry.Close(); err != nil {
			b.logger.Warn("closing device handlers", "error", err)
		}
		b.health.Stop()

		b.logger.Info("bridge stopped")
	})
}

// DeviceUpdated publishes the retained state of rec.
func (b *Bridge) DeviceUpdated(rec device.Record) {
	b.publishState(rec)
}

// DeviceRemoved clears the retained state of a removed device.
func (b *Bridge) DeviceRemoved(id string) {
	if err := b.mqtt.Publish(b.topics.State(id), nil, b.qos, true); err != nil {
		b.logger.Warn("failed to clear device state", "device_id", id, "error", err)
	}
}

func (b *Bridge) publishState(rec device.Record) {
	payload, err := json.Marshal(NewStateMessage(rec, b.pref))
	if err != nil {
		b.logger.Error("failed to marshal state", "device_id", rec.ID, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(rec.ID), payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish state", "device_id", rec.ID, "error", err)
	}
}

// handleCommand parses and runs a command in the background so the MQTT
// callback returns immediately.
func (b *Bridge) handleCommand(deviceID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("failed to parse command", "device_id", deviceID, "error", err)
		b.publishAck(NewAckError(CommandMessage{DeviceID: deviceID}, ErrCodeInvalidCommand, "malformed command"))
		return
	}
	cmd.DeviceID = deviceID

	select {
	case <-b.ctx.Done():
		b.publishAck(NewAckError(cmd, ErrCodeStopping, "bridge is stopping"))
		return
	default:
	}

	b.logger.Info("received command", "command_id", cmd.ID, "device_id", deviceID, "command", cmd.Command)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.executeCommand(cmd)
	}()
}

func (b *Bridge) executeCommand(cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Command {
	case CommandSetTemperature:
		var celsius float64
		if celsius, err = floatParam(cmd.Parameters, "temperature"); err == nil {
			_, err = b.dispatcher.RequestTemperatureChange(ctx, cmd.DeviceID, celsius)
		}
	case CommandSetRecirculation:
		var enabled bool
		if enabled, err = boolParam(cmd.Parameters, "enabled"); err == nil {
			err = b.dispatcher.SetRecirculation(ctx, cmd.DeviceID, enabled)
		}
	case CommandRefreshMaintenance:
		// Accepted once queued on the device's tier throttle.
		if _, err = b.registry.Get(cmd.DeviceID); err != nil {
			err = fmt.Errorf("%w: %s", ErrDeviceNotFound, cmd.DeviceID)
		} else {
			b.dispatcher.RefreshMaintenance(cmd.DeviceID)
		}
	case CommandPoll:
		b.engine.Poll()
	default:
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unknown command %q", cmd.Command)))
		return
	}

	if err != nil {
		b.logger.Warn("command failed", "command_id", cmd.ID, "device_id", cmd.DeviceID, "command", cmd.Command, "error", err)
		b.publishAck(NewAckError(cmd, errorCode(err), err.Error()))
		return
	}
	b.publishAck(NewAckMessage(cmd))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.DeviceID), payload, 1, false); err != nil {
		b.logger.Error("failed to publish ack", "device_id", ack.DeviceID, "error", err)
	}
}
