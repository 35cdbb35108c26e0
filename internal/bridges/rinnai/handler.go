package rinnai

import (
	"fmt"
	"sync"

	"github.com/nerrad567/rinnai-bridge/internal/device"
)

// deviceHandler is the per-device MQTT endpoint. It exists once per active
// device and listens on that device's command topic.
type deviceHandler struct {
	id     string
	topic  string
	bridge *Bridge

	closeOnce sync.Once
	closeErr  error
}

// NewHandler subscribes the device's command topic and publishes its
// state. It is the registry's handler factory.
func (b *Bridge) NewHandler(rec device.Record) (device.Handler, error) {
	h := &deviceHandler{
		id:     rec.ID,
		topic:  b.topics.Command(rec.ID),
		bridge: b,
	}

	if err := b.mqtt.Subscribe(h.topic, 1, h.handleMessage); err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", h.topic, err)
	}
	b.publishState(rec)

	b.logger.Debug("device handler created", "device_id", rec.ID, "topic", h.topic)
	return h, nil
}

func (h *deviceHandler) handleMessage(_ string, payload []byte) error {
	h.bridge.handleCommand(h.id, payload)
	return nil
}

// Close unsubscribes the command topic and drops the device's maintenance
// throttles. Retained state is left for the broker to serve.
func (h *deviceHandler) Close() error {
	h.closeOnce.Do(func() {
		h.bridge.dispatcher.Forget(h.id)
		if err := h.bridge.mqtt.Unsubscribe(h.topic); err != nil {
			h.closeErr = fmt.Errorf("unsubscribing %s: %w", h.topic, err)
		}
	})
	return h.closeErr
}
