// Package mqtt provides the broker connection the bridge exposes devices on.
//
// The bridge publishes retained device state, consumes commands and
// publishes acknowledgements and health under a configurable prefix (see
// Topics). The client registers a retained offline last will on the health
// topic so consumers notice a crashed bridge.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.Command(id), 1, func(topic string, payload []byte) error {
//	    return handle(payload)
//	})
//	err = client.PublishRetained(topics.State(id), state)
package mqtt
