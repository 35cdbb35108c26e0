package mqtt

import "strings"

// DefaultTopicPrefix roots every topic when no prefix is configured.
const DefaultTopicPrefix = "rinnai"

// Topics builds the bridge's MQTT topic tree:
//
//	{prefix}/state/{device_id}     retained device state
//	{prefix}/command/{device_id}   commands to a device
//	{prefix}/ack/{device_id}       command acknowledgements
//	{prefix}/health                retained bridge health, LWT target
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

// NewTopics returns builders rooted at prefix. Trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.TrimRight(prefix, "/")}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State returns the retained state topic of a device.
func (t Topics) State(deviceID string) string {
	return t.root() + "/state/" + deviceID
}

// Command returns the command topic of a device.
func (t Topics) Command(deviceID string) string {
	return t.root() + "/command/" + deviceID
}

// Ack returns the acknowledgement topic of a device.
func (t Topics) Ack(deviceID string) string {
	return t.root() + "/ack/" + deviceID
}

// Health returns the bridge health topic.
func (t Topics) Health() string {
	return t.root() + "/health"
}

// AllStates matches every device state topic.
func (t Topics) AllStates() string {
	return t.root() + "/state/+"
}

// AllCommands matches every device command topic.
func (t Topics) AllCommands() string {
	return t.root() + "/command/+"
}

// Parse splits a topic under this tree into its category and device id.
// ok is false for topics outside the tree.
func (t Topics) Parse(topic string) (category, deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/")
	if !found {
		return "", "", false
	}
	category, deviceID, _ = strings.Cut(rest, "/")
	if category == "" || strings.Contains(deviceID, "/") {
		return "", "", false
	}
	return category, deviceID, true
}
