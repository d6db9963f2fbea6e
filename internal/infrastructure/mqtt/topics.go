package mqtt

import "strings"

// DefaultTopicPrefix is used when MQTTConfig.TopicPrefix is empty.
const DefaultTopicPrefix = "devicelive"

// Topics builds devicelive MQTT topics under a configurable prefix.
//
//	topics := mqtt.Topics{Prefix: "devicelive"}
//	topics.LiveStatus("dev-1") // "devicelive/live/dev-1/status"
//
// Device IDs are sanitised so a hostile ID cannot inject wildcards or extra
// topic levels.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
//
// Example: devicelive/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// LiveStatus is the retained connection-status topic for a device.
//
// Example: devicelive/live/dev-1/status
func (t Topics) LiveStatus(deviceID string) string {
	return t.prefix() + "/live/" + SanitiseTopicLevel(deviceID) + "/status"
}

// LiveReading is the topic each accepted reading is published to.
//
// Example: devicelive/live/dev-1/reading
func (t Topics) LiveReading(deviceID string) string {
	return t.prefix() + "/live/" + SanitiseTopicLevel(deviceID) + "/reading"
}

// ControlTarget receives retarget requests.
//
// Example: devicelive/control/target
func (t Topics) ControlTarget() string {
	return t.prefix() + "/control/target"
}

// SanitiseTopicLevel makes s safe to use as a single topic level: the
// separators and wildcards (/ + #) and NUL become underscores. An empty
// value becomes "_".
func SanitiseTopicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}
