package pushws

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nerrad567/devicelive/internal/livechannel"
)

// envelope is the wire frame in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound is the write-side frame; Data is marshalled lazily.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// wireReading is a device_data payload as the server sends it. created_at
// is free-form, so it is decoded separately from the rest of the reading.
type wireReading struct {
	DeviceID    string          `json:"deviceId"`
	Temperature *float64        `json:"temperature,omitempty"`
	Humidity    *float64        `json:"humidity,omitempty"`
	LightOn     *bool           `json:"light_on,omitempty"`
	WateringOn  *bool           `json:"watering_on,omitempty"`
	CreatedAt   json.RawMessage `json:"created_at,omitempty"`
}

// timestampLayouts are tried in order for a string created_at.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// decodeEvent maps a server frame to a livechannel event. ok is false for
// frames the channel does not care about.
func decodeEvent(env envelope) (ev livechannel.Event, ok bool, err error) {
	switch env.Event {
	case livechannel.EventNameAuthenticated:
		ev.Kind = livechannel.EventAuthenticated
	case livechannel.EventNameSubscribed:
		ev.Kind = livechannel.EventSubscriptionAck
	case livechannel.EventNameUnsubscribed:
		ev.Kind = livechannel.EventUnsubscriptionAck
	case livechannel.EventNameDeviceData:
		var w wireReading
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return ev, false, err
		}
		ev.Kind = livechannel.EventData
		ev.Reading = &livechannel.Reading{
			DeviceID:    w.DeviceID,
			Temperature: w.Temperature,
			Humidity:    w.Humidity,
			LightOn:     w.LightOn,
			WateringOn:  w.WateringOn,
			CreatedAt:   parseTimestamp(w.CreatedAt),
		}
	case livechannel.EventNameError:
		ev.Kind = livechannel.EventError
		ev.Reason = reasonFrom(env.Data)
	case livechannel.EventNameConnectError:
		ev.Kind = livechannel.EventConnectError
		ev.Reason = reasonFrom(env.Data)
	default:
		return ev, false, nil
	}
	return ev, true, nil
}

// parseTimestamp accepts RFC 3339, the common SQL layouts and Unix epoch
// numbers (seconds, or milliseconds when large). Anything else yields nil
// and the reading is kept without a timestamp.
func parseTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			var t time.Time
			if v > 1e12 {
				t = time.UnixMilli(v).UTC()
			} else {
				t = time.Unix(v, 0).UTC()
			}
			return &t
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// reasonFrom extracts a human-readable reason from an error payload. The
// server sends either a bare string or an object with a message field.
func reasonFrom(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	return strings.TrimSpace(string(data))
}
