package livechannel

import (
	"fmt"
	"time"
)

// Reading is one telemetry snapshot from a device.
//
// Hardware may report any subset of fields per tick, so everything except
// DeviceID is optional. Readings are immutable once received; a new reading
// replaces the previous one, it is never merged into it.
type Reading struct {
	DeviceID    string     `json:"deviceId"`
	Temperature *float64   `json:"temperature,omitempty"`
	Humidity    *float64   `json:"humidity,omitempty"`
	LightOn     *bool      `json:"light_on,omitempty"`
	WateringOn  *bool      `json:"watering_on,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// Phase is the lifecycle position of the current session.
type Phase int

// Session phases.
const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseAuthPending
	PhaseSubscribed
	PhaseError
	PhaseDisconnected
)

var phaseNames = [...]string{
	PhaseIdle:         "idle",
	PhaseConnecting:   "connecting",
	PhaseAuthPending:  "auth_pending",
	PhaseSubscribed:   "subscribed",
	PhaseError:        "error",
	PhaseDisconnected: "disconnected",
}

// String returns the lower-case phase name used in logs, JSON and MQTT.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("livechannel: unknown phase %q", text)
}

// Terminal reports whether the phase waits for consumer action.
func (p Phase) Terminal() bool {
	return p == PhaseError || p == PhaseDisconnected
}

// State is the observable snapshot of a Channel.
//
// It is always consistent with the current session's phase: IsConnecting
// is true only while Connecting or AuthPending, IsConnected only while
// Subscribed.
type State struct {
	Phase        Phase         `json:"phase"`
	DeviceID     string        `json:"device_id,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	TokenFP      string        `json:"token_fp,omitempty"`
	Reading      *Reading      `json:"reading"`
	Err          error         `json:"-"`
	ErrorMessage string        `json:"error,omitempty"`
	IsConnecting bool          `json:"is_connecting"`
	IsConnected  bool          `json:"is_connected"`
	Attempt      int           `json:"attempt,omitempty"`
	RetryIn      time.Duration `json:"-"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Stats holds channel counters since creation.
type Stats struct {
	Sessions        uint64 `json:"sessions"`
	Dials           uint64 `json:"dials"`
	Subscribes      uint64 `json:"subscribes"`
	Unsubscribes    uint64 `json:"unsubscribes"`
	Retries         uint64 `json:"retries"`
	AuthFailures    uint64 `json:"auth_failures"`
	Readings        uint64 `json:"readings"`
	ReadingsDropped uint64 `json:"readings_dropped"`
	StaleEvents     uint64 `json:"stale_events"`
	ConnectionsOpen int    `json:"connections_open"`
}
