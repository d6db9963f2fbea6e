package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devicelive/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelive/internal/livechannel"
)

// Broker is the subset of *mqtt.Client the relay needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Target receives retarget requests. *livechannel.Channel implements it.
type Target interface {
	SetDevice(deviceID string) error
}

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config configures a Relay.
type Config struct {
	Topics mqtt.Topics
	QoS    byte
}

// Relay publishes channel state to MQTT and applies control requests.
type Relay struct {
	broker Broker
	target Target
	topics mqtt.Topics
	qos    byte
	logger Logger
}

// StatusPayload is published retained on a device's status topic.
type StatusPayload struct {
	DeviceID   string    `json:"device_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Phase      string    `json:"phase"`
	Connected  bool      `json:"connected"`
	Connecting bool      `json:"connecting"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// controlRequest is the payload of the control topic. Token is decoded
// only so its presence can be rejected.
type controlRequest struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// New creates a Relay. logger may be nil.
func New(cfg Config, broker Broker, target Target, logger Logger) *Relay {
	return &Relay{
		broker: broker,
		target: target,
		topics: cfg.Topics,
		qos:    cfg.QoS,
		logger: logger,
	}
}

// Start subscribes to the control topic.
func (r *Relay) Start() error {
	if err := r.broker.Subscribe(r.topics.ControlTarget(), r.qos, r.handleControl); err != nil {
		return fmt.Errorf("subscribing to control topic: %w", err)
	}
	return nil
}

// Stop unsubscribes from the control topic.
func (r *Relay) Stop() error {
	if err := r.broker.Unsubscribe(r.topics.ControlTarget()); err != nil {
		return fmt.Errorf("unsubscribing from control topic: %w", err)
	}
	return nil
}

// Run publishes states until the stream closes or ctx is done. Publish
// failures are logged; the next state supersedes the lost one.
func (r *Relay) Run(ctx context.Context, states <-chan livechannel.State) {
	var prev livechannel.State
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			r.publishState(prev, st)
			prev = st
		}
	}
}

func (r *Relay) publishState(prev, st livechannel.State) {
	// A torn-down session leaves an idle state without a device; mark the
	// previous device idle so its retained status does not go stale.
	if st.DeviceID == "" {
		if prev.DeviceID != "" {
			idle := st
			idle.DeviceID = prev.DeviceID
			r.publishStatus(idle)
		}
		return
	}

	if prev.DeviceID != "" && prev.DeviceID != st.DeviceID {
		idle := livechannel.State{Phase: livechannel.PhaseIdle, DeviceID: prev.DeviceID, UpdatedAt: st.UpdatedAt}
		r.publishStatus(idle)
	}

	if statusChanged(prev, st) {
		r.publishStatus(st)
	}
	if st.Reading != nil && st.Reading != prev.Reading {
		r.publishReading(st.DeviceID, st.Reading)
	}
}

func statusChanged(prev, st livechannel.State) bool {
	return prev.DeviceID != st.DeviceID ||
		prev.SessionID != st.SessionID ||
		prev.Phase != st.Phase ||
		prev.Attempt != st.Attempt ||
		prev.ErrorMessage != st.ErrorMessage
}

func (r *Relay) publishStatus(st livechannel.State) {
	payload, err := json.Marshal(StatusPayload{
		DeviceID:   st.DeviceID,
		SessionID:  st.SessionID,
		Phase:      st.Phase.String(),
		Connected:  st.IsConnected,
		Connecting: st.IsConnecting,
		Error:      st.ErrorMessage,
		Attempt:    st.Attempt,
		UpdatedAt:  st.UpdatedAt,
	})
	if err != nil {
		r.warn("encoding status payload", "error", err)
		return
	}

	topic := r.topics.LiveStatus(st.DeviceID)
	if err := r.broker.Publish(topic, payload, r.qos, true); err != nil {
		r.warn("publishing live status failed", "topic", topic, "error", err)
	}
}

func (r *Relay) publishReading(deviceID string, reading *livechannel.Reading) {
	payload, err := json.Marshal(reading)
	if err != nil {
		r.warn("encoding reading payload", "error", err)
		return
	}

	topic := r.topics.LiveReading(deviceID)
	if err := r.broker.Publish(topic, payload, r.qos, false); err != nil {
		r.warn("publishing reading failed", "topic", topic, "error", err)
	}
}

// handleControl applies a retarget request.
func (r *Relay) handleControl(_ string, payload []byte) error {
	var req controlRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidControl, err)
	}
	if req.Token != "" {
		return ErrTokenNotAccepted
	}
	if req.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidControl)
	}

	if r.logger != nil {
		r.logger.Info("retargeting live channel from MQTT", "device_id", req.DeviceID)
	}
	if err := r.target.SetDevice(req.DeviceID); err != nil {
		return fmt.Errorf("retargeting live channel: %w", err)
	}
	return nil
}

func (r *Relay) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
