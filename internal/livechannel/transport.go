package livechannel

import "time"

// Wire event names exchanged with the push-channel server.
const (
	EventNameSubscribe   = "subscribe_device"
	EventNameUnsubscribe = "unsubscribe_device"

	EventNameAuthenticated = "authenticated"
	EventNameDeviceData    = "device_data"
	EventNameSubscribed    = "subscription_success"
	EventNameUnsubscribed  = "unsubscription_success"
	EventNameError         = "error"
	EventNameConnectError  = "connect_error"
)

// TransportWebSocket is the only channel type the Channel asks for.
const TransportWebSocket = "websocket"

// EventKind identifies a transport event.
type EventKind int

// Transport event kinds.
const (
	EventConnect EventKind = iota + 1
	EventAuthenticated
	EventData
	EventSubscriptionAck
	EventUnsubscriptionAck
	EventError
	EventConnectError
	EventDisconnect
)

// String returns a log-friendly name.
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventAuthenticated:
		return EventNameAuthenticated
	case EventData:
		return EventNameDeviceData
	case EventSubscriptionAck:
		return EventNameSubscribed
	case EventUnsubscriptionAck:
		return EventNameUnsubscribed
	case EventError:
		return EventNameError
	case EventConnectError:
		return EventNameConnectError
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is emitted by a Conn towards its Handler.
type Event struct {
	Kind EventKind

	// Reading is set for EventData.
	Reading *Reading

	// Reason describes EventError, EventConnectError and EventDisconnect.
	Reason string

	// StatusCode is the HTTP status of a rejected upgrade. It is only set
	// on EventConnectError and is zero when no response was received.
	StatusCode int
}

// Handler receives transport events.
type Handler func(Event)

// DialOptions configures one connection attempt.
type DialOptions struct {
	URL string

	// Token is the bearer credential. Transports must not log it.
	Token string

	// Transport is the preferred channel type (TransportWebSocket).
	Transport string

	// Reconnection asks the transport to reconnect on its own. The Channel
	// always passes false: it owns the retry policy.
	Reconnection bool

	// Timeout bounds the connect and authentication handshake.
	Timeout time.Duration
}

// Dialer opens push-channel connections.
//
// Dial must return without waiting for the network: the connect proceeds
// asynchronously and reports through the handler. An error return means the
// attempt could not even start and is treated like a connect error.
//
// Implementations must never invoke the handler synchronously from Dial,
// Emit or Close, and must stop delivering events once Close has returned.
// Close must not wait for an in-flight handler call.
type Dialer interface {
	Dial(opts DialOptions, handler Handler) (Conn, error)
}

// Conn is a live push-channel handle exclusively owned by one session.
type Conn interface {
	// Emit sends a named event with a JSON-encodable payload.
	Emit(name string, payload any) error

	// Close disconnects and drops the handler.
	Close() error
}

// SubscribeRequest is the payload of subscribe and unsubscribe requests.
type SubscribeRequest struct {
	DeviceID string `json:"deviceId"`
}
