package relay

import "errors"

var (
	// ErrInvalidControl is returned for a malformed control payload.
	ErrInvalidControl = errors.New("relay: invalid control payload")

	// ErrTokenNotAccepted is returned when a control payload carries a token.
	ErrTokenNotAccepted = errors.New("relay: tokens are not accepted over MQTT")
)
