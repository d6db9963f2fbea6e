package livechannel

import "errors"

// Errors surfaced through State.Err and returned by Channel methods.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthentication means the credential was rejected, expired or
	// missing. Terminal for the current token: no automatic retry.
	ErrAuthentication = errors.New("livechannel: authentication failed")

	// ErrConnect is a transient network or timeout failure during connect.
	// Retried with backoff until the attempt budget is spent.
	ErrConnect = errors.New("livechannel: connection failed")

	// ErrRetriesExhausted means every allowed connect attempt failed.
	// Terminal until the inputs change or Retry is called.
	ErrRetriesExhausted = errors.New("livechannel: connection retries exhausted")

	// ErrServer is an explicit error event from the server after connecting.
	ErrServer = errors.New("livechannel: server reported error")

	// ErrUnexpectedDisconnect means the transport dropped outside of a
	// local teardown.
	ErrUnexpectedDisconnect = errors.New("livechannel: unexpected disconnect")

	// ErrClosed is returned by methods called after Close.
	ErrClosed = errors.New("livechannel: channel closed")

	// ErrNoInputs is returned by Retry when device ID or token is absent.
	ErrNoInputs = errors.New("livechannel: device ID and token are required")

	// ErrNotRetryable is returned by Retry when the session is not in a
	// terminal phase.
	ErrNotRetryable = errors.New("livechannel: session is not in a terminal phase")

	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("livechannel: invalid configuration")
)

// Stable user-facing messages. Consumers may compare against these to
// distinguish a re-login prompt from a connectivity spinner.
const (
	MessageAuthFailed       = "Authentication failed: the session credential was rejected or has expired. Please sign in again."
	MessageRetriesExhausted = "Could not establish the live connection after several attempts."
	messageConnectPrefix    = "Connection error: "
	messageServerPrefix     = "Server error: "
	messageDisconnectPrefix = "Disconnected: "
)
