// Package livechannel maintains a live, authenticated telemetry
// subscription for one device.
//
// A Channel is driven by a reactive input pair (device ID, token). Each
// distinct pair gets its own session which:
//   - Opens one push-channel connection carrying the token
//   - Waits for the server to confirm authentication
//   - Sends a subscribe request for the device
//   - Republishes the latest reading and connection status
//   - Retries failed connects with bounded linear backoff
//
// Changing either input, clearing it, or closing the Channel tears the
// session down: pending retries are cancelled, an unsubscribe is sent if the
// server acknowledged the subscription, and the connection is closed before
// any replacement connects. SetDevice retargets the session while keeping
// the current token.
//
// # Session lifecycle
//
//	Idle → Connecting → AuthPending → Subscribed
//	          ↑    ↘          ↘            ↘
//	          └─(backoff)─ Error        Disconnected
//
// A disconnect after Subscribed is terminal for the session; the consumer
// calls Retry or supplies new inputs to start again.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Transitions run under a single
// mutex, so transport callbacks and timer firings are serialised. Every
// callback carries the generation of the connection it was registered for
// and is ignored once that generation is superseded.
//
// # Usage
//
//	ch, err := livechannel.New(cfg, pushws.NewDialer(pushws.Config{}, log), livechannel.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer ch.Close()
//
//	ch.SetInputs("dev-1", token)
//	for st := range ch.Watch(ctx) {
//	    log.Info("live state", "phase", st.Phase, "reading", st.Reading)
//	}
package livechannel
