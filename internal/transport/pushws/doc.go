// Package pushws is the WebSocket push-channel client used by livechannel.
//
// Frames are JSON envelopes:
//
//	{"event": "subscribe_device", "data": {"deviceId": "dev-1"}}
//
// The credential travels twice on the opening handshake, as an
// Authorization bearer header and as a token query parameter, so servers
// behind proxies that strip headers still see it.
//
// A Conn never reconnects by itself. Every failure is reported to the
// handler once and the owner decides whether to dial again.
package pushws
