// Package audit keeps the session event trail: one row per observed phase
// change of the live channel, stored in the session_events table.
//
// The Recorder consumes livechannel.Channel.Watch and writes through a
// Repository. Rows carry the token fingerprint, never the token. Readings
// are not stored.
package audit
