package livechannel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devicelive/internal/auth"
)

// defaultConnectTimeout bounds the connect and authentication handshake.
const defaultConnectTimeout = 10 * time.Second

// Config configures a Channel.
type Config struct {
	// URL is the push-channel endpoint (ws:// or wss://).
	URL string

	// Transport is the preferred channel type. Default: TransportWebSocket.
	Transport string

	// ConnectTimeout bounds each handshake. Default: 10s.
	ConnectTimeout time.Duration

	// Backoff is the connect retry policy. Zero value means DefaultBackoff.
	Backoff Backoff
}

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Timer is a scheduled retry. Stop cancels it if it has not fired.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option customises a Channel.
type Option func(*Channel)

// WithLogger sets the logger. Without one the Channel is silent.
func WithLogger(logger Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithScheduler replaces time.AfterFunc for retry timers.
func WithScheduler(s Scheduler) Option {
	return func(c *Channel) { c.schedule = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// Channel is the live-subscription client for one (device, token) pair at
// a time. Create with New; the zero value is not usable.
type Channel struct {
	cfg      Config
	dialer   Dialer
	logger   Logger
	schedule Scheduler
	now      func() time.Time

	mu         sync.Mutex
	deviceID   string
	token      string
	sess       *session
	generation uint64
	state      State
	closed     bool
	watchers   map[*watcher]struct{}
	openConns  int

	sessions        atomic.Uint64
	dials           atomic.Uint64
	subscribes      atomic.Uint64
	unsubscribes    atomic.Uint64
	retries         atomic.Uint64
	authFailures    atomic.Uint64
	readings        atomic.Uint64
	readingsDropped atomic.Uint64
	staleEvents     atomic.Uint64
}

// session is the live state tied to one (device, token) pairing.
type session struct {
	id       string
	deviceID string
	token    string
	tokenFP  string

	phase      Phase
	conn       Conn
	failures   int
	subscribed bool
	acked      bool
	retryTimer Timer
}

// New creates an idle Channel. Nothing connects until SetInputs supplies
// both a device ID and a token.
func New(cfg Config, dialer Dialer, opts ...Option) (*Channel, error) {
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportWebSocket
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, err
	}

	c := &Channel{
		cfg:      cfg,
		dialer:   dialer,
		schedule: afterFunc,
		now:      time.Now,
		watchers: make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = State{Phase: PhaseIdle, UpdatedAt: c.now()}

	return c, nil
}

// SetInputs supplies the reactive input pair.
//
// Identical inputs are a no-op. Otherwise the current session is torn down
// (unsubscribe if acknowledged, close, cancel retry) and, when both values
// are non-empty, a new session starts connecting. Empty values leave the
// Channel idle with cleared state.
func (c *Channel) SetInputs(deviceID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setInputsLocked(deviceID, token)
}

// SetDevice retargets the Channel to deviceID, keeping the current token.
func (c *Channel) SetDevice(deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setInputsLocked(deviceID, c.token)
}

func (c *Channel) setInputsLocked(deviceID, token string) error {
	if c.closed {
		return ErrClosed
	}
	if deviceID == c.deviceID && token == c.token {
		return nil
	}

	c.teardownLocked("inputs changed")
	c.deviceID = deviceID
	c.token = token

	if deviceID == "" || token == "" {
		c.logDebug("live channel inputs incomplete, staying idle",
			"has_device", deviceID != "",
			"has_token", token != "",
		)
		return nil
	}

	c.startLocked()
	return nil
}

// Retry starts a fresh session with the current inputs after a terminal
// error or disconnect.
func (c *Channel) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.deviceID == "" || c.token == "" {
		return ErrNoInputs
	}
	if c.sess != nil && !c.sess.phase.Terminal() {
		return ErrNotRetryable
	}

	c.teardownLocked("manual retry")
	c.startLocked()
	return nil
}

// State returns the current observable snapshot.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	open := c.openConns
	c.mu.Unlock()

	return Stats{
		Sessions:        c.sessions.Load(),
		Dials:           c.dials.Load(),
		Subscribes:      c.subscribes.Load(),
		Unsubscribes:    c.unsubscribes.Load(),
		Retries:         c.retries.Load(),
		AuthFailures:    c.authFailures.Load(),
		Readings:        c.readings.Load(),
		ReadingsDropped: c.readingsDropped.Load(),
		StaleEvents:     c.staleEvents.Load(),
		ConnectionsOpen: open,
	}
}

// HealthCheck returns nil while subscribed, otherwise the current error or
// a description of the phase.
func (c *Channel) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("live channel health check: %w", ctx.Err())
	default:
	}

	st := c.State()
	switch {
	case st.Phase == PhaseSubscribed:
		return nil
	case st.Err != nil:
		return st.Err
	default:
		return fmt.Errorf("live channel %s", st.Phase)
	}
}

// Close detaches the consumer permanently: the session is torn down, watch
// streams are closed and later calls return ErrClosed. Safe to call more
// than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.teardownLocked("channel closed")
	c.closed = true
	for w := range c.watchers {
		c.dropWatcherLocked(w)
	}
	return nil
}

// startLocked creates a session for the current inputs and dials it.
func (c *Channel) startLocked() {
	sess := &session{
		id:       uuid.NewString(),
		deviceID: c.deviceID,
		token:    c.token,
		tokenFP:  auth.Fingerprint(c.token),
	}
	c.sess = sess
	c.sessions.Add(1)

	c.logInfo("live session created",
		"session_id", sess.id,
		"device_id", sess.deviceID,
		"token_fp", sess.tokenFP,
	)

	if _, err := auth.Inspect(sess.token, c.now()); err != nil {
		c.failAuthLocked(sess, err.Error())
		return
	}

	c.dialLocked(sess)
}

// dialLocked opens a new connection for sess, replacing any existing one.
func (c *Channel) dialLocked(sess *session) {
	c.releaseConnLocked(sess)
	sess.retryTimer = nil
	sess.phase = PhaseConnecting
	gen := c.nextGenerationLocked()
	attempt := sess.failures + 1

	c.updateLocked(sess, func(st *State) {
		st.Phase = PhaseConnecting
		st.Reading = nil
		st.Err = nil
		st.ErrorMessage = ""
		st.IsConnecting = true
		st.IsConnected = false
		st.Attempt = attempt
		st.RetryIn = 0
	})

	c.logInfo("connecting live channel",
		"session_id", sess.id,
		"device_id", sess.deviceID,
		"token_fp", sess.tokenFP,
		"attempt", attempt,
	)

	opts := DialOptions{
		URL:          c.cfg.URL,
		Token:        sess.token,
		Transport:    c.cfg.Transport,
		Reconnection: false,
		Timeout:      c.cfg.ConnectTimeout,
	}
	c.dials.Add(1)
	conn, err := c.dialer.Dial(opts, func(ev Event) {
		c.handleEvent(sess, gen, ev)
	})
	if err != nil {
		c.connectFailedLocked(sess, err.Error(), 0)
		return
	}
	sess.conn = conn
	c.openConns++
}

// handleEvent is the single entry point for transport callbacks.
func (c *Channel) handleEvent(sess *session, gen uint64, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(sess, gen) {
		c.staleEvents.Add(1)
		c.logDebug("stale live channel event ignored",
			"session_id", sess.id,
			"event", ev.Kind.String(),
		)
		return
	}

	switch ev.Kind {
	case EventConnect:
		c.onConnectLocked(sess)
	case EventAuthenticated:
		c.onAuthenticatedLocked(sess)
	case EventSubscriptionAck:
		c.onSubscriptionAckLocked(sess)
	case EventUnsubscriptionAck:
		c.logDebug("unsubscription acknowledged", "session_id", sess.id)
	case EventData:
		c.onDataLocked(sess, ev.Reading)
	case EventError:
		c.onServerErrorLocked(sess, ev.Reason)
	case EventConnectError:
		c.onConnectErrorLocked(sess, ev.Reason, ev.StatusCode)
	case EventDisconnect:
		c.onDisconnectLocked(sess, ev.Reason)
	default:
		c.logWarn("unknown live channel event", "session_id", sess.id, "kind", int(ev.Kind))
	}
}

func (c *Channel) onConnectLocked(sess *session) {
	if sess.phase != PhaseConnecting {
		c.logDebug("connect event outside connecting phase", "session_id", sess.id, "phase", sess.phase.String())
		return
	}
	sess.phase = PhaseAuthPending
	c.updateLocked(sess, func(st *State) {
		st.Phase = PhaseAuthPending
	})
	c.logDebug("live channel transport connected, awaiting authentication", "session_id", sess.id)
}

// onAuthenticatedLocked sends the subscribe request. This is the only
// place a subscribe is emitted.
func (c *Channel) onAuthenticatedLocked(sess *session) {
	if sess.phase != PhaseAuthPending {
		c.logDebug("authentication event outside auth_pending phase", "session_id", sess.id, "phase", sess.phase.String())
		return
	}

	if err := sess.conn.Emit(EventNameSubscribe, SubscribeRequest{DeviceID: sess.deviceID}); err != nil {
		c.connectFailedLocked(sess, "sending subscribe: "+err.Error(), 0)
		return
	}
	c.subscribes.Add(1)

	sess.subscribed = true
	sess.phase = PhaseSubscribed
	sess.failures = 0
	c.updateLocked(sess, func(st *State) {
		st.Phase = PhaseSubscribed
		st.Err = nil
		st.ErrorMessage = ""
		st.IsConnecting = false
		st.IsConnected = true
		st.Attempt = 0
		st.RetryIn = 0
	})
	c.logInfo("live channel authenticated, subscribe sent",
		"session_id", sess.id,
		"device_id", sess.deviceID,
	)
}

func (c *Channel) onSubscriptionAckLocked(sess *session) {
	if sess.phase != PhaseSubscribed {
		c.logDebug("subscription ack outside subscribed phase", "session_id", sess.id, "phase", sess.phase.String())
		return
	}
	sess.acked = true
	c.logInfo("live subscription acknowledged", "session_id", sess.id, "device_id", sess.deviceID)
}

// onDataLocked publishes a reading. Readings that arrive before the
// subscribe or that belong to another device are discarded. A non-fatal
// server error leaves the subscribed handle open, and its readings are
// still accepted.
func (c *Channel) onDataLocked(sess *session, r *Reading) {
	if !sess.subscribed || sess.conn == nil || r == nil {
		c.readingsDropped.Add(1)
		c.logDebug("reading discarded", "session_id", sess.id, "phase", sess.phase.String())
		return
	}
	if r.DeviceID != "" && r.DeviceID != sess.deviceID {
		c.readingsDropped.Add(1)
		c.logDebug("reading for another device discarded",
			"session_id", sess.id,
			"device_id", sess.deviceID,
			"reading_device_id", r.DeviceID,
		)
		return
	}

	reading := *r
	if reading.DeviceID == "" {
		reading.DeviceID = sess.deviceID
	}
	c.readings.Add(1)
	c.updateLocked(sess, func(st *State) {
		st.Reading = &reading
	})
}

// onServerErrorLocked surfaces an explicit server error. It clears the
// reading and does not reconnect by itself.
//
// A credential rejection ends the session with the authentication error.
// During the handshake the handle is released; once subscribed it stays
// open so the server may keep streaming.
func (c *Channel) onServerErrorLocked(sess *session, reason string) {
	reason = reasonOr(reason, "unknown error")
	handshake := sess.phase == PhaseConnecting || sess.phase == PhaseAuthPending

	if isAuthFailure(reason) {
		c.unsubscribeLocked(sess)
		c.releaseConnLocked(sess)
		c.nextGenerationLocked()
		c.failAuthLocked(sess, reason)
		return
	}

	if handshake {
		c.releaseConnLocked(sess)
		c.nextGenerationLocked()
	}
	sess.phase = PhaseError
	c.updateLocked(sess, func(st *State) {
		st.Phase = PhaseError
		st.Reading = nil
		st.Err = fmt.Errorf("%w: %s", ErrServer, reason)
		st.ErrorMessage = messageServerPrefix + reason
		st.IsConnecting = false
		st.IsConnected = false
		st.RetryIn = 0
	})
	c.logWarn("live channel server error", "session_id", sess.id, "reason", reason)
}

func (c *Channel) onConnectErrorLocked(sess *session, reason string, status int) {
	switch sess.phase {
	case PhaseConnecting, PhaseAuthPending:
		c.connectFailedLocked(sess, reason, status)
	default:
		c.logWarn("connect error outside handshake ignored",
			"session_id", sess.id,
			"phase", sess.phase.String(),
			"reason", reason,
		)
	}
}

// onDisconnectLocked handles a transport drop that was not caused by a
// local teardown. During the handshake it counts as a failed attempt;
// afterwards it ends the session without reconnecting. An error already
// reported by the server is kept.
func (c *Channel) onDisconnectLocked(sess *session, reason string) {
	reason = reasonOr(reason, "connection closed")

	if sess.phase == PhaseConnecting || sess.phase == PhaseAuthPending {
		c.connectFailedLocked(sess, reason, 0)
		return
	}

	c.releaseConnLocked(sess)
	c.nextGenerationLocked()

	if sess.phase == PhaseError {
		c.logWarn("live channel disconnected after server error",
			"session_id", sess.id,
			"reason", reason,
		)
		return
	}

	sess.phase = PhaseDisconnected
	c.updateLocked(sess, func(st *State) {
		st.Phase = PhaseDisconnected
		st.Err = fmt.Errorf("%w: %s", ErrUnexpectedDisconnect, reason)
		st.ErrorMessage = messageDisconnectPrefix + reason
		st.IsConnecting = false
		st.IsConnected = false
	})
	c.logWarn("live channel disconnected", "session_id", sess.id, "reason", reason)
}

// connectFailedLocked closes the failed handle and either schedules a
// retry, or ends the session with a terminal error. status is the HTTP
// status of a rejected upgrade, or zero.
func (c *Channel) connectFailedLocked(sess *session, reason string, status int) {
	reason = reasonOr(reason, "could not connect")
	c.releaseConnLocked(sess)
	gen := c.nextGenerationLocked()

	if isAuthStatus(status) || isAuthFailure(reason) {
		c.failAuthLocked(sess, reason)
		return
	}

	sess.failures++
	sess.phase = PhaseError

	if sess.failures >= c.cfg.Backoff.MaxAttempts {
		c.updateLocked(sess, func(st *State) {
			st.Phase = PhaseError
			st.Reading = nil
			st.Err = fmt.Errorf("%w after %d attempts: %s", ErrRetriesExhausted, sess.failures, reason)
			st.ErrorMessage = MessageRetriesExhausted
			st.IsConnecting = false
			st.IsConnected = false
			st.Attempt = sess.failures
			st.RetryIn = 0
		})
		c.logError("live channel retries exhausted",
			"session_id", sess.id,
			"attempts", sess.failures,
			"reason", reason,
		)
		return
	}

	delay := c.cfg.Backoff.Delay(sess.failures)
	c.updateLocked(sess, func(st *State) {
		st.Phase = PhaseError
		st.Reading = nil
		st.Err = fmt.Errorf("%w: %s", ErrConnect, reason)
		st.ErrorMessage = messageConnectPrefix + reason
		st.IsConnecting = false
		st.IsConnected = false
		st.Attempt = sess.failures
		st.RetryIn = delay
	})
	c.logWarn("live channel connect failed, retrying",
		"session_id", sess.id,
		"attempt", sess.failures,
		"retry_in", delay.String(),
		"reason", reason,
	)

	c.retries.Add(1)
	sess.retryTimer = c.schedule(delay, func() {
		c.retryFired(sess, gen)
	})
}

// retryFired runs on the timer goroutine.
func (c *Channel) retryFired(sess *session, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(sess, gen) {
		c.staleEvents.Add(1)
		return
	}
	c.dialLocked(sess)
}

// failAuthLocked ends the session with the authentication error. No retry
// is scheduled for the same token.
func (c *Channel) failAuthLocked(sess *session, reason string) {
	c.authFailures.Add(1)
	sess.phase = PhaseError
	c.updateLocked(sess, func(st *State) {
		st.Phase = PhaseError
		st.Reading = nil
		st.Err = fmt.Errorf("%w: %s", ErrAuthentication, reason)
		st.ErrorMessage = MessageAuthFailed
		st.IsConnecting = false
		st.IsConnected = false
		st.RetryIn = 0
	})
	c.logWarn("live channel authentication failed",
		"session_id", sess.id,
		"token_fp", sess.tokenFP,
		"reason", reason,
	)
}

// teardownLocked discards the current session: cancel the retry timer,
// unsubscribe if the server acknowledged the subscription, close the
// handle, and reset observable state.
func (c *Channel) teardownLocked(why string) {
	sess := c.sess
	if sess == nil {
		return
	}

	if sess.retryTimer != nil {
		sess.retryTimer.Stop()
		sess.retryTimer = nil
	}

	c.unsubscribeLocked(sess)
	c.releaseConnLocked(sess)

	c.nextGenerationLocked()
	sess.phase = PhaseIdle
	c.sess = nil
	c.resetStateLocked()

	c.logInfo("live session torn down", "session_id", sess.id, "reason", why)
}

// unsubscribeLocked sends the unsubscribe request if the server
// acknowledged the subscription on the current handle.
func (c *Channel) unsubscribeLocked(sess *session) {
	if sess.conn == nil || !sess.acked {
		return
	}
	if err := sess.conn.Emit(EventNameUnsubscribe, SubscribeRequest{DeviceID: sess.deviceID}); err != nil {
		c.logWarn("unsubscribe failed", "session_id", sess.id, "error", err)
		return
	}
	c.unsubscribes.Add(1)
}

// releaseConnLocked closes the session's handle, if any. Callers bump the
// generation afterwards so an event already in flight is ignored.
func (c *Channel) releaseConnLocked(sess *session) {
	sess.acked = false
	sess.subscribed = false
	if sess.conn == nil {
		return
	}
	if err := sess.conn.Close(); err != nil {
		c.logDebug("closing live channel connection", "session_id", sess.id, "error", err)
	}
	sess.conn = nil
	c.openConns--
}

func (c *Channel) nextGenerationLocked() uint64 {
	c.generation++
	return c.generation
}

// liveLocked reports whether a callback registered for (sess, gen) still
// belongs to the active connection.
func (c *Channel) liveLocked(sess *session, gen uint64) bool {
	return !c.closed && c.sess == sess && c.generation == gen
}

func (c *Channel) resetStateLocked() {
	c.state = State{Phase: PhaseIdle, UpdatedAt: c.now()}
	c.publishLocked()
}

// updateLocked mutates the state for sess and publishes it.
func (c *Channel) updateLocked(sess *session, mutate func(*State)) {
	st := c.state
	st.DeviceID = sess.deviceID
	st.SessionID = sess.id
	st.TokenFP = sess.tokenFP
	mutate(&st)
	st.UpdatedAt = c.now()
	c.state = st
	c.publishLocked()
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

func (c *Channel) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Channel) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Channel) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}

func (c *Channel) logError(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Error(msg, keysAndValues...)
	}
}
