package pushws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelive/internal/livechannel"
)

// Defaults for Config.
const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 25 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReadLimit        = 1 << 20

	// closeGrace bounds the close frame written on Close.
	closeGrace = time.Second
)

// reasonAuthTimeout is reported when the socket opens but the server never
// confirms the credential.
const reasonAuthTimeout = "authentication timeout"

// Config tunes the WebSocket client. Zero values use defaults.
type Config struct {
	// HandshakeTimeout bounds the HTTP upgrade and the wait for the
	// server's authenticated event when DialOptions.Timeout is unset.
	HandshakeTimeout time.Duration

	// PingInterval is the keepalive period. The read deadline is two
	// intervals, refreshed on every frame and pong.
	PingInterval time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// ReadLimit is the maximum inbound frame size in bytes.
	ReadLimit int64
}

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Dialer opens push-channel connections. It implements livechannel.Dialer.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger Logger
}

// NewDialer creates a Dialer. logger may be nil.
func NewDialer(cfg Config, logger Logger) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}

	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger,
	}
}

// Dial validates opts and starts connecting in the background. The handler
// is never called from Dial itself.
func (d *Dialer) Dial(opts livechannel.DialOptions, handler livechannel.Handler) (livechannel.Conn, error) {
	if opts.Transport != "" && opts.Transport != livechannel.TransportWebSocket {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, opts.Transport)
	}
	if opts.Reconnection {
		return nil, ErrReconnection
	}

	target, err := buildURL(opts.URL, opts.Token)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.cfg.HandshakeTimeout
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		dialer:  d,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.run(target, header, timeout, redactURL(opts.URL))
	return c, nil
}

// buildURL validates raw and appends the token query parameter.
func buildURL(raw, token string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q, want ws or wss", ErrInvalidURL, u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redactURL strips the query so URLs can be logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// Conn is one push-channel connection. It implements livechannel.Conn.
type Conn struct {
	dialer  *Dialer
	handler livechannel.Handler
	ctx     context.Context
	cancel  context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	authed    atomic.Bool

	// deliverMu keeps events from one connection in order. Close never
	// takes it, so a handler may call Close without deadlocking.
	deliverMu sync.Mutex

	mu        sync.Mutex
	ws        *websocket.Conn
	authTimer *time.Timer

	writeMu sync.Mutex
}

// Emit writes one event frame.
func (c *Conn) Emit(name string, payload any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(outbound{Event: name, Data: payload})
	if err != nil {
		return fmt.Errorf("pushws: encoding %s: %w", name, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.dialer.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("pushws: writing %s: %w", name, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("pushws: writing %s: %w", name, err)
	}
	return nil
}

// Close shuts the connection down and drops the handler. It does not wait
// for the background goroutines, so it is safe to call from the handler.
// An event already being delivered when Close is called may still arrive.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		c.mu.Lock()
		ws := c.ws
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		c.mu.Unlock()

		if ws == nil {
			return
		}
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		c.writeMu.Unlock()
		_ = ws.Close()
	})
	return nil
}

// deliver hands ev to the handler unless the connection is closed.
func (c *Conn) deliver(ev livechannel.Event) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.closed.Load() {
		return
	}
	c.handler(ev)
}

// run dials, then reads until the socket fails or Close is called.
func (c *Conn) run(target string, header http.Header, timeout time.Duration, logURL string) {
	dialCtx, cancel := context.WithTimeout(c.ctx, timeout)
	ws, resp, err := c.dialer.ws.DialContext(dialCtx, target, header)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		ev := livechannel.Event{Kind: livechannel.EventConnectError, Reason: err.Error()}
		if resp != nil {
			ev.StatusCode = resp.StatusCode
			ev.Reason = fmt.Sprintf("%s (%d %s)", ev.Reason, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		c.logDebug("push channel dial failed", "url", logURL, "reason", ev.Reason, "status", ev.StatusCode)
		c.deliver(ev)
		return
	}

	cfg := c.dialer.cfg
	ws.SetReadLimit(cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(2 * cfg.PingInterval))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * cfg.PingInterval))
	})

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.authTimer = time.AfterFunc(timeout, c.authTimedOut)
	c.mu.Unlock()

	c.logDebug("push channel open", "url", logURL)
	c.deliver(livechannel.Event{Kind: livechannel.EventConnect})

	go c.pingLoop(ws)
	c.readLoop(ws)
}

func (c *Conn) authTimedOut() {
	if c.authed.Load() {
		return
	}
	c.deliver(livechannel.Event{Kind: livechannel.EventConnectError, Reason: reasonAuthTimeout})
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.deliver(livechannel.Event{Kind: livechannel.EventDisconnect, Reason: disconnectReason(err)})
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(2 * c.dialer.cfg.PingInterval))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logWarn("push channel frame is not JSON", "error", err)
			continue
		}
		ev, ok, err := decodeEvent(env)
		if err != nil {
			c.logWarn("push channel event decode failed", "event", env.Event, "error", err)
			continue
		}
		if !ok {
			c.logDebug("push channel event ignored", "event", env.Event)
			continue
		}
		if ev.Kind == livechannel.EventAuthenticated && c.authed.CompareAndSwap(false, true) {
			c.mu.Lock()
			if c.authTimer != nil {
				c.authTimer.Stop()
			}
			c.mu.Unlock()
		}
		c.deliver(ev)
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(c.dialer.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.dialer.cfg.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// The read loop sees the same failure and reports it.
				c.logDebug("push channel ping failed", "error", err)
				return
			}
		}
	}
}

// disconnectReason renders a read error the way servers phrase close
// reasons, e.g. "io server disconnect" for a normal server-side close.
func disconnectReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
			return "io server disconnect"
		}
		return fmt.Sprintf("transport close (%d)", ce.Code)
	}
	return "transport error: " + err.Error()
}

func (c *Conn) logDebug(msg string, keysAndValues ...any) {
	if c.dialer.logger != nil {
		c.dialer.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Conn) logWarn(msg string, keysAndValues ...any) {
	if c.dialer.logger != nil {
		c.dialer.logger.Warn(msg, keysAndValues...)
	}
}
