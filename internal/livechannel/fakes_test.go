package livechannel

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeDialer records every dial and keeps a shared, ordered log of
// transport side effects so tests can assert on ordering.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	open    int
	maxOpen int
	dialErr error
	log     []string
}

func (d *fakeDialer) Dial(opts DialOptions, handler Handler) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dialErr != nil {
		d.log = append(d.log, "dial-error "+opts.Token)
		return nil, d.dialErr
	}

	c := &fakeConn{dialer: d, opts: opts, handler: handler}
	d.conns = append(d.conns, c)
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	d.log = append(d.log, "dial "+opts.Token)
	return c, nil
}

func (d *fakeDialer) record(entry string) {
	d.mu.Lock()
	d.log = append(d.log, entry)
	d.mu.Unlock()
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) entries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

type emitted struct {
	name    string
	payload any
}

type fakeConn struct {
	dialer  *fakeDialer
	opts    DialOptions
	handler Handler

	mu      sync.Mutex
	emits   []emitted
	closed  bool
	emitErr error
}

func (c *fakeConn) Emit(name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, emitted{name: name, payload: payload})
	if req, ok := payload.(SubscribeRequest); ok {
		c.dialer.record(fmt.Sprintf("emit %s %s", name, req.DeviceID))
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.dialer.mu.Lock()
	c.dialer.open--
	c.dialer.log = append(c.dialer.log, "close "+c.opts.Token)
	c.dialer.mu.Unlock()
	return nil
}

// fire delivers an event the way a transport goroutine would. Unlike a
// real transport it keeps firing after Close, which is exactly the stale
// callback the generation guard must absorb.
func (c *fakeConn) fire(ev Event) {
	c.handler(ev)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) emitted(name string) []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emitted
	for _, e := range c.emits {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeScheduler captures retry timers so tests decide when they fire.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) schedule(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// fireNext fires the oldest pending timer. Returns false if none.
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	s.mu.Unlock()

	next.f()
	return true
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

func float64Ptr(v float64) *float64 { return &v }
