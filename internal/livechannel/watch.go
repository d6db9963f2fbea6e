package livechannel

import "context"

// watchBuffer is the number of snapshots a slow watcher may lag behind
// before the oldest is dropped.
const watchBuffer = 16

type watcher struct {
	ch   chan State
	done chan struct{}
}

// offer enqueues s, dropping the oldest queued snapshot when full. Only
// called with c.mu held, so there is a single producer.
func (w *watcher) offer(s State) {
	for {
		select {
		case w.ch <- s:
			return
		default:
		}
		select {
		case <-w.ch:
		default:
		}
	}
}

// Watch returns a stream of state snapshots, starting with the current
// one. Delivery is latest-wins: a watcher that falls more than a few
// snapshots behind loses the oldest ones, never the newest. The stream is
// closed when ctx is done or the Channel is closed.
func (c *Channel) Watch(ctx context.Context) <-chan State {
	w := &watcher{
		ch:   make(chan State, watchBuffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(w.ch)
		return w.ch
	}
	c.watchers[w] = struct{}{}
	w.offer(c.state)
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.dropWatcherLocked(w)
			c.mu.Unlock()
		case <-w.done:
		}
	}()

	return w.ch
}

// publishLocked fans the current state out to watchers.
func (c *Channel) publishLocked() {
	for w := range c.watchers {
		w.offer(c.state)
	}
}

func (c *Channel) dropWatcherLocked(w *watcher) {
	if _, ok := c.watchers[w]; !ok {
		return
	}
	delete(c.watchers, w)
	close(w.ch)
	close(w.done)
}
