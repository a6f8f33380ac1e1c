// pkg/utils/cond.go

package utils

import (
	"sync"
	"time"
)

// Cond is similar to sync.Cond, but waits can time out. Waiters queue up in
// FIFO order on their own channels, so a Signal wakes exactly one waiter
// and a Broadcast wakes every waiter registered at that moment; there are
// no spurious wakeups from stale tokens.
type Cond struct {
	L sync.Locker

	wmu     sync.Mutex
	waiters []chan struct{}
}

// NewCond creates a Cond whose waiters hold lock.
func NewCond(lock sync.Locker) *Cond {
	return &Cond{L: lock}
}

func (c *Cond) enqueue() chan struct{} {
	ch := make(chan struct{})
	c.wmu.Lock()
	c.waiters = append(c.waiters, ch)
	c.wmu.Unlock()
	return ch
}

// remove drops a timed-out waiter; it reports false when the waiter had
// already been taken by Signal or Broadcast.
func (c *Cond) remove(ch chan struct{}) bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Signal wakes up the longest-waiting waiter, if any.
func (c *Cond) Signal() {
	c.wmu.Lock()
	if len(c.waiters) > 0 {
		close(c.waiters[0])
		c.waiters = c.waiters[1:]
	}
	c.wmu.Unlock()
}

// Broadcast wakes up all the current waiters.
func (c *Cond) Broadcast() {
	c.wmu.Lock()
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
	c.wmu.Unlock()
}

// Wait until Signal() or Broadcast() is called. The caller must hold L,
// which is released while waiting.
func (c *Cond) Wait() {
	ch := c.enqueue()
	c.L.Unlock()
	<-ch
	c.L.Lock()
}

var timerPool = sync.Pool{
	New: func() interface{} {
		return time.NewTimer(time.Second)
	},
}

// WaitWithTimeout wait for a signal or a period of timeout eclipsed.
// returns true in case of timeout else false
func (c *Cond) WaitWithTimeout(d time.Duration) bool {
	ch := c.enqueue()
	c.L.Unlock()
	t := timerPool.Get().(*time.Timer)
	t.Reset(d)
	defer func() {
		t.Stop()
		timerPool.Put(t)
	}()
	defer c.L.Lock()
	select {
	case <-ch:
		return false
	case <-t.C:
		if !c.remove(ch) {
			// A wakeup raced the timeout; pass it on so it is not lost.
			c.Signal()
		}
		return true
	}
}
