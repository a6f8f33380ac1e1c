// pkg/utils/cond_test.go

package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCondSignal(t *testing.T) {
	var m sync.Mutex
	c := NewCond(&m)
	woken := make(chan struct{})
	m.Lock()
	go func() {
		c.Wait()
		m.Unlock()
		close(woken)
	}()
	time.Sleep(time.Millisecond * 10)
	c.Signal()
	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestCondWaitWithTimeout(t *testing.T) {
	var m sync.Mutex
	c := NewCond(&m)
	m.Lock()
	start := time.Now()
	timeout := c.WaitWithTimeout(time.Millisecond * 20)
	m.Unlock()
	assert.True(t, timeout)
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*20)
}

func TestCondBroadcast(t *testing.T) {
	var m sync.Mutex
	c := NewCond(&m)
	const waiters = 4
	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			m.Lock()
			for c.WaitWithTimeout(time.Millisecond * 100) {
			}
			m.Unlock()
			wg.Done()
		}()
	}
	time.Sleep(time.Millisecond * 10)
	for i := 0; i < waiters; i++ {
		c.Broadcast()
		time.Sleep(time.Millisecond)
	}
	wg.Wait()
}
