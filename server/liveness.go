package server

import (
	"sync/atomic"
	"time"
)

// livenessMonitor evicts a connection that stays silent for maxMisses
// consecutive read-idle windows. Every inbound frame, heartbeat or not,
// counts as activity and resets the count.
type livenessMonitor struct {
	window    time.Duration
	maxMisses int
	last      atomic.Int64 // unix nanos of the last inbound frame
	misses    atomic.Int32
	evict     func(misses int)
}

func newLivenessMonitor(window time.Duration, maxMisses int, evict func(misses int)) *livenessMonitor {
	m := &livenessMonitor{window: window, maxMisses: maxMisses, evict: evict}
	m.Touch()
	return m
}

// Touch records inbound activity.
func (m *livenessMonitor) Touch() {
	m.last.Store(time.Now().UnixNano())
	m.misses.Store(0)
}

// Misses is the number of consecutive idle windows seen so far.
func (m *livenessMonitor) Misses() int { return int(m.misses.Load()) }

// run fires once per idle window until done is closed or the connection is evicted.
func (m *livenessMonitor) run(done <-chan struct{}) {
	timer := time.NewTimer(m.window)
	defer timer.Stop()
	for {
		select {
		case <-done:
			return
		case <-timer.C:
		}

		idle := time.Since(time.Unix(0, m.last.Load()))
		if idle < m.window {
			timer.Reset(m.window - idle)
			continue
		}
		n := int(m.misses.Add(1))
		if n >= m.maxMisses {
			m.evict(n)
			return
		}
		timer.Reset(m.window)
	}
}
