/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package engine

import (
	"sync"

	"github.com/acronis/go-keyprobe/probe"
)

// reporters is an observer list. Subscribers are notified in subscription order.
type reporters struct {
	mu   sync.RWMutex
	next int
	list []subscription
}

type subscription struct {
	id       int
	reporter probe.Reporter
}

func (rs *reporters) subscribe(r probe.Reporter) (unsubscribe func()) {
	rs.mu.Lock()
	id := rs.next
	rs.next++
	rs.list = append(rs.list, subscription{id: id, reporter: r})
	rs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rs.mu.Lock()
			defer rs.mu.Unlock()
			for i, s := range rs.list {
				if s.id == id {
					rs.list = append(rs.list[:i:i], rs.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (rs *reporters) snapshot() []subscription {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.list
}

// OnStatus implements probe.Reporter.
func (rs *reporters) OnStatus(e probe.StatusEvent) {
	for _, s := range rs.snapshot() {
		s.reporter.OnStatus(e)
	}
}

// OnLogEvent implements probe.Reporter.
func (rs *reporters) OnLogEvent(e probe.LogEvent) {
	for _, s := range rs.snapshot() {
		s.reporter.OnLogEvent(e)
	}
}
