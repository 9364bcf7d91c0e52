// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package factory

import (
	"sort"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"blockwatch.cc/alarmclock/pkg/alarm"
	"blockwatch.cc/alarmclock/pkg/ledger"
)

type Entry struct {
	Request     ledger.AccountID
	Unit        ledger.Unit
	WindowStart uint64
	WindowEnd   uint64
}

// Tracker indexes unresolved requests by execution window so executors can
// discover what to run next. It learns about requests from ledger events.
type Tracker struct {
	mu      sync.RWMutex
	entries map[ledger.AccountID]Entry

	onNew       func(NewRequestEvent)
	onExecuted  func(alarm.ExecutedEvent)
	onCancelled func(alarm.CancelledEvent)
}

func NewTracker() *Tracker {
	t := &Tracker{
		entries: make(map[ledger.AccountID]Entry),
	}
	t.onNew = func(ev NewRequestEvent) {
		t.Add(Entry{
			Request:     ev.Request,
			Unit:        ev.Unit,
			WindowStart: ev.WindowStart,
			WindowEnd:   ev.WindowEnd,
		})
	}
	t.onExecuted = func(ev alarm.ExecutedEvent) { t.Remove(ev.Request) }
	t.onCancelled = func(ev alarm.CancelledEvent) { t.Remove(ev.Request) }
	return t
}

// Subscribes to request lifecycle events
func (t *Tracker) Subscribe(bus evbus.Bus) error {
	if err := bus.Subscribe(TopicNewRequest, t.onNew); err != nil {
		return err
	}
	if err := bus.Subscribe(alarm.TopicExecuted, t.onExecuted); err != nil {
		return err
	}
	return bus.Subscribe(alarm.TopicCancelled, t.onCancelled)
}

func (t *Tracker) Unsubscribe(bus evbus.Bus) {
	bus.Unsubscribe(TopicNewRequest, t.onNew)
	bus.Unsubscribe(alarm.TopicExecuted, t.onExecuted)
	bus.Unsubscribe(alarm.TopicCancelled, t.onCancelled)
}

func (t *Tracker) Add(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Request] = e
}

func (t *Tracker) Remove(addr ledger.AccountID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, addr)
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Tracker) Get(addr ledger.AccountID) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[addr]
	return e, ok
}

// Active lists tracked requests ordered by unit, window start and address.
func (t *Tracker) Active() []Entry {
	t.mu.RLock()
	list := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		list = append(list, e)
	}
	t.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		if a.WindowStart != b.WindowStart {
			return a.WindowStart < b.WindowStart
		}
		return a.Request < b.Request
	})
	return list
}

// NextAfter returns the earliest request in unit whose window starts at or
// after t.
func (t *Tracker) NextAfter(unit ledger.Unit, at uint64) (Entry, bool) {
	for _, e := range t.Active() {
		if e.Unit == unit && e.WindowStart >= at {
			return e, true
		}
	}
	return Entry{}, false
}

// Prune drops requests in unit whose execution window closed before now.
// Their endowments are recovered through the request itself.
func (t *Tracker) Prune(unit ledger.Unit, now uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for addr, e := range t.entries {
		if e.Unit == unit && e.WindowEnd <= now {
			delete(t.entries, addr)
			n++
		}
	}
	return n
}
