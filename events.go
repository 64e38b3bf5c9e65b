// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package regsim

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind classifies what a role engine or session reports upward.
type EventKind uint8

const (
	EventMatched EventKind = iota + 1
	EventUnmatched
	EventTimedOut
	EventAddressFiltered
	EventErrorInjected
	EventConnected
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventMatched:
		return "matched"
	case EventUnmatched:
		return "unmatched"
	case EventTimedOut:
		return "timed_out"
	case EventAddressFiltered:
		return "address_filtered"
	case EventErrorInjected:
		return "error_injected"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event carries one observable outcome. Packet or Frame holds the decoded
// message involved, depending on the protocol.
type Event struct {
	Kind      EventKind
	ID        uint16
	Operation Operation
	Packet    *Packet
	Frame     *Frame
	Reply     Reply
	Elapsed   time.Duration
	Remote    string
	Err       error
}

// EventSink receives events. It may be called from reader and timer
// goroutines at the same time.
type EventSink func(Event)

// eventHook holds a replaceable sink.
type eventHook struct {
	sink atomic.Value
}

func (h *eventHook) SetEventSink(fn EventSink) {
	h.sink.Store(fn)
}

func (h *eventHook) emit(e Event) {
	if fn, ok := h.sink.Load().(EventSink); ok && fn != nil {
		fn(e)
	}
}

// EventStream decouples producers from a slow consumer: Push queues the
// event and a single goroutine hands events to the sink in order.
type EventStream struct {
	ch       chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	onEvent  atomic.Value
}

func NewEventStream(bufferSize int) *EventStream {
	return &EventStream{
		ch:     make(chan Event, bufferSize),
		stopCh: make(chan struct{}),
	}
}

// SetOnEvent sets the consumer callback.
func (s *EventStream) SetOnEvent(fn EventSink) {
	s.onEvent.Store(fn)
}

// Start launches the dispatch goroutine.
func (s *EventStream) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case e := <-s.ch:
				if fn, ok := s.onEvent.Load().(EventSink); ok && fn != nil {
					fn(e)
				}
			}
		}
	}()
}

// Push queues an event, unless the stream is stopped.
func (s *EventStream) Push(e Event) {
	select {
	case s.ch <- e:
	case <-s.stopCh:
	}
}

// Stop ends dispatching. Queued events not yet delivered are dropped.
func (s *EventStream) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
