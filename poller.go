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

// Sender transmits an operation and returns its request id. PacketHost and
// ModbusClient implement it.
type Sender interface {
	Send(op Operation) (uint16, error)
}

// OnErrorFunc receives send failures from a Poller.
type OnErrorFunc func(op Operation, err error)

// Poller issues a fixed list of operations at an interval. Results arrive as
// events on the sender's master like any other request.
type Poller struct {
	sender   Sender
	ops      []Operation
	interval time.Duration
	onError  atomic.Value
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a poller for ops.
func NewPoller(sender Sender, interval time.Duration, ops ...Operation) *Poller {
	return &Poller{
		sender:   sender,
		ops:      ops,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// SetOnError sets the callback for send failures.
func (p *Poller) SetOnError(fn OnErrorFunc) {
	p.onError.Store(fn)
}

// Start begins polling. The first round is sent immediately.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.poll()
}

func (p *Poller) poll() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.PollOnce()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.PollOnce()
		}
	}
}

// PollOnce sends every operation once, in order.
func (p *Poller) PollOnce() {
	for _, op := range p.ops {
		if _, err := p.sender.Send(op); err != nil {
			if fn, ok := p.onError.Load().(OnErrorFunc); ok && fn != nil {
				fn(op, err)
			}
		}
	}
}

// Stop ends polling and waits for the current round to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
