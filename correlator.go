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
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPacketTimeout = 500 * time.Millisecond
	DefaultModbusTimeout = 3000 * time.Millisecond
)

// IDSpace is the inclusive, wrapping range request ids are drawn from.
type IDSpace struct {
	First uint16
	Last  uint16
}

var (
	// PacketIDs is the one byte message id space of the custom protocol.
	// Only 256 ids exist, so far fewer than 256 requests may be in flight
	// before a wrapped id lands on a request that is still pending.
	PacketIDs = IDSpace{First: 0, Last: 0xFF}
	// TransactionIDs is the Modbus transaction id space; 0 is never used.
	TransactionIDs = IDSpace{First: 1, Last: 0xFFFF}
)

func (s IDSpace) Contains(id uint16) bool { return id >= s.First && id <= s.Last }

// Outcome is the terminal result of a tracked request.
type Outcome uint8

const (
	Matched Outcome = iota + 1
	Unmatched
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Unmatched:
		return "unmatched"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// PendingRequest is a request waiting for its response or its deadline.
type PendingRequest struct {
	ID        uint16
	SentAt    time.Time
	Operation Operation

	timer *time.Timer
	seq   uint64
}

// Completion reports how a request id was resolved. Operation and Elapsed
// are zero for Unmatched.
type Completion struct {
	Outcome   Outcome
	ID        uint16
	Operation Operation
	Elapsed   time.Duration
}

// Correlator assigns request ids and matches responses and deadlines to
// pending requests. Whichever of response or deadline arrives first resolves
// the request; the other becomes a no-op.
type Correlator struct {
	mu        sync.Mutex
	space     IDSpace
	next      uint16
	timeout   time.Duration
	seq       uint64
	pending   map[uint16]*PendingRequest
	onTimeout func(Completion)
	logger    zerolog.Logger
}

// NewCorrelator creates a correlator drawing ids from space. onTimeout runs on
// a timer goroutine for every request whose deadline passes unanswered.
func NewCorrelator(space IDSpace, timeout time.Duration, onTimeout func(Completion)) *Correlator {
	return &Correlator{
		space:     space,
		next:      space.First,
		timeout:   timeout,
		pending:   make(map[uint16]*PendingRequest),
		onTimeout: onTimeout,
		logger:    zerolog.Nop(),
	}
}

func (c *Correlator) SetLogger(logger zerolog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// Timeout returns the default deadline armed by Send.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

// Send tracks op under the next id with the default timeout.
func (c *Correlator) Send(op Operation) uint16 {
	return c.SendTimeout(op, c.timeout)
}

// SendTimeout tracks op under the next id and arms a deadline of d. A zero d
// tracks without a deadline. If the id wrapped onto a request that is still
// pending, the old request is replaced.
func (c *Correlator) SendTimeout(op Operation, d time.Duration) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.allocate()
	if old, ok := c.pending[id]; ok {
		old.stop()
		c.logger.Warn().Uint16("id", id).Str("operation", old.Operation.String()).
			Msg("request id reused while still pending, dropping older request")
	}
	c.seq++
	req := &PendingRequest{ID: id, SentAt: time.Now(), Operation: op, seq: c.seq}
	if d > 0 {
		seq := c.seq
		req.timer = time.AfterFunc(d, func() { c.expire(id, seq) })
	}
	c.pending[id] = req
	return id
}

// Reserve consumes the next id without tracking it. Broadcast requests use
// it since nothing ever answers them.
func (c *Correlator) Reserve() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocate()
}

// SetNextID sets the id the next Send or Reserve will use.
func (c *Correlator) SetNextID(id uint16) error {
	if !c.space.Contains(id) {
		return fmt.Errorf("request id %d outside %d-%d", id, c.space.First, c.space.Last)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = id
	return nil
}

func (c *Correlator) allocate() uint16 {
	id := c.next
	if c.next >= c.space.Last {
		c.next = c.space.First
	} else {
		c.next++
	}
	return id
}

// OnResponse resolves id as Matched when it is pending, else reports Unmatched.
func (c *Correlator) OnResponse(id uint16) Completion {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return Completion{Outcome: Unmatched, ID: id}
	}
	req.stop()
	return Completion{Outcome: Matched, ID: id, Operation: req.Operation, Elapsed: time.Since(req.SentAt)}
}

// OnTimeoutFire resolves id as TimedOut. It returns false when id was already
// resolved.
func (c *Correlator) OnTimeoutFire(id uint16) (Completion, bool) {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return Completion{}, false
	}
	req.stop()
	return Completion{Outcome: TimedOut, ID: id, Operation: req.Operation, Elapsed: time.Since(req.SentAt)}, true
}

// expire is the timer path. seq guards against a stale timer of a replaced
// request resolving its successor.
func (c *Correlator) expire(id uint16, seq uint64) {
	c.mu.Lock()
	req, ok := c.pending[id]
	if !ok || req.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()
	if c.onTimeout != nil {
		c.onTimeout(Completion{Outcome: TimedOut, ID: id, Operation: req.Operation, Elapsed: time.Since(req.SentAt)})
	}
}

// Cancel stops tracking id without reporting anything.
func (c *Correlator) Cancel(id uint16) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		req.stop()
	}
	return ok
}

// Pending returns the number of requests in flight.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops every deadline and forgets all pending requests, returning how
// many were dropped.
func (c *Correlator) Close() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint16]*PendingRequest)
	c.mu.Unlock()
	for _, req := range pending {
		req.stop()
	}
	return len(pending)
}

func (r *PendingRequest) stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}
