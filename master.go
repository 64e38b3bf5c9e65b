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
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// master holds what both protocol masters share: the correlator, event
// delivery and metrics.
type master struct {
	eventHook
	role   string
	corr   *Correlator
	logger zerolog.Logger
}

func (m *master) init(role string, space IDSpace, timeout time.Duration) {
	m.role = role
	m.logger = zerolog.Nop()
	m.corr = NewCorrelator(space, timeout, m.timedOut)
}

// SetLogger should be called before the first Issue.
func (m *master) SetLogger(logger zerolog.Logger) {
	m.logger = logger
	m.corr.SetLogger(logger)
}

// Correlator exposes the request tracker, mainly to set the next id.
func (m *master) Correlator() *Correlator { return m.corr }

// Pending returns the number of requests awaiting a response.
func (m *master) Pending() int { return m.corr.Pending() }

// Close drops every pending request without reporting timeouts. Sessions
// call it when the connection goes away.
func (m *master) Close() int { return m.corr.Close() }

func (m *master) timedOut(c Completion) {
	recordOutcome(m.role, c)
	m.logger.Warn().Uint16("id", c.ID).Str("operation", c.Operation.String()).
		Dur("after", c.Elapsed).Msg("request timed out")
	m.emit(Event{Kind: EventTimedOut, ID: c.ID, Operation: c.Operation, Elapsed: c.Elapsed})
}

// resolve matches a response id and emits the result. reply interprets the
// response for the operation it answers.
func (m *master) resolve(id uint16, e Event, reply func(Operation) Reply) Event {
	c := m.corr.OnResponse(id)
	recordOutcome(m.role, c)
	recordResponse(m.role)
	e.ID = id
	if c.Outcome == Unmatched {
		e.Kind = EventUnmatched
		m.logger.Debug().Uint16("id", id).Msg("response for unknown or expired request")
		m.emit(e)
		return e
	}
	e.Kind = EventMatched
	e.Operation = c.Operation
	e.Elapsed = c.Elapsed
	e.Reply = reply(c.Operation)
	if e.Reply.Err != nil {
		recordError(m.role, "response")
		m.logger.Info().Uint16("id", id).Err(e.Reply.Err).Msg("request answered with error")
	} else {
		m.logger.Debug().Uint16("id", id).Str("operation", c.Operation.String()).
			Dur("elapsed", c.Elapsed).Msg("request matched")
	}
	m.emit(e)
	return e
}

// PacketMaster issues custom protocol requests to one target device and
// interprets the responses.
type PacketMaster struct {
	master
	target atomic.Uint32
}

// NewPacketMaster creates a host addressing target. A timeout of zero uses
// DefaultPacketTimeout.
func NewPacketMaster(target uint8, timeout time.Duration) *PacketMaster {
	if timeout <= 0 {
		timeout = DefaultPacketTimeout
	}
	m := &PacketMaster{}
	m.init(RoleHost, PacketIDs, timeout)
	m.target.Store(uint32(target))
	return m
}

func (m *PacketMaster) Target() uint8 { return uint8(m.target.Load()) }

// SetTarget changes the device address used by later requests. Address 0
// broadcasts.
func (m *PacketMaster) SetTarget(addr uint8) { m.target.Store(uint32(addr)) }

// Issue allocates an id for op and returns the encoded request to transmit.
// Broadcast requests get an id but are not tracked since no device answers.
func (m *PacketMaster) Issue(op Operation) (uint16, []byte, error) {
	if err := ValidatePacketOperation(op); err != nil {
		return 0, nil, err
	}
	target := m.Target()
	var id uint16
	if target == BroadcastAddress {
		id = m.corr.Reserve()
	} else {
		id = m.corr.Send(op)
	}
	p, err := NewRequestPacket(target, uint8(id), op)
	if err != nil {
		m.corr.Cancel(id)
		return 0, nil, err
	}
	b, err := p.Encode()
	if err != nil {
		m.corr.Cancel(id)
		return 0, nil, err
	}
	recordRequest(m.role)
	m.logger.Debug().Uint16("id", id).Uint8("target", target).Str("operation", op.String()).Msg("request issued")
	return id, b, nil
}

// HandlePacket resolves an inbound packet against the pending requests.
// Packets that are not responses are reported as unmatched.
func (m *PacketMaster) HandlePacket(p *Packet) Event {
	if !p.IsResponse() {
		e := Event{Kind: EventUnmatched, ID: uint16(p.MessageID), Packet: p}
		m.emit(e)
		return e
	}
	return m.resolve(uint16(p.MessageID), Event{Packet: p}, p.Reply)
}

// ModbusMaster issues Read Holding Registers and Write Multiple Registers
// requests to one unit and interprets the responses.
type ModbusMaster struct {
	master
	unitID atomic.Uint32
}

// NewModbusMaster creates a master addressing unitID. A timeout of zero uses
// DefaultModbusTimeout.
func NewModbusMaster(unitID uint8, timeout time.Duration) *ModbusMaster {
	if timeout <= 0 {
		timeout = DefaultModbusTimeout
	}
	m := &ModbusMaster{}
	m.init(RoleMaster, TransactionIDs, timeout)
	m.unitID.Store(uint32(unitID))
	return m
}

func (m *ModbusMaster) UnitID() uint8 { return uint8(m.unitID.Load()) }

func (m *ModbusMaster) SetUnitID(id uint8) { m.unitID.Store(uint32(id)) }

// Issue allocates a transaction id for op and returns the encoded frame.
func (m *ModbusMaster) Issue(op Operation) (uint16, []byte, error) {
	if err := ValidateModbusOperation(op); err != nil {
		return 0, nil, err
	}
	unit := m.UnitID()
	id := m.corr.Send(op)
	f, err := NewRequestFrame(id, unit, op)
	if err != nil {
		m.corr.Cancel(id)
		return 0, nil, err
	}
	b, err := f.Encode()
	if err != nil {
		m.corr.Cancel(id)
		return 0, nil, err
	}
	recordRequest(m.role)
	m.logger.Debug().Uint16("tid", id).Uint8("unit", unit).Str("operation", op.String()).Msg("request issued")
	return id, b, nil
}

// HandleFrame resolves an inbound frame by transaction id.
func (m *ModbusMaster) HandleFrame(f *Frame) Event {
	return m.resolve(f.TransactionID, Event{Frame: f}, f.Reply)
}
