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
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// SlaveStats counts what a slave has seen since it was created or reset.
type SlaveStats struct {
	Requests   uint64 `json:"requests"`
	Responses  uint64 `json:"responses"`
	Errors     uint64 `json:"errors"`
	Injected   uint64 `json:"injected"`
	Filtered   uint64 `json:"filtered"`
	Broadcasts uint64 `json:"broadcasts"`
}

// slave owns a register map and the state shared by both protocol slaves.
// mu serializes request handling with outside access to the registers.
type slave struct {
	eventHook
	mu     sync.Mutex
	role   string
	regs   *RegisterMap
	fault  FaultMode
	stats  SlaveStats
	logger zerolog.Logger
}

func (s *slave) init(role string, regs *RegisterMap) {
	s.role = role
	s.regs = regs
	s.logger = zerolog.Nop()
}

func (s *slave) SetLogger(logger zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Registers runs fn with exclusive access to the register map.
func (s *slave) Registers(fn func(*RegisterMap)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.regs)
}

// Snapshot copies the current register values.
func (s *slave) Snapshot() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs.Snapshot()
}

// SetFault arms error injection; FaultNone disarms it.
func (s *slave) SetFault(f FaultMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *slave) Fault() FaultMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

func (s *slave) Stats() SlaveStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *slave) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = SlaveStats{}
}

func (s *slave) countError(kind string) {
	s.stats.Errors++
	recordError(s.role, kind)
}

func (s *slave) countResponse() {
	s.stats.Responses++
	recordResponse(s.role)
}

// PacketSlave simulates a custom protocol device at one bus address.
type PacketSlave struct {
	slave
	address uint8
}

// NewPacketSlave creates a device answering at address. A nil regs gets a
// map of DefaultDeviceRegisters.
func NewPacketSlave(address uint8, regs *RegisterMap) *PacketSlave {
	if regs == nil {
		regs = NewRegisterMap(DefaultDeviceRegisters)
	}
	s := &PacketSlave{address: address}
	s.init(RoleDevice, regs)
	return s
}

func (s *PacketSlave) Address() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

func (s *PacketSlave) SetAddress(addr uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = addr
}

// HandlePacket serves one decoded request and returns the response to send,
// or nil when nothing must be sent: the packet was for another device, was a
// broadcast, or was itself a response.
func (s *PacketSlave) HandlePacket(p *Packet) *Packet {
	s.mu.Lock()
	resp, ev := s.handle(p)
	s.mu.Unlock()
	if ev != nil {
		s.emit(*ev)
	}
	return resp
}

func (s *PacketSlave) handle(p *Packet) (*Packet, *Event) {
	if p.IsResponse() {
		s.logger.Debug().Uint8("id", p.MessageID).Msg("ignoring response packet")
		return nil, nil
	}
	if p.Address != s.address && !p.IsBroadcast() {
		s.stats.Filtered++
		s.logger.Debug().Uint8("addr", p.Address).Uint8("own", s.address).Msg("packet for another device")
		return nil, &Event{Kind: EventAddressFiltered, ID: uint16(p.MessageID), Packet: p}
	}
	s.stats.Requests++
	recordRequest(s.role)
	if s.fault != FaultNone {
		s.stats.Injected++
		s.countError("injected")
		resp := NewErrorResponse(p, s.fault.ErrorCode())
		s.logger.Info().Uint8("id", p.MessageID).Str("fault", s.fault.String()).Msg("injecting error response")
		ev := &Event{Kind: EventErrorInjected, ID: uint16(p.MessageID), Packet: p}
		if p.IsBroadcast() {
			s.stats.Broadcasts++
			return nil, ev
		}
		s.countResponse()
		return resp, ev
	}
	resp := s.dispatch(p)
	if p.IsBroadcast() {
		s.stats.Broadcasts++
		return nil, nil
	}
	s.countResponse()
	return resp, nil
}

func (s *PacketSlave) dispatch(p *Packet) *Packet {
	op, err := p.Operation()
	if err != nil {
		var pe *PacketError
		if errors.As(err, &pe) {
			s.countError("function")
			return NewErrorResponse(p, pe.Code)
		}
		s.countError("value")
		s.logger.Debug().Err(err).Msg("malformed request")
		return NewErrorResponse(p, ErrCodeInvalidValue)
	}
	addr := int(op.Address)
	switch op.Kind {
	case OpReadSingle:
		if v, ok := s.regs.Read(addr); ok {
			return NewReadSingleResponse(p, op.Address, v)
		}
	case OpWriteSingle:
		if s.regs.Write(addr, int(op.Values[0])) {
			return NewWriteSingleResponse(p, op.Address, op.Values[0])
		}
	case OpReadMultiple:
		if op.Count < 1 || op.Count > MaxPacketRegisters {
			s.countError("value")
			return NewErrorResponse(p, ErrCodeInvalidValue)
		}
		if values, ok := s.regs.ReadMultiple(addr, op.Count); ok {
			return NewReadMultipleResponse(p, op.Address, values)
		}
	case OpWriteMultiple:
		if op.Count < 1 {
			s.countError("value")
			return NewErrorResponse(p, ErrCodeInvalidValue)
		}
		if s.regs.WriteMultiple(addr, op.Values) {
			return NewWriteMultipleResponse(p, op.Address, uint8(op.Count))
		}
	}
	s.countError("address")
	return NewErrorResponse(p, ErrCodeInvalidAddress)
}

// ModbusSlave simulates a single-unit Modbus TCP slave. It answers every
// unit id.
type ModbusSlave struct {
	slave
}

// NewModbusSlave creates a slave. A nil regs gets a map of DefaultSlaveRegisters.
func NewModbusSlave(regs *RegisterMap) *ModbusSlave {
	if regs == nil {
		regs = NewRegisterMap(DefaultSlaveRegisters)
	}
	s := &ModbusSlave{}
	s.init(RoleSlave, regs)
	return s
}

// HandleFrame serves one decoded request frame and returns the response.
func (s *ModbusSlave) HandleFrame(f *Frame) *Frame {
	s.mu.Lock()
	resp, ev := s.handle(f)
	s.mu.Unlock()
	if ev != nil {
		s.emit(*ev)
	}
	return resp
}

func (s *ModbusSlave) handle(f *Frame) (*Frame, *Event) {
	s.stats.Requests++
	recordRequest(s.role)
	if s.fault != FaultNone {
		s.stats.Injected++
		s.countError("injected")
		s.countResponse()
		s.logger.Info().Uint16("tid", f.TransactionID).Str("fault", s.fault.ModbusName()).Msg("injecting exception response")
		return NewExceptionResponse(f, s.fault.ExceptionCode()),
			&Event{Kind: EventErrorInjected, ID: f.TransactionID, Frame: f}
	}
	resp := s.dispatch(f)
	s.countResponse()
	return resp, nil
}

func (s *ModbusSlave) dispatch(f *Frame) *Frame {
	op, err := f.Operation()
	if err != nil {
		var me *ModbusError
		code := ExceptionSlaveDeviceFailure
		if errors.As(err, &me) {
			code = me.ExceptionCode
		}
		s.countError("exception")
		s.logger.Debug().Uint16("tid", f.TransactionID).Err(err).Msg("rejecting request")
		return NewExceptionResponse(f, code)
	}
	switch op.Kind {
	case OpReadMultiple:
		if values, ok := s.regs.ReadMultiple(int(op.Address), op.Count); ok {
			return NewReadHoldingRegistersResponse(f, values)
		}
	case OpWriteMultiple:
		if s.regs.WriteMultiple(int(op.Address), op.Values) {
			return NewWriteMultipleRegistersResponse(f, op.Address, uint16(op.Count))
		}
	}
	s.countError("address")
	return NewExceptionResponse(f, ExceptionIllegalDataAddress)
}
