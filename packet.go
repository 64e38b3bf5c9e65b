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
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	PacketStartFlag    = 0x7E
	PacketHeaderLength = 4 // start flag, address, message id, length
	MinPacketLength    = 7
	// MaxPacketData is the payload limit imposed by the one byte length field.
	MaxPacketData = 254
	// MaxPacketRegisters is the most register values a read or write multiple
	// payload can carry within MaxPacketData.
	MaxPacketRegisters = (MaxPacketData - 3) / 2
	BroadcastAddress   = 0
	MaxDeviceAddress   = 247
)

// Custom protocol function codes.
const (
	FuncReadSingle    uint8 = 0x01
	FuncWriteSingle   uint8 = 0x02
	FuncReadMultiple  uint8 = 0x03
	FuncWriteMultiple uint8 = 0x04

	ResponseFlag uint8 = 0x40
	ErrorFlag    uint8 = 0x80
)

var (
	ErrShortPacket  = errors.New("packet shorter than minimum length")
	ErrStartFlag    = errors.New("packet does not begin with start flag")
	ErrPacketLength = errors.New("packet length field exceeds available bytes")
	ErrChecksum     = errors.New("packet checksum mismatch")
	ErrPacketData   = errors.New("packet data too long")
	// ErrMalformedPayload reports a request whose data does not fit its function code.
	ErrMalformedPayload = errors.New("malformed payload")
)

// ErrorCode is the single byte carried by a custom protocol error response.
type ErrorCode uint8

const (
	ErrCodeInvalidFunction ErrorCode = 0x01
	ErrCodeInvalidAddress  ErrorCode = 0x02
	ErrCodeInvalidValue    ErrorCode = 0x03
	ErrCodeInternal        ErrorCode = 0xFF
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeInvalidFunction:
		return "Invalid or unsupported function"
	case ErrCodeInvalidAddress:
		return "Invalid register address"
	case ErrCodeInvalidValue:
		return "Invalid register value"
	case ErrCodeInternal:
		return "Internal/unspecified error"
	default:
		return fmt.Sprintf("Unknown error code 0x%02X", uint8(c))
	}
}

// PacketError is a device's error response delivered to the requester.
type PacketError struct {
	FunctionCode uint8
	Code         ErrorCode
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("device error: function 0x%02X: %s (0x%02X)", e.FunctionCode, e.Code, uint8(e.Code))
}

// Packet is one custom protocol message:
//
//	[0x7E][address][message id][len(data)+1][function][data...][chk hi][chk lo]
//
// The checksum is Fletcher-16 over every byte before it.
type Packet struct {
	Address      uint8
	MessageID    uint8
	FunctionCode uint8
	Data         []byte
	Checksum     uint16
}

// Encode serializes the packet and stores the recomputed checksum in p.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Data) > MaxPacketData {
		return nil, fmt.Errorf("%w: %d bytes, maximum %d", ErrPacketData, len(p.Data), MaxPacketData)
	}
	buf := make([]byte, 0, MinPacketLength+len(p.Data))
	buf = append(buf, PacketStartFlag, p.Address, p.MessageID, byte(len(p.Data)+1), p.FunctionCode)
	buf = append(buf, p.Data...)
	p.Checksum = Fletcher16(buf)
	return binary.BigEndian.AppendUint16(buf, p.Checksum), nil
}

// DecodePacket parses exactly one packet from the start of b. Bytes past the
// declared length are ignored.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < MinPacketLength {
		return nil, ErrShortPacket
	}
	if b[0] != PacketStartFlag {
		return nil, ErrStartFlag
	}
	total := packetLength(b[3])
	if b[3] == 0 || total > len(b) {
		return nil, ErrPacketLength
	}
	received := binary.BigEndian.Uint16(b[total-2 : total])
	if sum := Fletcher16(b[:total-2]); sum != received {
		return nil, fmt.Errorf("%w: computed 0x%04X, received 0x%04X", ErrChecksum, sum, received)
	}
	p := &Packet{
		Address:      b[1],
		MessageID:    b[2],
		FunctionCode: b[4],
		Checksum:     received,
	}
	if total-2 > 5 {
		p.Data = append([]byte(nil), b[5:total-2]...)
	}
	return p, nil
}

// packetLength is the full frame size implied by a length byte.
func packetLength(length byte) int {
	return 6 + int(length)
}

func (p *Packet) IsBroadcast() bool { return p.Address == BroadcastAddress }
func (p *Packet) IsError() bool     { return p.FunctionCode&ErrorFlag != 0 }
func (p *Packet) IsResponse() bool  { return p.FunctionCode&(ResponseFlag|ErrorFlag) != 0 }

// RequestFunction strips the response and error flags.
func (p *Packet) RequestFunction() uint8 {
	return p.FunctionCode &^ (ResponseFlag | ErrorFlag)
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet addr=%d id=%d func=0x%02X data=% X", p.Address, p.MessageID, p.FunctionCode, p.Data)
}

func NewReadSingleRequest(addr, id uint8, reg uint16) *Packet {
	return &Packet{Address: addr, MessageID: id, FunctionCode: FuncReadSingle, Data: be16(reg)}
}

func NewWriteSingleRequest(addr, id uint8, reg, value uint16) *Packet {
	return &Packet{Address: addr, MessageID: id, FunctionCode: FuncWriteSingle, Data: be16(reg, value)}
}

func NewReadMultipleRequest(addr, id uint8, reg uint16, count uint8) *Packet {
	return &Packet{Address: addr, MessageID: id, FunctionCode: FuncReadMultiple, Data: append(be16(reg), count)}
}

func NewWriteMultipleRequest(addr, id uint8, reg uint16, values []uint16) *Packet {
	data := append(be16(reg), byte(len(values)))
	return &Packet{Address: addr, MessageID: id, FunctionCode: FuncWriteMultiple, Data: append(data, be16(values...)...)}
}

func NewReadSingleResponse(req *Packet, reg, value uint16) *Packet {
	return newResponse(req, FuncReadSingle|ResponseFlag, be16(reg, value))
}

func NewWriteSingleResponse(req *Packet, reg, value uint16) *Packet {
	return newResponse(req, FuncWriteSingle|ResponseFlag, be16(reg, value))
}

func NewReadMultipleResponse(req *Packet, reg uint16, values []uint16) *Packet {
	data := append(be16(reg), byte(len(values)))
	return newResponse(req, FuncReadMultiple|ResponseFlag, append(data, be16(values...)...))
}

func NewWriteMultipleResponse(req *Packet, reg uint16, count uint8) *Packet {
	return newResponse(req, FuncWriteMultiple|ResponseFlag, append(be16(reg), count))
}

// NewErrorResponse answers req with the error flag set and a single code byte.
func NewErrorResponse(req *Packet, code ErrorCode) *Packet {
	return newResponse(req, req.RequestFunction()|ErrorFlag, []byte{byte(code)})
}

func newResponse(req *Packet, fc uint8, data []byte) *Packet {
	return &Packet{Address: req.Address, MessageID: req.MessageID, FunctionCode: fc, Data: data}
}

// NewRequestPacket builds the request packet for op after checking that it
// and its response fit the wire format.
func NewRequestPacket(addr, id uint8, op Operation) (*Packet, error) {
	if err := ValidatePacketOperation(op); err != nil {
		return nil, err
	}
	switch op.Kind {
	case OpReadSingle:
		return NewReadSingleRequest(addr, id, op.Address), nil
	case OpWriteSingle:
		return NewWriteSingleRequest(addr, id, op.Address, op.Values[0]), nil
	case OpReadMultiple:
		return NewReadMultipleRequest(addr, id, op.Address, uint8(op.Count)), nil
	default:
		return NewWriteMultipleRequest(addr, id, op.Address, op.Values), nil
	}
}

// ValidatePacketOperation checks op against the custom protocol limits.
func ValidatePacketOperation(op Operation) error {
	switch op.Kind {
	case OpReadSingle:
		return nil
	case OpWriteSingle:
		if len(op.Values) != 1 {
			return fmt.Errorf("%w: write single needs one value", ErrInvalidOperation)
		}
		return nil
	case OpReadMultiple:
		if op.Count < 1 || op.Count > MaxPacketRegisters {
			return fmt.Errorf("%w: read count %d outside 1-%d", ErrInvalidOperation, op.Count, MaxPacketRegisters)
		}
		return nil
	case OpWriteMultiple:
		if len(op.Values) < 1 || len(op.Values) > MaxPacketRegisters {
			return fmt.Errorf("%w: write count %d outside 1-%d", ErrInvalidOperation, len(op.Values), MaxPacketRegisters)
		}
		return nil
	}
	return fmt.Errorf("%w: kind %d", ErrInvalidOperation, op.Kind)
}

// Operation decodes a request packet's payload. Unsupported function codes
// report ErrCodeInvalidFunction through a *PacketError; short or inconsistent
// payloads report ErrMalformedPayload.
func (p *Packet) Operation() (Operation, error) {
	d := p.Data
	switch p.FunctionCode {
	case FuncReadSingle:
		if len(d) < 2 {
			break
		}
		return ReadSingle(binary.BigEndian.Uint16(d)), nil
	case FuncWriteSingle:
		if len(d) < 4 {
			break
		}
		return WriteSingle(binary.BigEndian.Uint16(d), binary.BigEndian.Uint16(d[2:])), nil
	case FuncReadMultiple:
		if len(d) < 3 {
			break
		}
		return ReadMultiple(binary.BigEndian.Uint16(d), int(d[2])), nil
	case FuncWriteMultiple:
		if len(d) < 3 || len(d) < 3+2*int(d[2]) {
			break
		}
		return WriteMultiple(binary.BigEndian.Uint16(d), words(d[3:3+2*int(d[2])])), nil
	default:
		return Operation{}, &PacketError{FunctionCode: p.FunctionCode, Code: ErrCodeInvalidFunction}
	}
	return Operation{}, fmt.Errorf("%w: function 0x%02X with %d data bytes", ErrMalformedPayload, p.FunctionCode, len(d))
}

// Reply interprets a response packet against the operation that caused it.
func (p *Packet) Reply(op Operation) Reply {
	r := Reply{Address: op.Address}
	if p.IsError() {
		code := ErrCodeInternal
		if len(p.Data) > 0 {
			code = ErrorCode(p.Data[0])
		}
		r.Err = &PacketError{FunctionCode: p.RequestFunction(), Code: code}
		return r
	}
	want := packetFunction(op.Kind) | ResponseFlag
	if p.FunctionCode != want {
		r.Err = fmt.Errorf("%w: function 0x%02X, expected 0x%02X", ErrUnexpectedResponse, p.FunctionCode, want)
		return r
	}
	d := p.Data
	switch op.Kind {
	case OpReadSingle, OpWriteSingle:
		if len(d) < 4 {
			break
		}
		r.Address = binary.BigEndian.Uint16(d)
		r.Count = 1
		r.Values = []uint16{binary.BigEndian.Uint16(d[2:])}
		return r
	case OpReadMultiple:
		if len(d) < 3 || len(d) < 3+2*int(d[2]) {
			break
		}
		r.Address = binary.BigEndian.Uint16(d)
		r.Count = int(d[2])
		r.Values = words(d[3 : 3+2*r.Count])
		return r
	case OpWriteMultiple:
		if len(d) < 3 {
			break
		}
		r.Address = binary.BigEndian.Uint16(d)
		r.Count = int(d[2])
		return r
	}
	r.Err = fmt.Errorf("%w: %d data bytes for %s", ErrUnexpectedResponse, len(d), op.Kind)
	return r
}

func packetFunction(k OpKind) uint8 {
	switch k {
	case OpReadSingle:
		return FuncReadSingle
	case OpWriteSingle:
		return FuncWriteSingle
	case OpReadMultiple:
		return FuncReadMultiple
	case OpWriteMultiple:
		return FuncWriteMultiple
	}
	return 0
}

// be16 encodes words big-endian.
func be16(words ...uint16) []byte {
	out := make([]byte, 0, 2*len(words))
	for _, w := range words {
		out = binary.BigEndian.AppendUint16(out, w)
	}
	return out
}

// words decodes big-endian words; a trailing odd byte is ignored.
func words(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return out
}
