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
	MBAPHeaderLength = 7 // transaction id, protocol id, length, unit id
	MinFrameLength   = MBAPHeaderLength + 1
	MaxPDULength     = 253
	// MaxFrameData is the PDU payload after the function code.
	MaxFrameData          = MaxPDULength - 1
	ProtocolIdentifierTCP = 0x0000

	FuncReadHoldingRegisters   uint8 = 0x03
	FuncWriteMultipleRegisters uint8 = 0x10
	ExceptionFlag              uint8 = 0x80

	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
)

var (
	ErrShortFrame  = errors.New("frame shorter than MBAP header and function code")
	ErrProtocolID  = errors.New("frame protocol identifier is not Modbus")
	ErrFrameLength = errors.New("frame length field does not match available bytes")
	ErrFrameData   = errors.New("frame data too long")
)

// ExceptionCode is the single byte of a Modbus exception response.
type ExceptionCode uint8

const (
	ExceptionIllegalFunction    ExceptionCode = 0x01
	ExceptionIllegalDataAddress ExceptionCode = 0x02
	ExceptionIllegalDataValue   ExceptionCode = 0x03
	ExceptionSlaveDeviceFailure ExceptionCode = 0x04
)

func (c ExceptionCode) String() string {
	switch c {
	case ExceptionIllegalFunction:
		return "Illegal function"
	case ExceptionIllegalDataAddress:
		return "Illegal data address"
	case ExceptionIllegalDataValue:
		return "Illegal data value"
	case ExceptionSlaveDeviceFailure:
		return "Slave device failure"
	default:
		return "Unknown exception code"
	}
}

// ModbusError is an exception response returned by a slave.
type ModbusError struct {
	FunctionCode  uint8
	ExceptionCode ExceptionCode
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception response: function 0x%02X, code 0x%02X - %s",
		e.FunctionCode, uint8(e.ExceptionCode), e.ExceptionCode)
}

// Frame is one Modbus TCP application data unit. Length counts the unit id,
// the function code and Data.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

// Encode serializes the frame, recomputing and storing Length.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Data) > MaxFrameData {
		return nil, fmt.Errorf("%w: PDU length %d exceeds maximum %d bytes", ErrFrameData, len(f.Data)+1, MaxPDULength)
	}
	f.Length = uint16(len(f.Data) + 2)
	buf := make([]byte, MinFrameLength, MinFrameLength+len(f.Data))
	binary.BigEndian.PutUint16(buf[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(buf[4:6], f.Length)
	buf[6] = f.UnitID
	buf[7] = f.FunctionCode
	return append(buf, f.Data...), nil
}

// DecodeFrame parses exactly one frame from the start of b. Bytes past the
// declared length are ignored.
func DecodeFrame(b []byte) (*Frame, error) {
	if len(b) < MinFrameLength {
		return nil, ErrShortFrame
	}
	protocolID := binary.BigEndian.Uint16(b[2:4])
	if protocolID != ProtocolIdentifierTCP {
		return nil, fmt.Errorf("%w: 0x%04X", ErrProtocolID, protocolID)
	}
	length := binary.BigEndian.Uint16(b[4:6])
	if length < 2 || 6+int(length) > len(b) {
		return nil, fmt.Errorf("%w: header indicates %d, %d bytes follow", ErrFrameLength, length, len(b)-6)
	}
	f := &Frame{
		TransactionID: binary.BigEndian.Uint16(b[0:2]),
		ProtocolID:    protocolID,
		Length:        length,
		UnitID:        b[6],
		FunctionCode:  b[7],
	}
	if end := 6 + int(length); end > MinFrameLength {
		f.Data = append([]byte(nil), b[MinFrameLength:end]...)
	}
	return f, nil
}

func (f *Frame) IsException() bool { return f.FunctionCode&ExceptionFlag != 0 }

func (f *Frame) String() string {
	return fmt.Sprintf("frame tid=%d unit=%d func=0x%02X data=% X", f.TransactionID, f.UnitID, f.FunctionCode, f.Data)
}

func NewReadHoldingRegistersRequest(tid uint16, unit uint8, start, count uint16) *Frame {
	return &Frame{TransactionID: tid, UnitID: unit, FunctionCode: FuncReadHoldingRegisters, Data: be16(start, count)}
}

func NewReadHoldingRegistersResponse(req *Frame, values []uint16) *Frame {
	data := append([]byte{byte(2 * len(values))}, be16(values...)...)
	return newFrameResponse(req, FuncReadHoldingRegisters, data)
}

func NewWriteMultipleRegistersRequest(tid uint16, unit uint8, start uint16, values []uint16) *Frame {
	data := append(be16(start, uint16(len(values))), byte(2*len(values)))
	return &Frame{TransactionID: tid, UnitID: unit, FunctionCode: FuncWriteMultipleRegisters, Data: append(data, be16(values...)...)}
}

func NewWriteMultipleRegistersResponse(req *Frame, start, count uint16) *Frame {
	return newFrameResponse(req, FuncWriteMultipleRegisters, be16(start, count))
}

// NewExceptionResponse answers req with the exception flag and code.
func NewExceptionResponse(req *Frame, code ExceptionCode) *Frame {
	return newFrameResponse(req, (req.FunctionCode&^ExceptionFlag)|ExceptionFlag, []byte{byte(code)})
}

func newFrameResponse(req *Frame, fc uint8, data []byte) *Frame {
	return &Frame{TransactionID: req.TransactionID, UnitID: req.UnitID, FunctionCode: fc, Data: data}
}

// ValidateModbusOperation checks op against the Modbus register limits.
// Single register operations travel as function 0x03 and 0x10 with a count of one.
func ValidateModbusOperation(op Operation) error {
	switch op.Kind {
	case OpReadSingle:
		return nil
	case OpWriteSingle:
		if len(op.Values) != 1 {
			return fmt.Errorf("%w: write single needs one value", ErrInvalidOperation)
		}
		return nil
	case OpReadMultiple:
		if op.Count < 1 || op.Count > MaxReadRegisters {
			return fmt.Errorf("%w: read count %d outside 1-%d", ErrInvalidOperation, op.Count, MaxReadRegisters)
		}
		return nil
	case OpWriteMultiple:
		if len(op.Values) < 1 || len(op.Values) > MaxWriteRegisters {
			return fmt.Errorf("%w: write count %d outside 1-%d", ErrInvalidOperation, len(op.Values), MaxWriteRegisters)
		}
		return nil
	}
	return fmt.Errorf("%w: kind %d", ErrInvalidOperation, op.Kind)
}

// NewRequestFrame builds the request frame for op.
func NewRequestFrame(tid uint16, unit uint8, op Operation) (*Frame, error) {
	if err := ValidateModbusOperation(op); err != nil {
		return nil, err
	}
	switch op.Kind {
	case OpReadSingle:
		return NewReadHoldingRegistersRequest(tid, unit, op.Address, 1), nil
	case OpReadMultiple:
		return NewReadHoldingRegistersRequest(tid, unit, op.Address, uint16(op.Count)), nil
	default:
		return NewWriteMultipleRegistersRequest(tid, unit, op.Address, op.Values), nil
	}
}

// Operation decodes a request frame. Every failure is a *ModbusError carrying
// the exception a slave should answer with.
func (f *Frame) Operation() (Operation, error) {
	d := f.Data
	switch f.FunctionCode {
	case FuncReadHoldingRegisters:
		if len(d) < 4 {
			break
		}
		count := int(binary.BigEndian.Uint16(d[2:]))
		if count < 1 || count > MaxReadRegisters {
			break
		}
		return ReadMultiple(binary.BigEndian.Uint16(d), count), nil
	case FuncWriteMultipleRegisters:
		if len(d) < 5 {
			break
		}
		count := int(binary.BigEndian.Uint16(d[2:]))
		byteCount := int(d[4])
		if count < 1 || count > MaxWriteRegisters || byteCount != 2*count || len(d) < 5+byteCount {
			break
		}
		return WriteMultiple(binary.BigEndian.Uint16(d), words(d[5:5+byteCount])), nil
	default:
		return Operation{}, &ModbusError{FunctionCode: f.FunctionCode, ExceptionCode: ExceptionIllegalFunction}
	}
	return Operation{}, &ModbusError{FunctionCode: f.FunctionCode, ExceptionCode: ExceptionIllegalDataValue}
}

// Reply interprets a response frame against the operation that caused it.
func (f *Frame) Reply(op Operation) Reply {
	r := Reply{Address: op.Address}
	if f.IsException() {
		code := ExceptionSlaveDeviceFailure
		if len(f.Data) > 0 {
			code = ExceptionCode(f.Data[0])
		}
		r.Err = &ModbusError{FunctionCode: f.FunctionCode &^ ExceptionFlag, ExceptionCode: code}
		return r
	}
	d := f.Data
	switch op.Kind {
	case OpReadSingle, OpReadMultiple:
		if f.FunctionCode != FuncReadHoldingRegisters || len(d) < 1 || len(d) < 1+int(d[0]) {
			break
		}
		r.Values = words(d[1 : 1+int(d[0])])
		r.Count = len(r.Values)
		return r
	case OpWriteSingle, OpWriteMultiple:
		if f.FunctionCode != FuncWriteMultipleRegisters || len(d) < 4 {
			break
		}
		r.Address = binary.BigEndian.Uint16(d)
		r.Count = int(binary.BigEndian.Uint16(d[2:]))
		return r
	}
	r.Err = fmt.Errorf("%w: function 0x%02X with %d data bytes for %s", ErrUnexpectedResponse, f.FunctionCode, len(d), op.Kind)
	return r
}
