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
	"fmt"
	"strconv"
	"strings"
)

// OpKind identifies one of the four register operations a master can issue.
type OpKind uint8

const (
	OpReadSingle OpKind = iota + 1
	OpWriteSingle
	OpReadMultiple
	OpWriteMultiple
)

func (k OpKind) String() string {
	switch k {
	case OpReadSingle:
		return "read_single"
	case OpWriteSingle:
		return "write_single"
	case OpReadMultiple:
		return "read_multiple"
	case OpWriteMultiple:
		return "write_multiple"
	default:
		return "unknown"
	}
}

// Operation describes a register request and is kept with the pending
// request so the eventual response can be interpreted.
type Operation struct {
	Kind    OpKind
	Address uint16
	Count   int
	Values  []uint16
}

func ReadSingle(addr uint16) Operation {
	return Operation{Kind: OpReadSingle, Address: addr, Count: 1}
}

func WriteSingle(addr, value uint16) Operation {
	return Operation{Kind: OpWriteSingle, Address: addr, Count: 1, Values: []uint16{value}}
}

func ReadMultiple(addr uint16, count int) Operation {
	return Operation{Kind: OpReadMultiple, Address: addr, Count: count}
}

func WriteMultiple(addr uint16, values []uint16) Operation {
	return Operation{Kind: OpWriteMultiple, Address: addr, Count: len(values), Values: values}
}

func (op Operation) String() string {
	switch op.Kind {
	case OpReadSingle:
		return fmt.Sprintf("read 0x%04X", op.Address)
	case OpWriteSingle:
		if len(op.Values) == 1 {
			return fmt.Sprintf("write 0x%04X=0x%04X", op.Address, op.Values[0])
		}
	case OpReadMultiple:
		return fmt.Sprintf("read 0x%04X x%d", op.Address, op.Count)
	case OpWriteMultiple:
		return fmt.Sprintf("write 0x%04X x%d", op.Address, len(op.Values))
	}
	return fmt.Sprintf("%s 0x%04X", op.Kind, op.Address)
}

// Reply is the interpreted result of a matched response. Err is set when the
// peer answered with an error packet or exception frame.
type Reply struct {
	Address uint16
	Count   int
	Values  []uint16
	Err     error
}

var (
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrUnexpectedResponse reports a response whose shape does not fit the request.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// ParseOperation reads the textual operation form used by the command line
// and the inspect API:
//
//	read ADDR            read one register
//	read ADDR COUNT      read COUNT registers
//	write ADDR VALUE     write one register
//	write ADDR V1 V2...  write consecutive registers
//	writen ADDR V1...    write multiple, even for a single value
//
// Numbers accept Go literal prefixes such as 0x.
func ParseOperation(s string) (Operation, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return Operation{}, fmt.Errorf("%w: %q", ErrInvalidOperation, s)
	}
	addr, err := parseWord(fields[1])
	if err != nil {
		return Operation{}, fmt.Errorf("%w: address: %v", ErrInvalidOperation, err)
	}
	args := fields[2:]
	switch strings.ToLower(fields[0]) {
	case "read", "r":
		switch len(args) {
		case 0:
			return ReadSingle(addr), nil
		case 1:
			count, err := strconv.ParseUint(args[0], 0, 16)
			if err != nil {
				return Operation{}, fmt.Errorf("%w: count: %v", ErrInvalidOperation, err)
			}
			return ReadMultiple(addr, int(count)), nil
		}
	case "write", "w":
		values, err := parseWords(args)
		if err != nil {
			return Operation{}, err
		}
		if len(values) == 1 {
			return WriteSingle(addr, values[0]), nil
		}
		if len(values) > 1 {
			return WriteMultiple(addr, values), nil
		}
	case "writen", "wn":
		values, err := parseWords(args)
		if err != nil {
			return Operation{}, err
		}
		if len(values) > 0 {
			return WriteMultiple(addr, values), nil
		}
	}
	return Operation{}, fmt.Errorf("%w: %q", ErrInvalidOperation, s)
}

func parseWord(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseWords(args []string) ([]uint16, error) {
	values := make([]uint16, 0, len(args))
	for _, a := range args {
		v, err := parseWord(a)
		if err != nil {
			return nil, fmt.Errorf("%w: value: %v", ErrInvalidOperation, err)
		}
		values = append(values, v)
	}
	return values, nil
}
