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
	"strings"
)

// FaultMode selects the error a slave injects instead of serving a request.
// The custom protocol and Modbus name the same faults differently.
type FaultMode uint8

const (
	FaultNone FaultMode = iota
	FaultFunction
	FaultAddress
	FaultValue
	FaultDevice
)

var faultNames = map[string]FaultMode{
	"none":                 FaultNone,
	"invalid_function":     FaultFunction,
	"invalid_address":      FaultAddress,
	"invalid_value":        FaultValue,
	"internal_error":       FaultDevice,
	"illegal_function":     FaultFunction,
	"illegal_address":      FaultAddress,
	"illegal_value":        FaultValue,
	"device_failure":       FaultDevice,
	"slave_device_failure": FaultDevice,
}

// ParseFaultMode accepts either protocol's vocabulary.
func ParseFaultMode(s string) (FaultMode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return FaultNone, nil
	}
	if f, ok := faultNames[key]; ok {
		return f, nil
	}
	return FaultNone, fmt.Errorf("unknown fault mode %q", s)
}

// String returns the custom protocol name of the fault.
func (f FaultMode) String() string {
	switch f {
	case FaultFunction:
		return "invalid_function"
	case FaultAddress:
		return "invalid_address"
	case FaultValue:
		return "invalid_value"
	case FaultDevice:
		return "internal_error"
	default:
		return "none"
	}
}

// ModbusName returns the Modbus name of the fault.
func (f FaultMode) ModbusName() string {
	switch f {
	case FaultFunction:
		return "illegal_function"
	case FaultAddress:
		return "illegal_address"
	case FaultValue:
		return "illegal_value"
	case FaultDevice:
		return "device_failure"
	default:
		return "none"
	}
}

func (f FaultMode) ErrorCode() ErrorCode {
	switch f {
	case FaultFunction:
		return ErrCodeInvalidFunction
	case FaultAddress:
		return ErrCodeInvalidAddress
	case FaultValue:
		return ErrCodeInvalidValue
	default:
		return ErrCodeInternal
	}
}

func (f FaultMode) ExceptionCode() ExceptionCode {
	switch f {
	case FaultFunction:
		return ExceptionIllegalFunction
	case FaultAddress:
		return ExceptionIllegalDataAddress
	case FaultValue:
		return ExceptionIllegalDataValue
	default:
		return ExceptionSlaveDeviceFailure
	}
}
