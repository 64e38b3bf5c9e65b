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

const (
	// DefaultDeviceRegisters is the register count of a simulated custom-protocol device.
	DefaultDeviceRegisters = 256
	// DefaultSlaveRegisters is the register count of a simulated Modbus TCP slave.
	DefaultSlaveRegisters = 1000
)

// RegisterMap is a fixed-size block of 16-bit holding registers indexed by address.
// It is not safe for concurrent use; the owning slave serializes access.
type RegisterMap struct {
	cells []uint16
}

// NewRegisterMap creates a zeroed register map with size cells.
func NewRegisterMap(size int) *RegisterMap {
	if size < 0 {
		size = 0
	}
	return &RegisterMap{cells: make([]uint16, size)}
}

// Size returns the number of addressable registers.
func (m *RegisterMap) Size() int {
	return len(m.cells)
}

// Read returns the value at addr, or false when addr is out of range.
func (m *RegisterMap) Read(addr int) (uint16, bool) {
	if addr < 0 || addr >= len(m.cells) {
		return 0, false
	}
	return m.cells[addr], true
}

// Write stores value at addr. Values are taken as int so callers holding
// wider integers get the same range check as every other entry point.
func (m *RegisterMap) Write(addr int, value int) bool {
	if addr < 0 || addr >= len(m.cells) || value < 0 || value > 0xFFFF {
		return false
	}
	m.cells[addr] = uint16(value)
	return true
}

// ReadMultiple returns a copy of count registers starting at addr.
// Protocol specific limits on count are enforced by the caller.
func (m *RegisterMap) ReadMultiple(addr, count int) ([]uint16, bool) {
	if addr < 0 || addr >= len(m.cells) || count < 0 || addr+count > len(m.cells) {
		return nil, false
	}
	out := make([]uint16, count)
	copy(out, m.cells[addr:addr+count])
	return out, true
}

// WriteMultiple stores values starting at addr. Either every value is
// written or none is.
func (m *RegisterMap) WriteMultiple(addr int, values []uint16) bool {
	if addr < 0 || addr >= len(m.cells) || addr+len(values) > len(m.cells) {
		return false
	}
	copy(m.cells[addr:], values)
	return true
}

// Clear zeroes every register.
func (m *RegisterMap) Clear() {
	clear(m.cells)
}

// Snapshot returns a copy of all register values.
func (m *RegisterMap) Snapshot() []uint16 {
	out := make([]uint16, len(m.cells))
	copy(out, m.cells)
	return out
}

// Resize changes the register count. Surviving addresses keep their values,
// new addresses start at zero.
func (m *RegisterMap) Resize(size int) {
	if size < 0 {
		size = 0
	}
	cells := make([]uint16, size)
	copy(cells, m.cells)
	m.cells = cells
}
