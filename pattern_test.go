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

import "testing"

func TestDevicePattern(t *testing.T) {
	m := NewRegisterMap(DefaultDeviceRegisters)
	LoadDevicePattern(m)
	testCases := []struct {
		addr     int
		expected uint16
	}{
		{0x00, 0x0000},
		{0x01, 0x0111},
		{0x0F, 0x0FFF},
		{0x10, 0x1234},
		{0x11, 0xABCD},
		{0x12, 0x5555},
		{0x13, 0xAAAA},
		{0x14, 0x0000},
	}
	for _, tc := range testCases {
		if v, _ := m.Read(tc.addr); v != tc.expected {
			t.Errorf("register %#02x: got %#04x, expected %#04x", tc.addr, v, tc.expected)
		}
	}
}

func TestPowerSupplyPattern(t *testing.T) {
	m := NewRegisterMap(DefaultSlaveRegisters)
	LoadPowerSupplyPattern(m)
	testCases := []struct {
		name     string
		addr     int
		expected uint16
	}{
		{"serial number", 0x00, 0x1234},
		{"serial number tail", 0x03, 0xDEF0},
		{"part number", 0x04, 0x5000},
		{"firmware year", 0x0A, 0x2024},
		{"voltage limit", 0x0D, 5000},
		{"max temperature", 0x17, 350},
		{"power limit", 0x19, 1300},
		{"channel 0 set", 0x1A, 1000},
		{"channel 0 measured", 0x1B, 12000},
		{"channel 0 state", 0x1C, 1},
		{"channel 9 set", 0x1A + 27, 1900},
		{"channel 9 state", 0x1A + 29, 0},
		{"temperature 2", 0x3A, 600},
		{"current limit 3", 0x45, 2300},
		{"channel 4 enabled", 0x50, 1},
		{"channel 5 disabled", 0x51, 0},
	}
	for _, tc := range testCases {
		if v, _ := m.Read(tc.addr); v != tc.expected {
			t.Errorf("%s (%#02x): got %d, expected %d", tc.name, tc.addr, v, tc.expected)
		}
	}
}

func TestPowerSupplyPatternOnSmallMap(t *testing.T) {
	m := NewRegisterMap(8)
	LoadPowerSupplyPattern(m)
	if v, _ := m.Read(0); v != 0x1234 {
		t.Errorf("register 0: got %#04x", v)
	}
}

func TestParsePattern(t *testing.T) {
	if p, err := ParsePattern(""); err != nil || p != nil {
		t.Errorf("empty pattern: %v, %v", p != nil, err)
	}
	if p, err := ParsePattern("Power_Supply"); err != nil || p == nil {
		t.Errorf("power_supply pattern not found: %v", err)
	}
	if _, err := ParsePattern("sawtooth"); err == nil {
		t.Errorf("expected error for unknown pattern")
	}
}
