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

// Pattern fills a register map with a known set of values.
type Pattern func(m *RegisterMap)

// Power supply register layout used by LoadPowerSupplyPattern.
const (
	psSerialNumber   = 0x00
	psPartNumber     = 0x04
	psFirmware       = 0x07
	psVoltageLimit   = 0x0D
	psMaxTemperature = 0x17
	psMaxPower       = 0x18
	psPowerLimit     = 0x19
	psChannelBase    = 0x1A
	psTemperature    = 0x38
	psCurrentLimit   = 0x42
	psChannelEnable  = 0x4C
	psChannels       = 10
)

// LoadDevicePattern writes the custom device test pattern: a ramp in the
// first sixteen registers followed by four fixed markers.
func LoadDevicePattern(m *RegisterMap) {
	for i := 0; i < 16; i++ {
		m.Write(i, ((i&0xFF)<<8)|((i*0x11)&0xFF))
	}
	m.Write(0x10, 0x1234)
	m.Write(0x11, 0xABCD)
	m.Write(0x12, 0x5555)
	m.Write(0x13, 0xAAAA)
}

// LoadPowerSupplyPattern writes the identity, limits and channel state of a
// ten channel power supply. Writes past the end of a small map are ignored.
func LoadPowerSupplyPattern(m *RegisterMap) {
	m.WriteMultiple(psSerialNumber, []uint16{0x1234, 0x5678, 0x9ABC, 0xDEF0})
	m.WriteMultiple(psPartNumber, []uint16{0x5000, 0x0102, 0x0001})
	m.WriteMultiple(psFirmware, []uint16{1, 2, 3, 0x2024, 0x0811, 0x1234})
	for ch := 0; ch < psChannels; ch++ {
		m.Write(psVoltageLimit+ch, 5000)
	}
	m.Write(psMaxTemperature, 350)
	m.Write(psMaxPower, 1200)
	m.Write(psPowerLimit, 1300)
	for ch := 0; ch < psChannels; ch++ {
		base := psChannelBase + ch*3
		state := 0
		if ch < 5 {
			state = 1
		}
		m.Write(base, 1000+ch*100)
		m.Write(base+1, 12000+ch*100)
		m.Write(base+2, state)
	}
	for i := 0; i < psChannels; i++ {
		m.Write(psTemperature+i, 500+i*50)
	}
	for ch := 0; ch < psChannels; ch++ {
		m.Write(psCurrentLimit+ch, 2000+ch*100)
		enabled := 0
		if ch < 5 {
			enabled = 1
		}
		m.Write(psChannelEnable+ch, enabled)
	}
}

var patterns = map[string]Pattern{
	"device":       LoadDevicePattern,
	"power_supply": LoadPowerSupplyPattern,
}

// ParsePattern resolves a pattern name. The empty name and "none" return nil.
func ParsePattern(name string) (Pattern, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "none" {
		return nil, nil
	}
	if p, ok := patterns[key]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown register pattern %q", name)
}
