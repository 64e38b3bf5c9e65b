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
	"io"
	"time"

	serial "github.com/hootrhino/goserial"
)

const DefaultBaudRate = 115200

// SerialConfig describes the port a custom protocol host or device uses.
type SerialConfig struct {
	Address  string        // e.g. /dev/ttyUSB0 or COM3
	BaudRate int           // default 115200
	DataBits int           // default 8
	StopBits int           // default 1
	Parity   string        // N, E or O; default N
	Timeout  time.Duration // read timeout, default DefaultPollInterval
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollInterval
	}
	return c
}

// OpenSerial opens the port described by cfg. The read timeout doubles as
// the session poll interval since serial ports have no read deadlines.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("serial: no port address configured")
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Address, err)
	}
	return port, nil
}
