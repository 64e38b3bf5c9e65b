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
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDialTimeout bounds DialModbus.
const DefaultDialTimeout = 5 * time.Second

// ModbusClient runs a Modbus TCP master over one connection. Requests are
// written as issued and responses are matched as they arrive, so several
// requests may be in flight.
type ModbusClient struct {
	master  *ModbusMaster
	session *session[*Frame]
}

// DialModbus connects to a Modbus TCP slave at address.
func DialModbus(ctx context.Context, address string, master *ModbusMaster, cfg SessionConfig) (*ModbusClient, error) {
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("modbus tcp: dial %s: %w", address, err)
	}
	return NewModbusClient(conn, master, cfg), nil
}

// NewModbusClient binds master to an established connection.
func NewModbusClient(conn io.ReadWriteCloser, master *ModbusMaster, cfg SessionConfig) *ModbusClient {
	cfg = cfg.withDefaults()
	c := &ModbusClient{master: master}
	c.session = &session[*Frame]{
		role:      RoleMaster,
		cfg:       cfg,
		transport: NewTransporter(conn, cfg.PollInterval, cfg.WriteTimeout),
		reasm:     NewFrameReassembler(),
		handle: func(f *Frame) error {
			master.HandleFrame(f)
			return nil
		},
		emit:   master.emit,
		logger: zerolog.Nop(),
	}
	return c
}

func (c *ModbusClient) SetLogger(logger zerolog.Logger) {
	c.session.logger = logger
	c.master.SetLogger(logger)
}

func (c *ModbusClient) Master() *ModbusMaster { return c.master }

func (c *ModbusClient) RemoteAddr() string { return c.session.transport.RemoteAddr() }

// Send issues op and writes the request frame.
func (c *ModbusClient) Send(op Operation) (uint16, error) {
	id, b, err := c.master.Issue(op)
	if err != nil {
		return 0, err
	}
	if err := c.session.transport.WriteRaw(b); err != nil {
		c.master.corr.Cancel(id)
		return 0, fmt.Errorf("modbus tcp: send %s: %w", op, err)
	}
	return id, nil
}

// Run reads responses until ctx is done or the connection fails. Pending
// requests are dropped when it returns.
func (c *ModbusClient) Run(ctx context.Context) error {
	defer c.master.Close()
	return c.session.run(ctx)
}

func (c *ModbusClient) Close() error {
	return c.session.transport.Close()
}
