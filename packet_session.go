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

	"github.com/rs/zerolog"
)

// PacketHost runs a custom protocol master over a byte stream such as a
// serial port.
type PacketHost struct {
	master  *PacketMaster
	session *session[*Packet]
}

// NewPacketHost binds master to conn.
func NewPacketHost(conn io.ReadWriteCloser, master *PacketMaster, cfg SessionConfig) *PacketHost {
	cfg = cfg.withDefaults()
	h := &PacketHost{master: master}
	h.session = &session[*Packet]{
		role:      RoleHost,
		cfg:       cfg,
		transport: NewTransporter(conn, cfg.PollInterval, cfg.WriteTimeout),
		reasm:     NewPacketReassembler(),
		handle: func(p *Packet) error {
			master.HandlePacket(p)
			return nil
		},
		emit:   master.emit,
		logger: zerolog.Nop(),
	}
	return h
}

func (h *PacketHost) SetLogger(logger zerolog.Logger) {
	h.session.logger = logger
	h.master.SetLogger(logger)
}

func (h *PacketHost) Master() *PacketMaster { return h.master }

// Send issues op and writes the request. The returned id identifies the
// Matched or TimedOut event that will follow.
func (h *PacketHost) Send(op Operation) (uint16, error) {
	id, b, err := h.master.Issue(op)
	if err != nil {
		return 0, err
	}
	if err := h.session.transport.WriteRaw(b); err != nil {
		h.master.corr.Cancel(id)
		return 0, fmt.Errorf("send %s: %w", op, err)
	}
	return id, nil
}

// Run reads responses until ctx is done or the stream fails. Pending
// requests are dropped when it returns.
func (h *PacketHost) Run(ctx context.Context) error {
	defer h.master.Close()
	return h.session.run(ctx)
}

func (h *PacketHost) Close() error {
	return h.session.transport.Close()
}

// PacketDevice runs a custom protocol slave over a byte stream.
type PacketDevice struct {
	slave   *PacketSlave
	session *session[*Packet]
}

// NewPacketDevice binds slave to conn.
func NewPacketDevice(conn io.ReadWriteCloser, slave *PacketSlave, cfg SessionConfig) *PacketDevice {
	cfg = cfg.withDefaults()
	d := &PacketDevice{slave: slave}
	transport := NewTransporter(conn, cfg.PollInterval, cfg.WriteTimeout)
	d.session = &session[*Packet]{
		role:      RoleDevice,
		cfg:       cfg,
		transport: transport,
		reasm:     NewPacketReassembler(),
		handle: func(p *Packet) error {
			resp := slave.HandlePacket(p)
			if resp == nil {
				return nil
			}
			b, err := resp.Encode()
			if err != nil {
				d.session.logger.Error().Err(err).Msg("cannot encode response")
				return nil
			}
			return transport.WriteRaw(b)
		},
		emit:   slave.emit,
		logger: zerolog.Nop(),
	}
	return d
}

func (d *PacketDevice) SetLogger(logger zerolog.Logger) {
	d.session.logger = logger
	d.slave.SetLogger(logger)
}

func (d *PacketDevice) Slave() *PacketSlave { return d.slave }

// Run serves requests until ctx is done or the stream fails.
func (d *PacketDevice) Run(ctx context.Context) error {
	return d.session.run(ctx)
}

func (d *PacketDevice) Close() error {
	return d.session.transport.Close()
}
