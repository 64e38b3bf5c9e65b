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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ModbusServer exposes a ModbusSlave on TCP. It serves one client at a time;
// the next client is accepted once the current one disconnects.
type ModbusServer struct {
	slave    *ModbusSlave
	cfg      SessionConfig
	logger   zerolog.Logger
	mu       sync.Mutex
	listener *net.TCPListener
	current  *Transporter
}

// NewModbusServer creates a server for slave. A zero InitialTimeout in cfg
// uses DefaultInitialTimeout.
func NewModbusServer(slave *ModbusSlave, cfg SessionConfig) *ModbusServer {
	cfg = cfg.withDefaults()
	if cfg.InitialTimeout == 0 {
		cfg.InitialTimeout = DefaultInitialTimeout
	}
	return &ModbusServer{slave: slave, cfg: cfg, logger: zerolog.Nop()}
}

func (s *ModbusServer) SetLogger(logger zerolog.Logger) {
	s.logger = logger
	s.slave.SetLogger(logger)
}

func (s *ModbusServer) Slave() *ModbusSlave { return s.slave }

// Listen binds address. Use ":0" to pick a free port and Addr to read it.
func (s *ModbusServer) Listen(address string) error {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return fmt.Errorf("modbus tcp: resolve %s: %w", address, err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("modbus tcp: listen %s: %w", address, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.logger.Info().Str("addr", l.Addr().String()).Msg("modbus tcp slave listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *ModbusServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds address and serves until ctx is done.
func (s *ModbusServer) ListenAndServe(ctx context.Context, address string) error {
	if err := s.Listen(address); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts clients until ctx is done. Accept polls at the session poll
// interval so cancellation is noticed without closing the listener from
// another goroutine.
func (s *ModbusServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("modbus tcp: Serve called before Listen")
	}
	defer l.Close()
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = l.SetDeadline(time.Now().Add(s.cfg.PollInterval))
		conn, err := l.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("modbus tcp: accept: %w", err)
		}
		s.serveConn(ctx, conn)
	}
}

func (s *ModbusServer) serveConn(ctx context.Context, conn net.Conn) {
	transport := NewTransporter(conn, s.cfg.PollInterval, s.cfg.WriteTimeout)
	s.mu.Lock()
	s.current = transport
	s.mu.Unlock()
	defer func() {
		transport.Close()
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()
	sess := &session[*Frame]{
		role:      RoleSlave,
		cfg:       s.cfg,
		transport: transport,
		reasm:     NewFrameReassembler(),
		handle: func(f *Frame) error {
			resp := s.slave.HandleFrame(f)
			b, err := resp.Encode()
			if err != nil {
				s.logger.Error().Err(err).Msg("cannot encode response")
				return nil
			}
			return transport.WriteRaw(b)
		},
		emit:   s.slave.emit,
		logger: s.logger,
	}
	// Transport errors end this client only.
	_ = sess.run(ctx)
}

// Disconnect drops the current client, if any.
func (s *ModbusServer) Disconnect() {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()
	if t != nil {
		t.Close()
	}
}

// Connected reports whether a client is being served.
func (s *ModbusServer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}
