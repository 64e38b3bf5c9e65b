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
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval   = time.Second
	DefaultWriteTimeout   = time.Second
	DefaultInitialTimeout = 5 * time.Second
	readChunkSize         = 4096
)

// ErrIdleClient reports a client that connected but never sent anything.
var ErrIdleClient = errors.New("client sent no data")

// SessionConfig tunes the worker servicing one connection.
type SessionConfig struct {
	// PollInterval bounds each read so shutdown is noticed.
	PollInterval time.Duration
	WriteTimeout time.Duration
	// InitialTimeout drops a connection that sends nothing at all within it.
	// Zero waits forever.
	InitialTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// session is the read worker for one connection: it feeds inbound bytes to a
// reassembler and hands every decoded frame to handle.
type session[T any] struct {
	role      string
	cfg       SessionConfig
	transport *Transporter
	reasm     *StreamReassembler[T]
	handle    func(T) error
	emit      func(Event)
	logger    zerolog.Logger
}

// run services the connection until ctx is done or the transport fails.
// Only transport failures are returned; a shutdown returns nil.
func (s *session[T]) run(ctx context.Context) error {
	remote := s.transport.RemoteAddr()
	recordConnection(s.role, "connected")
	s.logger.Info().Str("remote", remote).Msg("connection open")
	s.emit(Event{Kind: EventConnected, Remote: remote})

	err := s.readLoop(ctx)

	recordConnection(s.role, "disconnected")
	if err != nil {
		s.logger.Warn().Str("remote", remote).Err(err).Msg("connection lost")
	} else {
		s.logger.Info().Str("remote", remote).Msg("connection closed")
	}
	s.emit(Event{Kind: EventDisconnected, Remote: remote, Err: err})
	return err
}

func (s *session[T]) readLoop(ctx context.Context) error {
	buf := make([]byte, readChunkSize)
	started := time.Now()
	received := false
	dropped := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := s.transport.ReadChunk(buf)
		if n > 0 {
			received = true
			if err := s.feed(buf[:n], &dropped); err != nil {
				return err
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, ErrPollTimeout) {
			if !received && s.cfg.InitialTimeout > 0 && time.Since(started) >= s.cfg.InitialTimeout {
				return fmt.Errorf("%w within %s", ErrIdleClient, s.cfg.InitialTimeout)
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func (s *session[T]) feed(b []byte, dropped *int) error {
	for frame := range s.reasm.Feed(b) {
		if err := s.handle(frame); err != nil {
			return err
		}
	}
	if d := s.reasm.Dropped(); d > *dropped {
		recordDropped(s.role, d-*dropped)
		s.logger.Debug().Int("count", d-*dropped).Msg("discarded undecodable frames")
		*dropped = d
	}
	return nil
}
