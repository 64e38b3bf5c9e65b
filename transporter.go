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
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	serial "github.com/hootrhino/goserial"
)

var (
	// ErrPollTimeout means a read returned no data within the poll interval.
	ErrPollTimeout     = errors.New("read poll timeout")
	ErrTransportClosed = errors.New("transport closed")
)

// TimedReadWriteCloser is a port that takes read timeouts instead of deadlines.
type TimedReadWriteCloser interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// Transporter moves raw bytes over a serial port or network connection.
// Reads and writes use separate locks so a reader waiting for data never
// holds up a request being sent.
type Transporter struct {
	conn         io.ReadWriteCloser
	pollInterval time.Duration
	writeTimeout time.Duration
	readMu       sync.Mutex
	writeMu      sync.Mutex
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
}

// NewTransporter wraps conn. pollInterval bounds each read on connections
// that support deadlines; serial ports apply their own configured timeout.
func NewTransporter(conn io.ReadWriteCloser, pollInterval, writeTimeout time.Duration) *Transporter {
	return &Transporter{
		conn:         conn,
		pollInterval: pollInterval,
		writeTimeout: writeTimeout,
	}
}

// WriteRaw writes one complete frame.
func (t *Transporter) WriteRaw(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if len(data) == 0 {
		return fmt.Errorf("cannot write empty data")
	}
	if c, ok := t.conn.(net.Conn); ok && t.writeTimeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		defer c.SetWriteDeadline(time.Time{})
	}
	n, err := t.conn.Write(data)
	if err != nil {
		return fmt.Errorf("write failed after %d bytes: %w", n, err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: expected %d bytes, wrote %d", len(data), n)
	}
	return nil
}

// ReadChunk reads whatever is available into buf. It returns ErrPollTimeout
// when nothing arrived within the poll interval and ErrTransportClosed after
// Close.
func (t *Transporter) ReadChunk(buf []byte) (int, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()
	if t.closed.Load() {
		return 0, ErrTransportClosed
	}
	conn, isNet := t.conn.(net.Conn)
	if t.pollInterval > 0 {
		if isNet {
			_ = conn.SetReadDeadline(time.Now().Add(t.pollInterval))
		} else if p, ok := t.conn.(TimedReadWriteCloser); ok {
			_ = p.SetReadTimeout(t.pollInterval)
		}
	}
	n, err := t.conn.Read(buf)
	if n > 0 {
		return n, nil
	}
	switch {
	case err == nil:
		return 0, ErrPollTimeout
	case isTimeout(err):
		return 0, ErrPollTimeout
	case t.closed.Load():
		return 0, ErrTransportClosed
	case errors.Is(err, io.EOF):
		return 0, err
	}
	return 0, fmt.Errorf("read failed: %w", err)
}

// RemoteAddr names the peer of network connections.
func (t *Transporter) RemoteAddr() string {
	if c, ok := t.conn.(net.Conn); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return ""
}

// Close closes the underlying connection once.
func (t *Transporter) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *Transporter) IsClosed() bool {
	return t.closed.Load()
}

// isTimeout reports expired read deadlines and idle serial reads.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
