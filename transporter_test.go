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
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	serial "github.com/hootrhino/goserial"
)

// mockPort is an in-memory serial port.
type mockPort struct {
	io.Reader
	io.Writer
	closed      bool
	readTimeout time.Duration
}

func (m *mockPort) Close() error {
	m.closed = true
	return nil
}

func (m *mockPort) SetReadTimeout(d time.Duration) error {
	m.readTimeout = d
	return nil
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) - 1, nil }

func TestTransporterWriteReadChunk(t *testing.T) {
	out := &bytes.Buffer{}
	port := &mockPort{Reader: bytes.NewReader([]byte{0x7E, 0x01}), Writer: out}
	transport := NewTransporter(port, 50*time.Millisecond, 0)

	if err := transport.WriteRaw([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("WriteRaw failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0x01, 0x02, 0x03}) {
		t.Errorf("wrote % X", out.Bytes())
	}

	buf := make([]byte, 16)
	n, err := transport.ReadChunk(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte{0x7E, 0x01}) {
		t.Errorf("ReadChunk got % X, %v", buf[:n], err)
	}
	if port.readTimeout != 50*time.Millisecond {
		t.Errorf("read timeout %v, expected 50ms", port.readTimeout)
	}
	if _, err := transport.ReadChunk(buf); !errors.Is(err, io.EOF) {
		t.Errorf("drained port got %v, expected io.EOF", err)
	}
}

// idleReader behaves like a serial port with nothing to read.
type idleReader struct{}

func (idleReader) Read(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, serial.ErrTimeout
}

func TestTransporterSerialReadErrors(t *testing.T) {
	testCases := []struct {
		name     string
		reader   io.Reader
		expected error
	}{
		{"serial timeout", idleReader{}, ErrPollTimeout},
		{"empty read", bytes.NewReader(nil), io.EOF},
		{"closed pipe", closedPipe(), io.EOF},
	}
	for _, tc := range testCases {
		port := &mockPort{Reader: tc.reader, Writer: io.Discard}
		transport := NewTransporter(port, 20*time.Millisecond, 0)
		_, err := transport.ReadChunk(make([]byte, 8))
		if !errors.Is(err, tc.expected) {
			t.Errorf("%s: got %v, expected %v", tc.name, err, tc.expected)
		}
	}
}

func closedPipe() io.Reader {
	pr, pw := io.Pipe()
	pw.Close()
	return pr
}

func TestTransporterWriteErrors(t *testing.T) {
	transport := NewTransporter(&mockPort{Reader: &bytes.Buffer{}, Writer: shortWriter{}}, 0, 0)
	if err := transport.WriteRaw(nil); err == nil {
		t.Error("empty write succeeded")
	}
	if err := transport.WriteRaw([]byte{1, 2}); err == nil {
		t.Error("partial write succeeded")
	}
}

func TestTransporterClose(t *testing.T) {
	port := &mockPort{Reader: &bytes.Buffer{}, Writer: &bytes.Buffer{}}
	transport := NewTransporter(port, 0, 0)
	if transport.IsClosed() {
		t.Error("new transport reports closed")
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if !port.closed || !transport.IsClosed() {
		t.Error("port not closed")
	}
	if err := transport.WriteRaw([]byte{1}); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("write after close got %v", err)
	}
	if _, err := transport.ReadChunk(make([]byte, 1)); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("read after close got %v", err)
	}
}

func TestTransporterNetDeadlines(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	transport := NewTransporter(a, 20*time.Millisecond, 20*time.Millisecond)
	defer transport.Close()

	start := time.Now()
	if _, err := transport.ReadChunk(make([]byte, 4)); !errors.Is(err, ErrPollTimeout) {
		t.Errorf("idle read got %v, expected ErrPollTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("poll took %v", time.Since(start))
	}
	if err := transport.WriteRaw([]byte{1, 2, 3}); err == nil {
		t.Error("write with no reader succeeded")
	}
	if transport.RemoteAddr() == "" {
		t.Error("pipe has no remote address")
	}

	b.Close()
	if _, err := transport.ReadChunk(make([]byte, 4)); err == nil || errors.Is(err, ErrPollTimeout) {
		t.Errorf("read from hung up peer got %v", err)
	}
}
