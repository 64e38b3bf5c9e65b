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
	"io"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	modbus_server "github.com/hootrhino/mbserver"
	"github.com/hootrhino/mbserver/store"
)

// A stock Modbus TCP client must be able to drive ModbusServer.
func TestInteropGoburrowClient(t *testing.T) {
	slave := NewModbusSlave(nil)
	srv := startModbusServer(t, slave, testSessionConfig)

	handler := modbus.NewTCPClientHandler(srv.Addr().String())
	handler.Timeout = 2 * time.Second
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer handler.Close()
	client := modbus.NewClient(handler)

	result, err := client.WriteMultipleRegisters(10, 2, []byte{0x12, 0x34, 0x56, 0x78})
	if err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	if !slices.Equal(result, []byte{0x00, 0x02}) {
		t.Errorf("write result % X, expected quantity 2", result)
	}
	if got := slave.Snapshot()[10:12]; !slices.Equal(got, []uint16{0x1234, 0x5678}) {
		t.Errorf("registers % X", got)
	}

	result, err = client.ReadHoldingRegisters(10, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if !slices.Equal(result, []byte{0x12, 0x34, 0x56, 0x78}) {
		t.Errorf("read % X", result)
	}

	_, err = client.ReadHoldingRegisters(999, 5)
	var me *modbus.ModbusError
	if !errors.As(err, &me) || me.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("read past end got %v, expected illegal data address", err)
	}

	_, err = client.ReadCoils(0, 1)
	if !errors.As(err, &me) || me.ExceptionCode != modbus.ExceptionCodeIllegalFunction {
		t.Errorf("read coils got %v, expected illegal function", err)
	}
}

// ModbusClient must interoperate with an independent Modbus TCP server.
func TestInteropMbserver(t *testing.T) {
	addr := freeAddr(t)
	server := modbus_server.NewServer(store.NewInMemoryStore(), 1)
	server.SetLogger(io.Discard)
	server.SetErrorHandler(func(err error) { t.Logf("mbserver: %v", err) })
	if err := server.SetHoldingRegisters(make([]uint16, 16)); err != nil {
		t.Skipf("cannot seed mbserver: %v", err)
	}
	if err := server.Start(addr); err != nil {
		t.Skipf("cannot start mbserver on %s: %v", addr, err)
	}
	defer server.Stop()

	var client *ModbusClient
	events := make(chan Event, 16)
	master := NewModbusMaster(1, 2*time.Second)
	master.SetEventSink(func(e Event) { events <- e })
	for attempt := 0; client == nil; attempt++ {
		c, err := DialModbus(context.Background(), addr, master, testSessionConfig)
		if err == nil {
			client = c
			break
		}
		if attempt == 20 {
			t.Skipf("mbserver never accepted: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { client.Run(ctx); close(done) }()
	defer func() {
		cancel()
		client.Close()
		<-done
	}()

	client.Send(WriteMultiple(2, []uint16{0xABCD, 0x0042}))
	if e := waitEvent(t, events, EventMatched); e.Reply.Err != nil {
		t.Fatalf("write got %v", e.Reply.Err)
	}
	client.Send(ReadMultiple(2, 2))
	e := waitEvent(t, events, EventMatched)
	if e.Reply.Err != nil || !slices.Equal(e.Reply.Values, []uint16{0xABCD, 0x0042}) {
		t.Errorf("read got %+v", e.Reply)
	}
}

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot reserve a port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}
