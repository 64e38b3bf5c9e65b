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
	"slices"
	"testing"
)

func TestPacketEncodeReadSingle(t *testing.T) {
	p := &Packet{Address: 1, MessageID: 0x10, FunctionCode: FuncReadSingle, Data: []byte{0x12, 0x34}}
	got, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	expected := []byte{0x7E, 0x01, 0x10, 0x03, 0x01, 0x12, 0x34, 0x2F, 0xD9}
	if !bytes.Equal(got, expected) {
		t.Errorf("got % X, expected % X", got, expected)
	}
	if p.Checksum != 0x2FD9 {
		t.Errorf("stored checksum %#04x, expected 0x2fd9", p.Checksum)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	req := NewReadSingleRequest(3, 9, 0x0010)
	testCases := []*Packet{
		req,
		NewWriteSingleRequest(1, 0, 0x0020, 0xBEEF),
		NewReadMultipleRequest(247, 255, 0x0000, 125),
		NewWriteMultipleRequest(0, 17, 0x0100, []uint16{1, 2, 3, 0xFFFF}),
		NewReadSingleResponse(req, 0x0010, 0x1234),
		NewReadMultipleResponse(req, 0x0010, []uint16{0xAAAA, 0x5555}),
		NewWriteMultipleResponse(req, 0x0010, 2),
		NewErrorResponse(req, ErrCodeInvalidAddress),
		{Address: 5, MessageID: 1, FunctionCode: 0x7F},
		{Address: 5, MessageID: 2, FunctionCode: 0x01, Data: bytes.Repeat([]byte{0xA5}, MaxPacketData)},
	}
	for _, p := range testCases {
		b, err := p.Encode()
		if err != nil {
			t.Fatalf("%v: Encode failed: %v", p, err)
		}
		got, err := DecodePacket(b)
		if err != nil {
			t.Fatalf("%v: DecodePacket failed: %v", p, err)
		}
		if got.Address != p.Address || got.MessageID != p.MessageID || got.FunctionCode != p.FunctionCode ||
			got.Checksum != p.Checksum || !bytes.Equal(got.Data, p.Data) {
			t.Errorf("round trip changed packet: got %v, expected %v", got, p)
		}
	}
}

func TestPacketSingleBitFlipFailsDecode(t *testing.T) {
	p := NewWriteMultipleRequest(1, 42, 0x0010, []uint16{0x1234, 0xABCD, 0x0001})
	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for i := range encoded {
		for bit := 0; bit < 8; bit++ {
			corrupt := slices.Clone(encoded)
			corrupt[i] ^= 1 << bit
			if got, err := DecodePacket(corrupt); err == nil {
				t.Errorf("byte %d bit %d flipped: decoded %v", i, bit, got)
			}
		}
	}
}

func TestDecodePacketFailures(t *testing.T) {
	valid, _ := NewReadSingleRequest(1, 1, 0).Encode()
	badChecksum := slices.Clone(valid)
	badChecksum[len(badChecksum)-1]++

	testCases := []struct {
		name     string
		data     []byte
		expected error
	}{
		{"empty", nil, ErrShortPacket},
		{"six bytes", valid[:6], ErrShortPacket},
		{"wrong start flag", append([]byte{0x7F}, valid[1:]...), ErrStartFlag},
		{"truncated", valid[:len(valid)-1], ErrPacketLength},
		{"zero length", []byte{0x7E, 1, 1, 0, 1, 0, 0}, ErrPacketLength},
		{"checksum", badChecksum, ErrChecksum},
	}
	for _, tc := range testCases {
		got, err := DecodePacket(tc.data)
		if !errors.Is(err, tc.expected) {
			t.Errorf("%s: got %v, %v, expected %v", tc.name, got, err, tc.expected)
		}
	}
}

func TestDecodePacketIgnoresTrailingBytes(t *testing.T) {
	b, _ := NewReadSingleRequest(1, 1, 0x0042).Encode()
	p, err := DecodePacket(append(b, 0x7E, 0x00))
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if !bytes.Equal(p.Data, []byte{0x00, 0x42}) {
		t.Errorf("data % X", p.Data)
	}
}

func TestPacketEncodeRejectsOversizedData(t *testing.T) {
	p := &Packet{Address: 1, FunctionCode: FuncWriteMultiple, Data: make([]byte, MaxPacketData+1)}
	if _, err := p.Encode(); !errors.Is(err, ErrPacketData) {
		t.Errorf("got %v, expected ErrPacketData", err)
	}
}

func TestPacketOperation(t *testing.T) {
	testCases := []struct {
		name     string
		packet   *Packet
		expected Operation
	}{
		{"read single", NewReadSingleRequest(1, 0, 0x10), ReadSingle(0x10)},
		{"write single", NewWriteSingleRequest(1, 0, 0x10, 0x55AA), WriteSingle(0x10, 0x55AA)},
		{"read multiple", NewReadMultipleRequest(1, 0, 0x20, 8), ReadMultiple(0x20, 8)},
		{"write multiple", NewWriteMultipleRequest(1, 0, 0x30, []uint16{7, 8}), WriteMultiple(0x30, []uint16{7, 8})},
	}
	for _, tc := range testCases {
		got, err := tc.packet.Operation()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.Kind != tc.expected.Kind || got.Address != tc.expected.Address ||
			got.Count != tc.expected.Count || !slices.Equal(got.Values, tc.expected.Values) {
			t.Errorf("%s: got %+v, expected %+v", tc.name, got, tc.expected)
		}
	}
}

func TestPacketOperationErrors(t *testing.T) {
	_, err := (&Packet{FunctionCode: 0x09}).Operation()
	var pe *PacketError
	if !errors.As(err, &pe) || pe.Code != ErrCodeInvalidFunction {
		t.Errorf("unsupported function: got %v", err)
	}

	short := &Packet{FunctionCode: FuncWriteMultiple, Data: []byte{0x00, 0x10, 0x03, 0x00, 0x01}}
	if _, err := short.Operation(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("short write multiple: got %v", err)
	}
}

func TestPacketReply(t *testing.T) {
	req := NewReadMultipleRequest(1, 4, 0x0010, 2)

	r := NewReadMultipleResponse(req, 0x0010, []uint16{0x1234, 0xABCD}).Reply(ReadMultiple(0x0010, 2))
	if r.Err != nil || r.Count != 2 || !slices.Equal(r.Values, []uint16{0x1234, 0xABCD}) {
		t.Errorf("read multiple reply = %+v", r)
	}

	r = NewErrorResponse(req, ErrCodeInvalidAddress).Reply(ReadMultiple(0x0010, 2))
	var pe *PacketError
	if !errors.As(r.Err, &pe) || pe.Code != ErrCodeInvalidAddress || pe.FunctionCode != FuncReadMultiple {
		t.Errorf("error reply = %+v", r)
	}

	r = NewWriteSingleResponse(req, 0x0010, 5).Reply(ReadMultiple(0x0010, 2))
	if !errors.Is(r.Err, ErrUnexpectedResponse) {
		t.Errorf("mismatched reply err = %v", r.Err)
	}
}

func TestNewRequestPacketLimits(t *testing.T) {
	if _, err := NewRequestPacket(1, 0, ReadMultiple(0, 0)); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("count 0: got %v", err)
	}
	if _, err := NewRequestPacket(1, 0, ReadMultiple(0, MaxPacketRegisters+1)); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("count %d: got %v", MaxPacketRegisters+1, err)
	}
	p, err := NewRequestPacket(1, 0, WriteMultiple(0, make([]uint16, MaxPacketRegisters)))
	if err != nil {
		t.Fatalf("largest write multiple rejected: %v", err)
	}
	if _, err := p.Encode(); err != nil {
		t.Errorf("largest write multiple does not encode: %v", err)
	}
}

func TestErrorCodeString(t *testing.T) {
	testCases := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrCodeInvalidFunction, "Invalid or unsupported function"},
		{ErrCodeInvalidAddress, "Invalid register address"},
		{ErrCodeInvalidValue, "Invalid register value"},
		{ErrCodeInternal, "Internal/unspecified error"},
	}
	for _, tc := range testCases {
		if got := tc.code.String(); got != tc.expected {
			t.Errorf("code %#02x: got %q, expected %q", uint8(tc.code), got, tc.expected)
		}
	}
}
