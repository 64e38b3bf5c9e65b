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
	"encoding/binary"
	"iter"
)

// Framer describes how frames are delimited in a byte stream.
type Framer interface {
	// Sync returns the offset of the first byte that can start a frame,
	// or len(buf) when none can.
	Sync(buf []byte) int
	// HeaderLength is the number of bytes needed to call FrameLength.
	HeaderLength() int
	// FrameLength returns the total size of the frame starting at header,
	// or -1 when the header cannot start a frame.
	FrameLength(header []byte) int
}

// StreamReassembler buffers stream chunks of any size and cuts them into
// decoded frames. One instance serves one connection.
type StreamReassembler[T any] struct {
	framer  Framer
	decode  func([]byte) (T, error)
	buf     []byte
	dropped int
}

func NewStreamReassembler[T any](framer Framer, decode func([]byte) (T, error)) *StreamReassembler[T] {
	return &StreamReassembler[T]{framer: framer, decode: decode}
}

// NewPacketReassembler reassembles custom protocol packets.
func NewPacketReassembler() *StreamReassembler[*Packet] {
	return NewStreamReassembler(PacketFramer{}, DecodePacket)
}

// NewFrameReassembler reassembles Modbus TCP frames using the MBAP length.
func NewFrameReassembler() *StreamReassembler[*Frame] {
	return NewStreamReassembler(FrameFramer{}, DecodeFrame)
}

// Feed appends b to the buffer and returns the frames that are now complete.
// Frames are cut as the sequence is consumed; a frame that fails to decode is
// discarded and counted. Bytes of a partial frame stay buffered for the next call.
func (r *StreamReassembler[T]) Feed(b []byte) iter.Seq[T] {
	r.buf = append(r.buf, b...)
	return func(yield func(T) bool) {
		for {
			n := r.nextFrame()
			if n == 0 {
				return
			}
			v, err := r.decode(r.buf[:n])
			r.consume(n)
			if err != nil {
				r.dropped++
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// nextFrame returns the size of the complete frame at the head of the
// buffer, or 0 when more bytes are needed.
func (r *StreamReassembler[T]) nextFrame() int {
	for {
		if skip := r.framer.Sync(r.buf); skip > 0 {
			r.consume(skip)
		}
		if len(r.buf) == 0 || len(r.buf) < r.framer.HeaderLength() {
			return 0
		}
		total := r.framer.FrameLength(r.buf)
		if total < 0 {
			r.consume(1)
			continue
		}
		if total > len(r.buf) {
			return 0
		}
		return total
	}
}

func (r *StreamReassembler[T]) consume(n int) {
	r.buf = r.buf[:copy(r.buf, r.buf[n:])]
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (r *StreamReassembler[T]) Buffered() int { return len(r.buf) }

// Dropped returns how many complete frames failed to decode.
func (r *StreamReassembler[T]) Dropped() int { return r.dropped }

// Reset discards buffered bytes, typically after a reconnect.
func (r *StreamReassembler[T]) Reset() {
	r.buf = r.buf[:0]
}

// PacketFramer finds custom protocol packets by their 0x7E start flag and
// length byte.
type PacketFramer struct{}

func (PacketFramer) Sync(buf []byte) int {
	if i := bytes.IndexByte(buf, PacketStartFlag); i >= 0 {
		return i
	}
	return len(buf)
}

func (PacketFramer) HeaderLength() int { return PacketHeaderLength }

func (PacketFramer) FrameLength(header []byte) int {
	if header[3] == 0 {
		return -1
	}
	return packetLength(header[3])
}

// FrameFramer cuts Modbus TCP frames at the head of the buffer using the
// MBAP length field.
type FrameFramer struct{}

func (FrameFramer) Sync([]byte) int { return 0 }

func (FrameFramer) HeaderLength() int { return MBAPHeaderLength - 1 }

func (FrameFramer) FrameLength(header []byte) int {
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length > MaxPDULength+1 {
		return -1
	}
	return 6 + length
}
