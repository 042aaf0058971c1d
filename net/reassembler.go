package net

import "fmt"

// StreamReassembler turns the chunks read from a TCP stream back into whole
// length-prefixed packets. Bytes of an incomplete packet are kept until the
// chunks that complete it arrive, so the packets emitted do not depend on how
// the stream was split. One reassembler serves one connection.
type StreamReassembler struct {
	backlog       *Packet
	maxPacketSize int
}

// NewStreamReassembler creates a reassembler. A positive maxPacketSize rejects
// declared lengths above it as malformed.
func NewStreamReassembler(maxPacketSize int) *StreamReassembler {
	return &StreamReassembler{
		backlog:       NewPacket(),
		maxPacketSize: maxPacketSize,
	}
}

// Feed appends chunk and calls emit with the body of every packet it
// completes, in stream order. Each body is a private copy.
//
// A declared length that is not positive (or above the maximum) is
// unrecoverable for the stream: the backlog is dropped and
// ErrMalformedFraming returned without emitting anything further.
func (r *StreamReassembler) Feed(chunk []byte, emit func(body []byte)) error {
	if err := r.backlog.WriteBytes(chunk); err != nil {
		return err
	}

	for r.backlog.UnreadLength() >= LengthPrefixSize {
		n, err := r.backlog.PeekInt()
		if err != nil {
			return err
		}
		if err := checkLength(n, r.maxPacketSize); err != nil {
			r.backlog.Reset(false)
			return err
		}
		if int(n) > r.backlog.UnreadLength()-LengthPrefixSize {
			break
		}

		if _, err := r.backlog.ReadInt(); err != nil {
			return err
		}
		body, err := r.backlog.ReadBytes(int(n))
		if err != nil {
			r.backlog.Reset(false)
			return fmt.Errorf("read body: %w", err)
		}
		emit(body)
	}

	r.backlog.Reset(true)
	return nil
}

// Buffered returns the number of bytes held for an incomplete packet.
func (r *StreamReassembler) Buffered() int {
	return r.backlog.UnreadLength()
}

// Release frees the backlog. The reassembler must not be fed afterwards.
func (r *StreamReassembler) Release() {
	r.backlog.Release()
}
