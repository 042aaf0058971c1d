package net

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

const (
	_defaultPacketCap = 256
	_maxPooledCap     = 64 * 1024
)

var _bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, _defaultPacketCap)
		return &b
	},
}

// Packet is a growable byte buffer with a read cursor. A packet is built with
// the Write methods, then read with the Read methods; the first read freezes
// the content and further writes fail with ErrInvalidState until Reset.
// Integers are little endian.
//
// Packets are not safe for concurrent use. Callers own a packet until they
// Release it:
//
//	p := net.NewPacketWithID(ClientWelcomeReceived)
//	defer p.Release()
type Packet struct {
	buf      *[]byte
	readPos  int
	reading  bool
	released bool
}

// NewPacket returns an empty packet in writing mode.
func NewPacket() *Packet {
	return &Packet{buf: _bufPool.Get().(*[]byte)}
}

// NewPacketWithID returns a packet that starts with the int32 packet id.
func NewPacketWithID(id int32) *Packet {
	p := NewPacket()
	_ = p.WriteInt(id)
	return p
}

// NewPacketFromBytes returns a packet in reading mode over a copy of b.
func NewPacketFromBytes(b []byte) *Packet {
	p := NewPacket()
	*p.buf = append(*p.buf, b...)
	p.reading = true
	return p
}

// newPacketOwning wraps b without copying. b must not be used by the caller
// afterwards.
func newPacketOwning(b []byte) *Packet {
	return &Packet{buf: &b, reading: true}
}

// Release returns the buffer to the pool. Any later call fails with
// ErrInvalidState. Releasing twice is a no-op.
func (p *Packet) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	buf := p.buf
	p.buf = nil
	if buf != nil && cap(*buf) <= _maxPooledCap {
		*buf = (*buf)[:0]
		_bufPool.Put(buf)
	}
}

func (p *Packet) writable() error {
	if p.released {
		return fmt.Errorf("%w: packet released", ErrInvalidState)
	}
	if p.reading {
		return fmt.Errorf("%w: write after read", ErrInvalidState)
	}
	return nil
}

func (p *Packet) readable(n int) ([]byte, error) {
	if p.released {
		return nil, fmt.Errorf("%w: packet released", ErrInvalidState)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrBufferUnderrun, n)
	}
	p.reading = true
	rest := (*p.buf)[p.readPos:]
	if len(rest) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrBufferUnderrun, n, len(rest))
	}
	return rest[:n], nil
}

// Len returns the total number of bytes in the packet.
func (p *Packet) Len() int {
	if p.released {
		return 0
	}
	return len(*p.buf)
}

// ToBytes returns the packet content. The slice aliases the packet buffer and
// is only valid until the next write, Reset or Release.
func (p *Packet) ToBytes() []byte {
	if p.released {
		return nil
	}
	return *p.buf
}

// UnreadLength returns the number of bytes after the read cursor.
func (p *Packet) UnreadLength() int {
	if p.released {
		return 0
	}
	return len(*p.buf) - p.readPos
}

// Reset clears the packet and returns it to writing mode. With keepUnread the
// unread tail is kept as the new content; otherwise the packet is emptied.
func (p *Packet) Reset(keepUnread bool) {
	if p.released {
		return
	}
	b := *p.buf
	if keepUnread && p.readPos < len(b) {
		n := copy(b, b[p.readPos:])
		b = b[:n]
	} else {
		b = b[:0]
	}
	*p.buf = b
	p.readPos = 0
	p.reading = false
}

// WriteBytes appends b.
func (p *Packet) WriteBytes(b []byte) error {
	if err := p.writable(); err != nil {
		return err
	}
	*p.buf = append(*p.buf, b...)
	return nil
}

func (p *Packet) WriteInt(v int32) error {
	if err := p.writable(); err != nil {
		return err
	}
	*p.buf = binary.LittleEndian.AppendUint32(*p.buf, uint32(v))
	return nil
}

func (p *Packet) WriteInt64(v int64) error {
	if err := p.writable(); err != nil {
		return err
	}
	*p.buf = binary.LittleEndian.AppendUint64(*p.buf, uint64(v))
	return nil
}

func (p *Packet) WriteFloat32(v float32) error {
	return p.WriteInt(int32(math.Float32bits(v)))
}

func (p *Packet) WriteByte(v byte) error {
	if err := p.writable(); err != nil {
		return err
	}
	*p.buf = append(*p.buf, v)
	return nil
}

func (p *Packet) WriteBool(v bool) error {
	if v {
		return p.WriteByte(1)
	}
	return p.WriteByte(0)
}

// blockLength checks that n fits the int32 block length prefix.
func blockLength(n int) (int32, error) {
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: block of %d bytes", ErrMalformedFraming, n)
	}
	return int32(n), nil
}

// WriteBlock appends b preceded by its int32 length.
func (p *Packet) WriteBlock(b []byte) error {
	n, err := blockLength(len(b))
	if err != nil {
		return err
	}
	if err := p.WriteInt(n); err != nil {
		return err
	}
	return p.WriteBytes(b)
}

// WriteString appends s as a block of UTF-8 bytes.
func (p *Packet) WriteString(s string) error {
	n, err := blockLength(len(s))
	if err != nil {
		return err
	}
	if err := p.writable(); err != nil {
		return err
	}
	*p.buf = binary.LittleEndian.AppendUint32(*p.buf, uint32(n))
	*p.buf = append(*p.buf, s...)
	return nil
}

// InsertInt puts v in front of the current content.
func (p *Packet) InsertInt(v int32) error {
	if err := p.writable(); err != nil {
		return err
	}
	b := append(*p.buf, 0, 0, 0, 0)
	copy(b[LengthPrefixSize:], b[:len(b)-LengthPrefixSize])
	binary.LittleEndian.PutUint32(b, uint32(v))
	*p.buf = b
	return nil
}

// PrependLength puts the current content length in front of the content.
func (p *Packet) PrependLength() error {
	if p.released {
		return fmt.Errorf("%w: packet released", ErrInvalidState)
	}
	return p.InsertInt(int32(len(*p.buf)))
}

// ReadBytes consumes n bytes and returns a copy of them. On ErrBufferUnderrun
// nothing is consumed.
func (p *Packet) ReadBytes(n int) ([]byte, error) {
	b, err := p.readable(n)
	if err != nil {
		return nil, err
	}
	p.readPos += n
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadRemaining consumes and returns a copy of every unread byte.
func (p *Packet) ReadRemaining() ([]byte, error) {
	return p.ReadBytes(p.UnreadLength())
}

// PeekInt reads an int32 without moving the cursor.
func (p *Packet) PeekInt() (int32, error) {
	b, err := p.readable(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (p *Packet) ReadInt() (int32, error) {
	v, err := p.PeekInt()
	if err != nil {
		return 0, err
	}
	p.readPos += 4
	return v, nil
}

func (p *Packet) ReadInt64() (int64, error) {
	b, err := p.readable(8)
	if err != nil {
		return 0, err
	}
	p.readPos += 8
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (p *Packet) ReadFloat32() (float32, error) {
	v, err := p.ReadInt()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (p *Packet) ReadByte() (byte, error) {
	b, err := p.readable(1)
	if err != nil {
		return 0, err
	}
	p.readPos++
	return b[0], nil
}

func (p *Packet) ReadBool() (bool, error) {
	b, err := p.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadBlock reads an int32 length and that many bytes. The cursor is left
// untouched on error.
func (p *Packet) ReadBlock() ([]byte, error) {
	n, err := p.PeekInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: block length %d", ErrMalformedFraming, n)
	}
	if p.UnreadLength()-4 < int(n) {
		return nil, fmt.Errorf("%w: block needs %d, have %d", ErrBufferUnderrun, n, p.UnreadLength()-4)
	}
	p.readPos += 4
	return p.ReadBytes(int(n))
}

func (p *Packet) ReadString() (string, error) {
	b, err := p.ReadBlock()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
