package net

import (
	"fmt"

	"github.com/lcx/gameclient/codec"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// WriteMessage appends m, encoded with the active codec, as a block.
func (p *Packet) WriteMessage(m protoreflect.ProtoMessage) error {
	if err := p.writable(); err != nil {
		return err
	}
	body, err := codec.Encode(m, nil)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.ProtoReflect().Descriptor().FullName(), err)
	}
	return p.WriteBlock(body)
}

// ReadMessage reads a block and decodes it into m.
func (p *Packet) ReadMessage(m protoreflect.ProtoMessage) error {
	body, err := p.ReadBlock()
	if err != nil {
		return err
	}
	if err := codec.Decode(m, body); err != nil {
		return fmt.Errorf("decode %s: %w", m.ProtoReflect().Descriptor().FullName(), err)
	}
	return nil
}
