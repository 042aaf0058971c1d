package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// DefaultCodec is the protobuf binary codec.
type DefaultCodec struct{}

func (c *DefaultCodec) Encode(m protoreflect.ProtoMessage, b []byte) ([]byte, error) {
	return proto.MarshalOptions{}.MarshalAppend(b, m)
}

func (c *DefaultCodec) Decode(m protoreflect.ProtoMessage, b []byte) error {
	return proto.Unmarshal(b, m)
}
