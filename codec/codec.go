// Package codec encodes typed message bodies carried inside packets.
package codec

import (
	"errors"

	"google.golang.org/protobuf/reflect/protoreflect"
)

var (
	errCodecNotInit = errors.New("codec not init")

	_codec Codec = &DefaultCodec{}
)

// Codec turns a message into bytes and back.
type Codec interface {
	// Encode appends the encoding of m to b.
	Encode(m protoreflect.ProtoMessage, b []byte) ([]byte, error)
	Decode(m protoreflect.ProtoMessage, b []byte) error
}

// Encode appends m to b with the active codec.
func Encode(m protoreflect.ProtoMessage, b []byte) ([]byte, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Encode(m, b)
}

// Decode fills m from b with the active codec.
func Decode(m protoreflect.ProtoMessage, b []byte) error {
	if _codec == nil {
		return errCodecNotInit
	}
	return _codec.Decode(m, b)
}

// SetCodec replaces the active codec. A nil codec makes Encode and Decode fail.
func SetCodec(c Codec) {
	_codec = c
}
