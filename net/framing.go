package net

import (
	"encoding/binary"
	"fmt"
)

// LengthPrefixSize is the size of the int32 length prefix in front of every
// packet on both channels.
const LengthPrefixSize = 4

// EncodeLength writes n as the little endian length prefix into buf.
func EncodeLength(buf []byte, n int32) error {
	if len(buf) < LengthPrefixSize {
		return fmt.Errorf("buff too small: %d < %d", len(buf), LengthPrefixSize)
	}
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return nil
}

// DecodeLength reads the little endian length prefix at the front of buf.
func DecodeLength(buf []byte) (int32, error) {
	if len(buf) < LengthPrefixSize {
		return 0, fmt.Errorf("%w: %d < %d", ErrBufferUnderrun, len(buf), LengthPrefixSize)
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

// checkLength validates a declared body length against max (0 means no limit).
func checkLength(n int32, max int) error {
	if n <= 0 {
		return fmt.Errorf("%w: declared length %d", ErrMalformedFraming, n)
	}
	if max > 0 && int(n) > max {
		return fmt.Errorf("%w: declared length %d exceeds %d", ErrMalformedFraming, n, max)
	}
	return nil
}
