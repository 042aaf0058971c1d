package net

import "fmt"

// DecodeDatagram returns the body of a single length-prefixed datagram.
// Trailing bytes beyond the declared length are ignored; nothing is carried
// over between datagrams. The returned slice does not alias d.
func DecodeDatagram(d []byte) ([]byte, error) {
	if len(d) < LengthPrefixSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortDatagram, len(d), LengthPrefixSize)
	}
	n, err := DecodeLength(d)
	if err != nil {
		return nil, err
	}
	if err := checkLength(n, 0); err != nil {
		return nil, err
	}
	if int(n) > len(d)-LengthPrefixSize {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrBufferUnderrun, n, len(d)-LengthPrefixSize)
	}
	body := make([]byte, n)
	copy(body, d[LengthPrefixSize:])
	return body, nil
}
