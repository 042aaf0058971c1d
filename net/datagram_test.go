package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDatagram(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr error
	}{
		{name: "empty", data: nil, wantErr: ErrShortDatagram},
		{name: "three bytes", data: []byte{1, 0, 0}, wantErr: ErrShortDatagram},
		{name: "zero length", data: []byte{0, 0, 0, 0}, wantErr: ErrMalformedFraming},
		{name: "negative length", data: []byte{0xFE, 0xFF, 0xFF, 0xFF, 1}, wantErr: ErrMalformedFraming},
		{name: "truncated body", data: []byte{4, 0, 0, 0, 1, 2}, wantErr: ErrBufferUnderrun},
		{name: "exact", data: []byte{2, 0, 0, 0, 7, 8}, want: []byte{7, 8}},
		{name: "trailing bytes ignored", data: []byte{1, 0, 0, 0, 7, 8, 9}, want: []byte{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDatagram(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDatagramDoesNotAlias(t *testing.T) {
	d := []byte{1, 0, 0, 0, 5}
	body, err := DecodeDatagram(d)
	require.NoError(t, err)

	d[4] = 6
	assert.Equal(t, []byte{5}, body)
}

func TestLengthHelpers(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, EncodeLength(buf, 300))
	n, err := DecodeLength(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(300), n)

	assert.Error(t, EncodeLength(buf[:2], 1))
	_, err = DecodeLength(buf[:3])
	assert.ErrorIs(t, err, ErrBufferUnderrun)
}
