package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/gateway/internal/config"
)

func TestDecodeFloat32BigEndian(t *testing.T) {
	v, err := Decode(config.DataTypeFloat32BE, []uint16{0x4049, 0x0FDB})
	require.NoError(t, err)
	assert.InDelta(t, 3.1415927, v.(float64), 0.0001)
}

func TestDecodeFloat32EndiannessMatrix(t *testing.T) {
	be := []uint16{0x4049, 0x0FDB}

	wordSwap := []uint16{be[1], be[0]}
	byteSwapEach := func(words []uint16) []uint16 {
		out := make([]uint16, len(words))
		for i, w := range words {
			out[i] = w<<8 | w>>8
		}
		return out
	}

	cases := []struct {
		dt    config.DataType
		words []uint16
	}{
		{config.DataTypeFloat32BE, be},
		{config.DataTypeFloat32LE, byteSwapEach(wordSwap)},
		{config.DataTypeFloat32BEBS, byteSwapEach(be)},
		{config.DataTypeFloat32LEBS, wordSwap},
	}
	for _, c := range cases {
		v, err := Decode(c.dt, c.words)
		require.NoError(t, err, c.dt)
		assert.InDelta(t, 3.1415927, v.(float64), 0.0001, c.dt)
	}
}

func TestDecodeInt16Signed(t *testing.T) {
	v, err := Decode(config.DataTypeInt16, []uint16{0xFFFF})
	require.NoError(t, err)
	assert.Equal(t, float64(-1), v)
}

func TestDecodeUint16(t *testing.T) {
	v, err := Decode(config.DataTypeUint16, []uint16{0xFFFF})
	require.NoError(t, err)
	assert.Equal(t, float64(65535), v)
}

func TestDecodeBool(t *testing.T) {
	v, err := Decode(config.DataTypeBool, []uint16{0x0001})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Decode(config.DataTypeBool, []uint16{0x0000})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestDecodeWrongWordCount(t *testing.T) {
	_, err := Decode(config.DataTypeFloat32BE, []uint16{0x4049})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeUnsupportedDataType(t *testing.T) {
	_, err := Decode(config.DataType("BOGUS"), []uint16{0x0001})
	assert.ErrorIs(t, err, config.ErrUnsupportedDataType)
}

func TestApplyScale(t *testing.T) {
	assert.Equal(t, 12.5, ApplyScale(100, 0.1, 2.5))
}

func TestWordsFromRegisterBytes(t *testing.T) {
	words, err := WordsFromRegisterBytes([]byte{0x00, 0x01, 0x00, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, words)

	_, err = WordsFromRegisterBytes([]byte{0x00})
	assert.ErrorIs(t, err, ErrWrongByteCount)
}
