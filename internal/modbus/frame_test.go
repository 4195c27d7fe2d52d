package modbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16KnownVector(t *testing.T) {
	// Read Holding Registers request: slave 0x01, fn 0x03, addr 0x0000, qty 0x0002
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	crc := CRC16(frame)
	assert.Equal(t, uint16(0x0BC4), crc)
}

func TestBuildRTURequestAppendsCRC(t *testing.T) {
	frame, err := BuildRTURequest(1, FuncReadHoldingRegisters, 0, 2)
	require.NoError(t, err)
	require.Len(t, frame, 8)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}, frame)
}

func TestParseRTUResponseRoundTrip(t *testing.T) {
	body := []byte{0x01, 0x03, 0x04, 0x40, 0x49, 0x0F, 0xDB}
	crc := CRC16(body)
	frame := append(append([]byte{}, body...), byte(crc), byte(crc>>8))

	resp, err := ParseRTUResponse(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), resp.Slave)
	assert.Equal(t, FuncReadHoldingRegisters, resp.Function)
	assert.Equal(t, []byte{0x40, 0x49, 0x0F, 0xDB}, resp.Data)
}

func TestParseRTUResponseBadCRC(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x02, 0x00, 0x01, 0xFF, 0xFF}
	_, err := ParseRTUResponse(frame)
	assert.ErrorIs(t, err, ErrInvalidCRC)
}

func TestParseRTUResponseException(t *testing.T) {
	body := []byte{0x01, 0x83, 0x02}
	crc := CRC16(body)
	frame := append(append([]byte{}, body...), byte(crc), byte(crc>>8))

	_, err := ParseRTUResponse(frame)
	var exc *ExceptionError
	require.True(t, errors.As(err, &exc))
	assert.Equal(t, uint8(0x03), exc.Function)
	assert.Equal(t, uint8(0x02), exc.Exception)
}

func TestBuildAndParseTCPRequestResponse(t *testing.T) {
	req, err := BuildTCPRequest(1, FuncReadInputRegisters, 10, 2)
	require.NoError(t, err)
	require.Len(t, req, 12)

	resp := append([]byte{req[0], req[1], 0x00, 0x00, 0x00, 0x07, 0x01, 0x04, 0x04}, 0x00, 0x01, 0x00, 0x02)
	parsed, err := ParseTCPResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), parsed.Unit)
	assert.Equal(t, FuncReadInputRegisters, parsed.Function)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x02}, parsed.Data)
}

func TestParseTCPResponseBadLength(t *testing.T) {
	frame := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03, 0x02, 0x00, 0x01}
	_, err := ParseTCPResponse(frame)
	assert.ErrorIs(t, err, ErrInvalidMBAP)
}
