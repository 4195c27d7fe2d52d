package modbus

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const mbapProtocolID = 0x0000
const mbapHeaderLen = 7

// transactionCounter produces wrapping 16-bit transaction identifiers
// shared across every TCP device; wrap-around is harmless since a
// transaction id only needs to be unique among requests in flight on one
// connection.
var transactionCounter uint32

func nextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&transactionCounter, 1))
}

// BuildTCPRequest wraps a PDU (unit id, function code, address, quantity)
// in an MBAP header: transaction id, protocol id (always 0), length
// (unit id + PDU bytes that follow), and unit id.
func BuildTCPRequest(unit uint8, fn FunctionCode, address, quantity uint16) ([]byte, error) {
	if !fn.Valid() {
		return nil, fmt.Errorf("%w: function code %d", ErrWrongFunction, fn)
	}
	pdu := make([]byte, 5)
	pdu[0] = uint8(fn)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], quantity)

	frame := make([]byte, mbapHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], nextTransactionID())
	binary.BigEndian.PutUint16(frame[2:4], mbapProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], uint16(1+len(pdu)))
	frame[6] = unit
	copy(frame[7:], pdu)
	return frame, nil
}

// TCPResponse is a parsed, MBAP-validated TCP response.
type TCPResponse struct {
	TransactionID uint16
	Unit          uint8
	Function      FunctionCode
	Data          []byte
}

// ParseTCPResponse validates the MBAP header (protocol id must be 0,
// declared length must match the frame) and returns the decoded payload.
func ParseTCPResponse(frame []byte) (*TCPResponse, error) {
	if len(frame) < mbapHeaderLen+2 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(frame))
	}
	transactionID := binary.BigEndian.Uint16(frame[0:2])
	protocolID := binary.BigEndian.Uint16(frame[2:4])
	length := binary.BigEndian.Uint16(frame[4:6])
	unit := frame[6]

	if protocolID != mbapProtocolID {
		return nil, fmt.Errorf("%w: protocol id 0x%04x", ErrInvalidMBAP, protocolID)
	}
	if int(length) != len(frame)-6 {
		return nil, fmt.Errorf("%w: length field %d, remaining %d", ErrInvalidMBAP, length, len(frame)-6)
	}

	pdu := frame[7:]
	fn := pdu[0]
	if fn&0x80 != 0 {
		if len(pdu) < 2 {
			return nil, fmt.Errorf("%w: exception pdu too short", ErrShortFrame)
		}
		return nil, &ExceptionError{Function: fn &^ 0x80, Exception: pdu[1]}
	}
	if !FunctionCode(fn).Valid() {
		return nil, fmt.Errorf("%w: got 0x%02x", ErrWrongFunction, fn)
	}
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: missing byte count", ErrShortFrame)
	}
	byteCount := int(pdu[1])
	payload := pdu[2:]
	if len(payload) != byteCount {
		return nil, fmt.Errorf("%w: header says %d, frame has %d", ErrWrongByteCount, byteCount, len(payload))
	}
	return &TCPResponse{TransactionID: transactionID, Unit: unit, Function: FunctionCode(fn), Data: payload}, nil
}
