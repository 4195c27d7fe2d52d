package modbus

import (
	"errors"
	"fmt"
)

// Protocol-layer errors, per spec §7's Protocol taxonomy. These describe
// malformed or unexpected wire content; they carry no opinion about
// whether the caller should retry (that is the Transport/PollingEngine's
// concern).
var (
	ErrInvalidCRC          = errors.New("invalid crc")
	ErrInvalidMBAP         = errors.New("invalid mbap header")
	ErrShortFrame          = errors.New("frame too short")
	ErrWrongFunction       = errors.New("response function code mismatch")
	ErrUnsupportedDataType = errors.New("unsupported data type")
	ErrWrongByteCount      = errors.New("response byte count mismatch")
)

// ExceptionError wraps a Modbus exception response (function code with the
// high bit set, followed by a one-byte exception code).
type ExceptionError struct {
	Function  uint8
	Exception uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception: function 0x%02x, code 0x%02x (%s)", e.Function, e.Exception, exceptionName(e.Exception))
}

func exceptionName(code uint8) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "slave device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "slave device busy"
	case 0x08:
		return "memory parity error"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target device failed to respond"
	default:
		return "unknown"
	}
}
