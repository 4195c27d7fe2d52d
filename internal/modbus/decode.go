package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fieldgate/gateway/internal/config"
)

// endianness describes how the words of a multi-word value are ordered
// (BE = register array order as received, LE = reversed) and whether the
// two bytes inside each word are swapped, independently of word order.
type endianness struct {
	reverseWords bool
	swapBytes    bool
}

// BE is register order, bytes as received (ABCD). LE fully byte-reverses
// the raw bytes (DCBA). BE_BS keeps word order but swaps the two bytes
// within each word (BADC). LE_BS swaps word order only, bytes within each
// word untouched (CDAB) — easy to confuse with LE since both reverse word
// order; LE additionally reverses bytes, LE_BS does not.
var endiannessByDataType = map[config.DataType]endianness{
	config.DataTypeInt32BE: {false, false}, config.DataTypeInt32LE: {true, true},
	config.DataTypeInt32BEBS: {false, true}, config.DataTypeInt32LEBS: {true, false},

	config.DataTypeUint32BE: {false, false}, config.DataTypeUint32LE: {true, true},
	config.DataTypeUint32BEBS: {false, true}, config.DataTypeUint32LEBS: {true, false},

	config.DataTypeFloat32BE: {false, false}, config.DataTypeFloat32LE: {true, true},
	config.DataTypeFloat32BEBS: {false, true}, config.DataTypeFloat32LEBS: {true, false},

	config.DataTypeInt64BE: {false, false}, config.DataTypeInt64LE: {true, true},
	config.DataTypeInt64BEBS: {false, true}, config.DataTypeInt64LEBS: {true, false},

	config.DataTypeUint64BE: {false, false}, config.DataTypeUint64LE: {true, true},
	config.DataTypeUint64BEBS: {false, true}, config.DataTypeUint64LEBS: {true, false},

	config.DataTypeDouble64BE: {false, false}, config.DataTypeDouble64LE: {true, true},
	config.DataTypeDouble64BEBS: {false, true}, config.DataTypeDouble64LEBS: {true, false},
}

// wordsToBytes reassembles raw register words into a canonical big-endian
// byte slice, undoing the word-order and intra-word byte-swap described by
// e. Downstream decoding always proceeds via encoding/binary.BigEndian.
func wordsToBytes(words []uint16, e endianness) []byte {
	order := words
	if e.reverseWords {
		order = make([]uint16, len(words))
		for i, w := range words {
			order[len(words)-1-i] = w
		}
	}
	buf := make([]byte, len(order)*2)
	for i, w := range order {
		hi, lo := byte(w>>8), byte(w)
		if e.swapBytes {
			hi, lo = lo, hi
		}
		buf[i*2] = hi
		buf[i*2+1] = lo
	}
	return buf
}

// Decode interprets raw register words as dt and returns a bool (BOOL),
// []byte (BINARY), or float64 (every numeric variant, unscaled). The
// caller applies RegisterConfig's Scale/Offset afterward; Decode only
// undoes the wire encoding.
func Decode(dt config.DataType, words []uint16) (any, error) {
	width, err := dt.WidthWords()
	if err != nil {
		return nil, err
	}
	if uint16(len(words)) != width {
		return nil, fmt.Errorf("%w: %s needs %d words, got %d", ErrShortFrame, dt, width, len(words))
	}

	switch dt {
	case config.DataTypeBool:
		return words[0]&0x0001 != 0, nil
	case config.DataTypeBinary:
		return wordsToBytes(words, endianness{}), nil
	case config.DataTypeInt16:
		return float64(int16(words[0])), nil
	case config.DataTypeUint16:
		return float64(words[0]), nil
	}

	e, ok := endiannessByDataType[dt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDataType, dt)
	}
	buf := wordsToBytes(words, e)

	switch dt {
	case config.DataTypeInt32BE, config.DataTypeInt32LE, config.DataTypeInt32BEBS, config.DataTypeInt32LEBS:
		return float64(int32(binary.BigEndian.Uint32(buf))), nil
	case config.DataTypeUint32BE, config.DataTypeUint32LE, config.DataTypeUint32BEBS, config.DataTypeUint32LEBS:
		return float64(binary.BigEndian.Uint32(buf)), nil
	case config.DataTypeFloat32BE, config.DataTypeFloat32LE, config.DataTypeFloat32BEBS, config.DataTypeFloat32LEBS:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(buf))), nil
	case config.DataTypeInt64BE, config.DataTypeInt64LE, config.DataTypeInt64BEBS, config.DataTypeInt64LEBS:
		return float64(int64(binary.BigEndian.Uint64(buf))), nil
	case config.DataTypeUint64BE, config.DataTypeUint64LE, config.DataTypeUint64BEBS, config.DataTypeUint64LEBS:
		return float64(binary.BigEndian.Uint64(buf)), nil
	case config.DataTypeDouble64BE, config.DataTypeDouble64LE, config.DataTypeDouble64BEBS, config.DataTypeDouble64LEBS:
		return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDataType, dt)
	}
}

// ApplyScale converts a raw decoded numeric reading into its engineering
// value: value*scale + offset.
func ApplyScale(raw, scale, offset float64) float64 {
	return raw*scale + offset
}

// WordsFromRegisterBytes slices a payload (as returned by ParseRTUResponse/
// ParseTCPResponse) into big-endian 16-bit words, one per register.
func WordsFromRegisterBytes(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd register payload length %d", ErrWrongByteCount, len(data))
	}
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
	}
	return words, nil
}
