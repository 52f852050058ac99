package bufsig

import (
	"encoding/binary"
	"math"

	"github.com/jsdrv/jsdrv-go/internal/uapi"
)

// readBits and writeBits address a flat byte buffer as an array of
// fixed-width samples. Every supported width (1, 4, 8, 16, 32, 64)
// divides evenly into a byte (or vice versa), so no sample ever spans
// a byte boundary — spec.md §4.6's "bit-shift handling for 1- and
// 4-bit streams" reduces to a same-byte shift+mask.
func readBits(buf []byte, idx uint64, bits uint8) uint64 {
	if bits >= 8 {
		byteLen := uint64(bits) / 8
		off := idx * byteLen
		switch byteLen {
		case 1:
			return uint64(buf[off])
		case 2:
			return uint64(binary.LittleEndian.Uint16(buf[off:]))
		case 4:
			return uint64(binary.LittleEndian.Uint32(buf[off:]))
		default:
			return binary.LittleEndian.Uint64(buf[off:])
		}
	}
	perByte := uint64(8 / bits)
	byteOff := idx / perByte
	shift := (idx % perByte) * uint64(bits)
	mask := uint64(1)<<bits - 1
	return (uint64(buf[byteOff]) >> shift) & mask
}

func writeBits(buf []byte, idx uint64, bits uint8, val uint64) {
	if bits >= 8 {
		byteLen := uint64(bits) / 8
		off := idx * byteLen
		switch byteLen {
		case 1:
			buf[off] = byte(val)
		case 2:
			binary.LittleEndian.PutUint16(buf[off:], uint16(val))
		case 4:
			binary.LittleEndian.PutUint32(buf[off:], uint32(val))
		default:
			binary.LittleEndian.PutUint64(buf[off:], val)
		}
		return
	}
	perByte := uint64(8 / bits)
	byteOff := idx / perByte
	shift := (idx % perByte) * uint64(bits)
	mask := uint64(1)<<bits - 1
	buf[byteOff] = buf[byteOff]&^(byte(mask)<<shift) | byte(val&mask)<<shift
}

// floatValue interprets a raw bit pattern as a float64 sample value
// per the signal's element type (spec.md §4.6).
func floatValue(raw uint64, elementType uint8, bits uint8) float64 {
	switch elementType {
	case uapi.ElementTypeFloat:
		return float64(math.Float32frombits(uint32(raw)))
	case uapi.ElementTypeSigned:
		return float64(signExtend(raw, bits))
	default: // ElementTypeUnsigned
		return float64(raw)
	}
}

func signExtend(raw uint64, bits uint8) int64 {
	shift := 64 - bits
	return int64(raw<<shift) >> shift
}

// fillValueRaw is the gap-fill pattern: NaN for float signals, zero
// for integer signals (spec.md §4.6).
func fillValueRaw(elementType uint8) uint64 {
	if elementType == uapi.ElementTypeFloat {
		return uint64(math.Float32bits(float32(math.NaN())))
	}
	return 0
}
