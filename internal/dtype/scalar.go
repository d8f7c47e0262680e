package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeScalar reads one element of d from the front of raw, returning
// it widened to float64 for the reference accelerator's arithmetic. raw
// must be exactly d.Width() bytes.
func DecodeScalar(d DType, raw []byte) (float64, error) {
	if len(raw) != d.Width() {
		return 0, fmt.Errorf("dtype: decoding %s scalar: want %d bytes, got %d", d, d.Width(), len(raw))
	}
	switch d {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case Float16:
		return float64(float16ToFloat32(binary.LittleEndian.Uint16(raw))), nil
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(raw))), nil
	case Uint8:
		return float64(raw[0]), nil
	default:
		return 0, fmt.Errorf("dtype: cannot decode scalar of dtype %s", d)
	}
}

// EncodeScalar writes v as one element of d, truncating/rounding as the
// target type requires.
func EncodeScalar(d DType, v float64) ([]byte, error) {
	buf := make([]byte, d.Width())
	switch d {
	case Float32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	case Float16:
		binary.LittleEndian.PutUint16(buf, float32ToFloat16(float32(v)))
	case Int32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case Uint8:
		buf[0] = byte(uint8(v))
	default:
		return nil, fmt.Errorf("dtype: cannot encode scalar of dtype %s", d)
	}
	return buf, nil
}

// float16ToFloat32 converts an IEEE 754 binary16 bit pattern to float32.
// Subnormals and infinities are handled; NaN payloads are not preserved.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := (h >> 10) & 0x1f
	frac := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize by shifting the fractional bits left.
		e := 1
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		bits := sign | uint32(e+127-15)<<23 | frac<<13
		return math.Float32frombits(bits)
	case 0x1f:
		bits := sign | 0xff<<23 | frac<<13
		return math.Float32frombits(bits)
	default:
		bits := sign | (uint32(exp)-15+127)<<23 | frac<<13
		return math.Float32frombits(bits)
	}
}

// float32ToFloat16 converts a float32 to IEEE 754 binary16, truncating
// the mantissa toward zero. Values too small for a binary16 subnormal
// become signed zero; values too large (and NaN) become signed infinity.
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	frac := bits & 0x7fffff

	switch {
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		return sign | uint16((frac|0x800000)>>uint32(14-exp))
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		return sign | uint16(exp)<<10 | uint16(frac>>13)
	}
}
