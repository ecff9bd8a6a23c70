package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// vlqBounds are the ranges that fit in 1..4 continuation bytes, widest
// first. A value outside bounds[i] needs the 7-bit group at shifts[i].
var (
	vlqLow    = [4]int32{-(1 << 26), -(1 << 19), -(1 << 12), -(1 << 5)}
	vlqHigh   = [4]int32{3 << 26, 3 << 19, 3 << 12, 3 << 5}
	vlqShifts = [4]uint{28, 21, 14, 7}
)

// AppendVLQ appends the Klipper-style VLQ encoding of v to dst
func AppendVLQ(dst []byte, v int32) []byte {
	for i := range vlqShifts {
		if v < vlqLow[i] || v >= vlqHigh[i] {
			dst = append(dst, byte((v>>vlqShifts[i])&0x7F)|0x80)
		}
	}
	return append(dst, byte(v&0x7F))
}

// EncodeVLQInt encodes a signed integer to the output buffer
func EncodeVLQInt(output OutputBuffer, v int32) {
	var tmp [5]byte
	output.Output(AppendVLQ(tmp[:0], v))
}

// EncodeVLQUint encodes an unsigned integer to the output buffer
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt decodes a signed integer and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	buf := *data
	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := uint32(buf[0])
	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}

	n := 1
	for c&0x80 != 0 {
		if n >= len(buf) {
			return 0, ErrBufferTooSmall
		}
		if n > 4 {
			return 0, ErrInvalidVLQ
		}
		c = uint32(buf[n])
		v = v<<7 | c&0x7F
		n++
	}

	*data = buf[n:]
	return int32(v), nil
}

// DecodeVLQUint decodes an unsigned integer and advances data past it
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes encodes a byte array with a length prefix
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes decodes a length-prefixed byte array
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	length, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < length {
		return nil, ErrBufferTooSmall
	}
	result := (*data)[:length]
	*data = (*data)[length:]
	return result, nil
}

// EncodeVLQFixed encodes a float as a fixed-point integer with the given scale.
// Positions travel as micrometres and feed rates as micrometres per second.
func EncodeVLQFixed(output OutputBuffer, v float64, scale float64) {
	scaled := v * scale
	if scaled >= 0 {
		scaled += 0.5
	} else {
		scaled -= 0.5
	}
	EncodeVLQInt(output, int32(scaled))
}

// DecodeVLQFixed decodes a fixed-point value written by EncodeVLQFixed
func DecodeVLQFixed(data *[]byte, scale float64) (float64, error) {
	v, err := DecodeVLQInt(data)
	if err != nil {
		return 0, err
	}
	return float64(v) / scale, nil
}
