package protocol

import "errors"

var (
	ErrFrameTooLarge = errors.New("frame payload too large")
	ErrBadFrame      = errors.New("malformed frame")
)

// MaxPayload is the largest payload that fits in one frame
const MaxPayload = MessageLengthMax - MessageHeader - MessageTrailer

// AppendFrame wraps payload in a frame:
//
//	len | 0x10|seq | payload... | crc_hi | crc_lo | 0x7E
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, ErrFrameTooLarge
	}
	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageMin), MessageDest|seq&MessageSeqMask)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageSync), nil
}

// Frame is one decoded frame
type Frame struct {
	Seq     uint8
	Payload []byte
}

// FrameDecoder reassembles frames from a byte stream. Garbage between frames
// is skipped by resynchronising on the next sync byte.
type FrameDecoder struct {
	buf     []byte
	dropped int
}

// Write appends received bytes
func (d *FrameDecoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Dropped returns how many bytes were discarded while resynchronising
func (d *FrameDecoder) Dropped() int {
	return d.dropped
}

// Next returns the next complete frame. ok is false when more input is
// needed.
func (d *FrameDecoder) Next() (frame Frame, ok bool) {
	for len(d.buf) > 0 {
		if d.buf[0] == MessageSync {
			d.buf = d.buf[1:]
			continue
		}

		n := int(d.buf[0])
		if n < MessageMin || n > MessageLengthMax {
			d.resync()
			continue
		}
		if len(d.buf) < n {
			return Frame{}, false
		}

		raw := d.buf[:n]
		if raw[1]&^MessageSeqMask != MessageDest || raw[n-1] != MessageSync {
			d.resync()
			continue
		}
		crc := uint16(raw[n-3])<<8 | uint16(raw[n-2])
		if crc != CRC16(raw[:n-MessageTrailer]) {
			d.resync()
			continue
		}

		payload := append([]byte(nil), raw[MessageHeader:n-MessageTrailer]...)
		d.buf = d.buf[n:]
		return Frame{Seq: raw[1] & MessageSeqMask, Payload: payload}, true
	}
	return Frame{}, false
}

// resync drops bytes up to and including the next sync byte
func (d *FrameDecoder) resync() {
	for i, b := range d.buf {
		if b == MessageSync {
			d.dropped += i + 1
			d.buf = d.buf[i+1:]
			return
		}
	}
	d.dropped += len(d.buf)
	d.buf = d.buf[:0]
}

// SplitCommands walks a payload of VLQ command IDs each followed by their
// arguments. handle must consume its arguments from data.
func SplitCommands(payload []byte, handle func(cmdID uint16, data *[]byte) error) error {
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			return ErrBadFrame
		}
		before := len(payload)
		if err := handle(uint16(id), &payload); err != nil {
			return err
		}
		if len(payload) > before {
			return ErrBadFrame
		}
	}
	return nil
}
