// Package protocol implements the framed command link used to feed moves to
// the motion core: VLQ-encoded arguments inside length/sequence/CRC frames.
package protocol

// Version of the command link
const Version = "0.1.0"

// Frame layout constants
const (
	MessageMax     = 512 // Maximum output buffer size
	MessageMin     = 5   // Minimum message size (header + trailer)
	MessageHeader  = 2   // length, sequence
	MessageTrailer = 3   // crc16 (2), sync (1)

	MessageLengthMax = 64   // Largest single frame on the wire
	MessageSync      = 0x7E // Frame terminator
	MessageDest      = 0x10 // High nibble of every sequence byte
	MessageSeqMask   = 0x0F
)
