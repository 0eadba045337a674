package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic starts every frame on the UART.
	Magic uint16 = 0xC03E
	// MaxPayload bounds the payload length field.
	MaxPayload = 512
	// HeaderSize is magic (2) + length (2).
	HeaderSize = 4
	// ChecksumSize is the trailing Fletcher-16 checksum.
	ChecksumSize = 2
	// MinFrameSize is an empty-payload frame.
	MinFrameSize = HeaderSize + ChecksumSize
)

var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrInvalidMagic     = errors.New("invalid frame magic")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrIncompleteFrame  = errors.New("incomplete frame")
)

// EncodeFrame wraps payload for the UART.
// Format: [magic BE16][length BE16][payload][fletcher16 BE16]
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, HeaderSize+len(payload)+ChecksumSize)
	binary.BigEndian.PutUint16(frame[0:2], Magic)
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[HeaderSize:], payload)
	binary.BigEndian.PutUint16(frame[HeaderSize+len(payload):], Fletcher16(payload))
	return frame, nil
}

// DecodeFrame extracts the first frame from data. It returns the payload (a
// copy), the bytes following the frame and an error if no valid frame starts
// at data[0].
func DecodeFrame(data []byte) ([]byte, []byte, error) {
	if len(data) < MinFrameSize {
		return nil, data, ErrFrameTooShort
	}
	if binary.BigEndian.Uint16(data[0:2]) != Magic {
		return nil, data, ErrInvalidMagic
	}
	n := int(binary.BigEndian.Uint16(data[2:4]))
	if n > MaxPayload {
		return nil, data, ErrPayloadTooLarge
	}
	total := HeaderSize + n + ChecksumSize
	if len(data) < total {
		return nil, data, ErrIncompleteFrame
	}

	payload := data[HeaderSize : HeaderSize+n]
	got := binary.BigEndian.Uint16(data[HeaderSize+n : total])
	if want := Fletcher16(payload); got != want {
		return nil, data, fmt.Errorf("%w: expected %04x, got %04x", ErrChecksumMismatch, want, got)
	}
	return append([]byte(nil), payload...), data[total:], nil
}

// findMagic returns the index of the first magic sequence in data, or -1.
func findMagic(data []byte) int {
	hi, lo := byte(Magic>>8), byte(Magic&0xFF)
	for i := 0; i+1 < len(data); i++ {
		if data[i] == hi && data[i+1] == lo {
			return i
		}
	}
	return -1
}

// Fletcher16 computes the Fletcher-16 checksum of data.
func Fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}
