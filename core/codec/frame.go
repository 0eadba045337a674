package codec

import (
	"errors"
	"fmt"
)

const (
	// FrameSize is the plaintext frame size: exactly one cipher block.
	FrameSize = 16

	// FrameLength is the constant value of the length byte. It counts the
	// semantic bytes of the frame and is kept for framing compatibility with
	// older firmware.
	FrameLength = 8

	// MaxFieldValue is the largest value any semantic byte may carry. Every
	// byte is transmitted as value+1, so 0xFF would wrap to 0x00.
	MaxFieldValue = 0xFE

	// BroadcastID addresses every node in the network.
	BroadcastID = 0xFE

	// MinNodeID and MaxNodeID bound unicast node addresses.
	MinNodeID = 1
	MaxNodeID = 0xFD

	// MaxMessageID is the largest valid message ID. Zero is reserved.
	MaxMessageID = MaxFieldValue

	// Frame byte offsets
	offPeer          = 0
	offMessageID     = 1
	offLength        = 2
	offKind          = 3
	offField1        = 4
	offField2        = 5
	offBatteryWhole  = 6
	offBatteryTenths = 7
)

var (
	// ErrDecode is the parent of every frame or envelope decoding failure.
	ErrDecode = errors.New("decode error")

	ErrUnknownKind       = fmt.Errorf("%w: unknown kind", ErrDecode)
	ErrBadLength         = fmt.Errorf("%w: unexpected length byte", ErrDecode)
	ErrZeroMessageID     = fmt.Errorf("%w: message ID is zero", ErrDecode)
	ErrNonZeroPadding    = fmt.Errorf("%w: non-zero padding", ErrDecode)
	ErrUnbiasedByte      = fmt.Errorf("%w: zero byte in field position", ErrDecode)
	ErrMalformedEnvelope = fmt.Errorf("%w: malformed envelope", ErrDecode)
	ErrPeerMismatch      = fmt.Errorf("%w: frame peer does not match envelope", ErrDecode)

	ErrFieldRange = errors.New("field value out of range")
)

// Frame is the decoded plaintext protocol unit.
type Frame struct {
	PeerID    uint8
	MessageID uint8
	Kind      Kind
	Field1    uint8 // Sensor or actuator index
	Field2    uint8 // Sensor or actuator value

	BatteryWhole  uint8
	BatteryTenths uint8
}

// Block is a fixed 16-byte plaintext or ciphertext block. It is never
// interpreted as text.
type Block [FrameSize]byte

// Battery returns the battery voltage carried by the frame.
func (f *Frame) Battery() float32 {
	return float32(f.BatteryWhole) + float32(f.BatteryTenths)/10
}

// SetBattery splits a voltage into whole volts and tenths, clamping to the
// representable range.
func (f *Frame) SetBattery(volts float32) {
	if volts < 0 {
		volts = 0
	}
	tenths := int(volts*10 + 0.5)
	whole := tenths / 10
	if whole > MaxFieldValue {
		whole, tenths = MaxFieldValue, MaxFieldValue*10+9
	}
	f.BatteryWhole = uint8(whole)
	f.BatteryTenths = uint8(tenths % 10)
}

// Validate checks that the frame can be encoded.
func (f *Frame) Validate() error {
	if !f.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, byte(f.Kind))
	}
	if f.MessageID == 0 {
		return ErrZeroMessageID
	}
	for _, v := range [...]uint8{f.PeerID, f.MessageID, f.Field1, f.Field2, f.BatteryWhole, f.BatteryTenths} {
		if v > MaxFieldValue {
			return fmt.Errorf("%w: %d", ErrFieldRange, v)
		}
	}
	return nil
}

// EncodeFrame packs f into dst. Every semantic byte is biased by +1; the
// trailing bytes are zero filled.
func EncodeFrame(dst *Block, f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	*dst = Block{}
	dst[offPeer] = f.PeerID + 1
	dst[offMessageID] = f.MessageID + 1
	dst[offLength] = FrameLength + 1
	dst[offKind] = byte(f.Kind) + 1
	dst[offField1] = f.Field1 + 1
	dst[offField2] = f.Field2 + 1
	dst[offBatteryWhole] = f.BatteryWhole + 1
	dst[offBatteryTenths] = f.BatteryTenths + 1
	return nil
}

// DecodeFrame unpacks a plaintext block. Fields are read by fixed offset;
// the block is never scanned for a terminator.
func DecodeFrame(src *Block) (Frame, error) {
	var f Frame
	for _, b := range src[:FrameLength] {
		if b == 0 {
			return f, ErrUnbiasedByte
		}
	}
	if src[offLength]-1 != FrameLength {
		return f, fmt.Errorf("%w: %d", ErrBadLength, src[offLength]-1)
	}
	kind := Kind(src[offKind] - 1)
	if !kind.IsValid() {
		return f, fmt.Errorf("%w: %q", ErrUnknownKind, byte(kind))
	}
	for _, b := range src[FrameLength:] {
		if b != 0 {
			return f, ErrNonZeroPadding
		}
	}

	f = Frame{
		PeerID:        src[offPeer] - 1,
		MessageID:     src[offMessageID] - 1,
		Kind:          kind,
		Field1:        src[offField1] - 1,
		Field2:        src[offField2] - 1,
		BatteryWhole:  src[offBatteryWhole] - 1,
		BatteryTenths: src[offBatteryTenths] - 1,
	}
	if f.MessageID == 0 {
		return Frame{}, ErrZeroMessageID
	}
	return f, nil
}

// IsUnicast reports whether id is a valid unicast node address.
func IsUnicast(id uint8) bool {
	return id >= MinNodeID && id <= MaxNodeID
}
