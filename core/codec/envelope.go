package codec

import (
	"errors"
	"fmt"
)

const (
	// EnvelopeSize is the over-the-air size: network ID, peer address and one
	// ciphertext block.
	EnvelopeSize = 2 + FrameSize

	// DefaultNetworkID is the network ID used when none is configured.
	DefaultNetworkID = 0xF3
)

// ErrForeignNetwork is returned for envelopes carrying another network's ID.
// Such frames are expected under shared-spectrum interference.
var ErrForeignNetwork = errors.New("foreign network")

// Envelope is the over-the-air unit.
type Envelope struct {
	NetworkID  uint8
	Peer       uint8
	Ciphertext Block
}

// WriteTo serializes the envelope into dst as a fixed-length byte sequence.
func (e *Envelope) WriteTo(dst *[EnvelopeSize]byte) {
	dst[0] = e.NetworkID
	dst[1] = e.Peer
	copy(dst[2:], e.Ciphertext[:])
}

// Bytes returns the wire encoding of the envelope.
func (e *Envelope) Bytes() []byte {
	var buf [EnvelopeSize]byte
	e.WriteTo(&buf)
	return buf[:]
}

// UnwrapEnvelope parses wire bytes. The length must be exactly EnvelopeSize.
func UnwrapEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if len(data) != EnvelopeSize {
		return e, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedEnvelope, len(data), EnvelopeSize)
	}
	e.NetworkID = data[0]
	e.Peer = data[1]
	copy(e.Ciphertext[:], data[2:])
	return e, nil
}

// CheckNetwork rejects envelopes from other networks. It runs before any
// decryption is attempted.
func (e *Envelope) CheckNetwork(local uint8) error {
	if e.NetworkID != local {
		return fmt.Errorf("%w: %#02x", ErrForeignNetwork, e.NetworkID)
	}
	return nil
}

// Accepts reports whether a node with the given address should process an
// envelope sent to peer.
func Accepts(self, peer uint8) bool {
	return peer == self || peer == BroadcastID
}
