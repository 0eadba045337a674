// Package radio connects the protocol engine to a LoRa transceiver.
//
// Driver is the narrow transceiver interface the engine consumes. Link builds
// the envelope transmit sequence on top of it and turns the driver's receive
// interrupt into a flag that the poll loop services.
package radio

import "errors"

var (
	ErrNotReady = errors.New("radio not ready")
	ErrTooLarge = errors.New("packet exceeds radio payload size")
)

// MaxPacketSize is the largest LoRa payload.
const MaxPacketSize = 255

// Driver is a packet-mode LoRa transceiver.
//
// The receive and tx-done handlers are invoked from the driver's interrupt
// context (a driver goroutine on a host). They must not block.
type Driver interface {
	// SetReceiveMode puts the transceiver into continuous receive.
	SetReceiveMode() error
	// SetTransmitMode idles the transceiver ahead of a transmission.
	SetTransmitMode() error

	// BeginFrame starts assembling an outbound packet.
	BeginFrame() error
	// Write appends bytes to the packet being assembled.
	Write(p []byte) (int, error)
	// EndFrame transmits the assembled packet. With wait false it returns
	// as soon as the transmission has started. The tx-done handler fires
	// when the transmission completes in either case.
	EndFrame(wait bool) error

	// ParsePacket moves the next received packet into the read buffer and
	// returns its size, or 0 if nothing has been received.
	ParsePacket() int
	// Available returns the unread bytes of the current packet.
	Available() int
	// ReadByte reads the next byte of the current packet.
	ReadByte() (byte, error)
	// LastRSSI and LastSNR describe the current packet.
	LastRSSI() int
	LastSNR() float32

	// Configure applies modulation and RF parameters.
	Configure(p Params) error

	// SetReceiveHandler registers the packet-received interrupt handler.
	SetReceiveHandler(fn func(size int))
	// SetTxDoneHandler registers the transmission-complete handler.
	SetTxDoneHandler(fn func())
}
