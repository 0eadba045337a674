package radio

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kabili207/lorastar-go/core/clock"
	"github.com/kabili207/lorastar-go/core/codec"
)

// DefaultTxTimeout bounds how long a transmission may wait for tx-done.
const DefaultTxTimeout = 3 * time.Second

// Packet is a received radio packet. Data aliases the link's receive buffer
// and is only valid during the PacketFunc call.
type Packet struct {
	Data []byte
	RSSI int
	SNR  float32
	// Truncated is set when the packet was larger than MaxPacketSize.
	Truncated bool
}

// PacketFunc handles one received packet.
type PacketFunc func(pkt *Packet)

// LinkConfig configures a Link.
type LinkConfig struct {
	Driver Driver
	// TxTimeout is how long a transmission may wait for tx-done before the
	// link gives up on it and returns to receive mode. Default: 3s.
	TxTimeout time.Duration
	// Logger for link events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// LinkStats is a point-in-time copy of the link counters.
type LinkStats struct {
	Sent       uint32
	Received   uint32
	TxDone     uint32
	TxTimeouts uint32
	SendErrors uint32
}

// Link sends envelopes through a Driver and services its receive interrupt.
//
// The receive handler installed on the driver only raises a flag. Packets are
// read out by Drain on the poll loop goroutine. The tx-done handler re-arms
// receive mode directly.
type Link struct {
	drv       Driver
	log       *slog.Logger
	txTimeout time.Duration

	pending atomic.Bool
	txBusy  atomic.Bool
	txStart atomic.Uint32

	sent       atomic.Uint32
	received   atomic.Uint32
	txDone     atomic.Uint32
	txTimeouts atomic.Uint32
	sendErrs   atomic.Uint32

	buf [MaxPacketSize]byte
	out [codec.EnvelopeSize]byte
}

// NewLink wraps a driver and installs its interrupt handlers.
func NewLink(cfg LinkConfig) *Link {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = DefaultTxTimeout
	}
	l := &Link{
		drv:       cfg.Driver,
		log:       logger.WithGroup("radio"),
		txTimeout: cfg.TxTimeout,
	}
	l.drv.SetReceiveHandler(l.onReceive)
	l.drv.SetTxDoneHandler(l.onTxDone)
	return l
}

// Start applies p and enters receive mode.
func (l *Link) Start(p Params) error {
	if err := l.Configure(p); err != nil {
		return err
	}
	l.log.Info("radio started", "params", p.String())
	return nil
}

// Configure validates and applies new radio parameters, then returns to
// receive mode.
func (l *Link) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := l.drv.Configure(p); err != nil {
		return fmt.Errorf("configure radio: %w", err)
	}
	if err := l.drv.SetReceiveMode(); err != nil {
		return fmt.Errorf("enter receive mode: %w", err)
	}
	return nil
}

// Send transmits one envelope at tick now without waiting for completion.
// The driver's tx-done handler puts the transceiver back into receive mode.
func (l *Link) Send(env *codec.Envelope, now uint32) error {
	env.WriteTo(&l.out)
	if err := l.transmit(l.out[:], now); err != nil {
		l.sendErrs.Add(1)
		return err
	}
	l.sent.Add(1)
	return nil
}

func (l *Link) transmit(data []byte, now uint32) error {
	if err := l.drv.SetTransmitMode(); err != nil {
		return fmt.Errorf("enter transmit mode: %w", err)
	}
	if err := l.drv.BeginFrame(); err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}
	l.txStart.Store(now)
	l.txBusy.Store(true)
	if _, err := l.drv.Write(data); err != nil {
		l.txBusy.Store(false)
		_ = l.drv.SetReceiveMode()
		return fmt.Errorf("write frame: %w", err)
	}
	if err := l.drv.EndFrame(false); err != nil {
		l.txBusy.Store(false)
		_ = l.drv.SetReceiveMode()
		return fmt.Errorf("end frame: %w", err)
	}
	return nil
}

// Pending reports whether the receive interrupt fired since the last Drain.
func (l *Link) Pending() bool {
	return l.pending.Load()
}

// Transmitting reports whether a transmission is waiting for tx-done.
func (l *Link) Transmitting() bool {
	return l.txBusy.Load()
}

// ExpireTx abandons a transmission whose tx-done has not arrived within the
// tx timeout and returns the transceiver to receive mode. It reports whether
// a transmission was abandoned.
func (l *Link) ExpireTx(now uint32) bool {
	if !l.txBusy.Load() || !clock.Due(now, l.txStart.Load(), l.txTimeout) {
		return false
	}
	if !l.txBusy.CompareAndSwap(true, false) {
		return false
	}
	l.txTimeouts.Add(1)
	l.log.Warn("tx-done not received, transmission abandoned", "timeout", l.txTimeout)
	if err := l.drv.SetReceiveMode(); err != nil {
		l.log.Warn("failed to re-enter receive mode", "error", err)
	}
	return true
}

// Drain reads every packet the driver has buffered and hands each to fn. It
// returns the number of packets handled. Drain must be called from the poll
// loop, never from an interrupt handler.
func (l *Link) Drain(fn PacketFunc) int {
	if !l.pending.Swap(false) {
		return 0
	}
	n := 0
	for {
		size := l.drv.ParsePacket()
		if size == 0 {
			return n
		}
		pkt := l.read(size)
		l.received.Add(1)
		n++
		fn(&pkt)
	}
}

func (l *Link) read(size int) Packet {
	pkt := Packet{
		RSSI:      l.drv.LastRSSI(),
		SNR:       l.drv.LastSNR(),
		Truncated: size > len(l.buf),
	}
	i := 0
	for l.drv.Available() > 0 {
		b, err := l.drv.ReadByte()
		if err != nil {
			break
		}
		if i < len(l.buf) {
			l.buf[i] = b
			i++
		}
	}
	pkt.Data = l.buf[:i]
	return pkt
}

// Stats returns the link counters.
func (l *Link) Stats() LinkStats {
	return LinkStats{
		Sent:       l.sent.Load(),
		Received:   l.received.Load(),
		TxDone:     l.txDone.Load(),
		TxTimeouts: l.txTimeouts.Load(),
		SendErrors: l.sendErrs.Load(),
	}
}

func (l *Link) onReceive(int) {
	l.pending.Store(true)
}

func (l *Link) onTxDone() {
	l.txBusy.Store(false)
	l.txDone.Add(1)
	if err := l.drv.SetReceiveMode(); err != nil {
		l.log.Warn("failed to re-enter receive mode", "error", err)
	}
}
