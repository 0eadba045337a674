// Package bridge drives a LoRa modem co-processor attached over a UART.
//
// Host and modem exchange CBOR messages of the form [msg_type, {key: value}],
// each carried in a frame of [0xC03E][length][payload][fletcher16]. The modem
// reports received packets and transmission completion asynchronously; the
// driver buffers received packets until the poll loop calls ParsePacket.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kabili207/lorastar-go/radio"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ radio.Driver = (*Driver)(nil)

const (
	// DefaultBaudRate is the default modem UART speed.
	DefaultBaudRate = 115200

	// DefaultRxQueueSize is the default number of buffered received packets.
	DefaultRxQueueSize = 8

	// DefaultTxTimeout bounds EndFrame(true).
	DefaultTxTimeout = 2 * time.Second

	readBufSize = 512
)

var ErrTxTimeout = errors.New("timed out waiting for tx-done")

// Config holds the configuration for a bridge driver.
type Config struct {
	// Port is the open modem UART.
	Port io.ReadWriteCloser
	// RxQueueSize is the number of buffered received packets. Default: 8.
	RxQueueSize int
	// TxTimeout bounds a waiting EndFrame. Default: 2s.
	TxTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

type rxPacket struct {
	data []byte
	rssi int
	snr  float32
}

// Stats counts modem traffic.
type Stats struct {
	FramesIn    uint32
	FramesOut   uint32
	BadFrames   uint32
	RxOverflows uint32
}

// Driver implements radio.Driver over a modem UART.
type Driver struct {
	cfg Config
	log *slog.Logger

	wmu sync.Mutex // serialises port writes

	mu        sync.Mutex
	frame     []byte
	building  bool
	rx        []rxPacket
	cur       []byte
	pos       int
	rssi      int
	snr       float32
	onReceive func(size int)
	onTxDone  func()

	txDone chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	framesIn    atomic.Uint32
	framesOut   atomic.Uint32
	badFrames   atomic.Uint32
	rxOverflows atomic.Uint32
}

// New creates a bridge driver on an open port. Call Start to begin reading.
func New(cfg Config) *Driver {
	if cfg.RxQueueSize <= 0 {
		cfg.RxQueueSize = DefaultRxQueueSize
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = DefaultTxTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Driver{
		cfg:    cfg,
		log:    cfg.Logger.WithGroup("bridge"),
		txDone: make(chan struct{}, 1),
	}
}

// Open opens the modem UART and creates a driver on it.
func Open(path string, baud int, logger *slog.Logger) (*Driver, error) {
	if path == "" {
		return nil, errors.New("modem port is required")
	}
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("opening modem port: %w", err)
	}
	return New(Config{Port: port, Logger: logger}), nil
}

// Start begins reading modem notifications.
func (d *Driver) Start(ctx context.Context) {
	readCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.readLoop(readCtx)
}

// Close stops the read loop and closes the port.
func (d *Driver) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	err := d.cfg.Port.Close()
	if d.done != nil {
		<-d.done
	}
	return err
}

// Stats returns the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		FramesIn:    d.framesIn.Load(),
		FramesOut:   d.framesOut.Load(),
		BadFrames:   d.badFrames.Load(),
		RxOverflows: d.rxOverflows.Load(),
	}
}

func (d *Driver) SetReceiveMode() error {
	return d.send(MsgSetMode, map[int]interface{}{KeyMode: ModeReceive})
}

func (d *Driver) SetTransmitMode() error {
	return d.send(MsgSetMode, map[int]interface{}{KeyMode: ModeStandby})
}

func (d *Driver) BeginFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.building = true
	d.frame = d.frame[:0]
	return nil
}

func (d *Driver) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.building {
		return 0, radio.ErrNotReady
	}
	if len(d.frame)+len(p) > radio.MaxPacketSize {
		return 0, radio.ErrTooLarge
	}
	d.frame = append(d.frame, p...)
	return len(p), nil
}

func (d *Driver) EndFrame(wait bool) error {
	d.mu.Lock()
	if !d.building {
		d.mu.Unlock()
		return radio.ErrNotReady
	}
	d.building = false
	data := append([]byte(nil), d.frame...)
	d.mu.Unlock()

	// drop a stale completion from an earlier unawaited transmission
	select {
	case <-d.txDone:
	default:
	}

	if err := d.send(MsgTransmit, map[int]interface{}{KeyData: data}); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	select {
	case <-d.txDone:
		return nil
	case <-time.After(d.cfg.TxTimeout):
		return ErrTxTimeout
	}
}

func (d *Driver) ParsePacket() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		d.cur, d.pos = nil, 0
		return 0
	}
	p := d.rx[0]
	d.rx = d.rx[1:]
	d.cur, d.pos, d.rssi, d.snr = p.data, 0, p.rssi, p.snr
	return len(p.data)
}

func (d *Driver) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cur) - d.pos
}

func (d *Driver) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.cur) {
		return 0, io.EOF
	}
	b := d.cur[d.pos]
	d.pos++
	return b, nil
}

func (d *Driver) LastRSSI() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rssi
}

func (d *Driver) LastSNR() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snr
}

func (d *Driver) Configure(p radio.Params) error {
	return d.send(MsgConfigure, map[int]interface{}{
		KeyBandwidth:       uint64(p.Bandwidth),
		KeyCodingRate:      uint64(p.CodingRate),
		KeySpreadingFactor: uint64(p.SpreadingFactor),
		KeyFrequency:       uint64(p.Frequency),
		KeyTxPower:         int64(p.TxPower),
	})
}

func (d *Driver) SetReceiveHandler(fn func(size int)) {
	d.mu.Lock()
	d.onReceive = fn
	d.mu.Unlock()
}

func (d *Driver) SetTxDoneHandler(fn func()) {
	d.mu.Lock()
	d.onTxDone = fn
	d.mu.Unlock()
}

func (d *Driver) send(msgType uint8, payload map[int]interface{}) error {
	msg, err := EncodeMessage(msgType, payload)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if _, err := d.cfg.Port.Write(frame); err != nil {
		return fmt.Errorf("writing to modem: %w", err)
	}
	d.framesOut.Add(1)
	return nil
}

// readLoop continuously reads from the modem and assembles frames.
func (d *Driver) readLoop(ctx context.Context) {
	defer close(d.done)

	buf := make([]byte, readBufSize)
	var assembly []byte
	for {
		n, err := d.cfg.Port.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				d.log.Error("modem read error", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		assembly = append(assembly, buf[:n]...)
		assembly = d.processFrames(assembly)
	}
}

// processFrames handles every complete frame in data and returns the bytes
// that do not yet form one.
func (d *Driver) processFrames(data []byte) []byte {
	for len(data) >= MinFrameSize {
		payload, rest, err := DecodeFrame(data)
		if err != nil {
			if errors.Is(err, ErrIncompleteFrame) {
				return data
			}
			d.badFrames.Add(1)
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}
		data = rest
		d.framesIn.Add(1)
		d.handleMessage(payload)
	}
	return data
}

func (d *Driver) handleMessage(payload []byte) {
	msgType, m, err := ParseMessage(payload)
	if err != nil {
		d.badFrames.Add(1)
		d.log.Debug("failed to parse modem message", "error", err)
		return
	}

	switch msgType {
	case MsgPacketReceived:
		data, ok := mapBytes(m, KeyData)
		if !ok {
			d.badFrames.Add(1)
			return
		}
		rssi, _ := mapInt(m, KeyRSSI)
		snr, _ := mapFloat(m, KeySNR)

		d.mu.Lock()
		if len(d.rx) >= d.cfg.RxQueueSize {
			d.mu.Unlock()
			d.rxOverflows.Add(1)
			d.log.Warn("receive buffer full, packet dropped", "size", len(data))
			return
		}
		d.rx = append(d.rx, rxPacket{data: data, rssi: int(rssi), snr: float32(snr)})
		handler := d.onReceive
		d.mu.Unlock()
		if handler != nil {
			handler(len(data))
		}

	case MsgTxDone:
		select {
		case d.txDone <- struct{}{}:
		default:
		}
		d.mu.Lock()
		handler := d.onTxDone
		d.mu.Unlock()
		if handler != nil {
			handler()
		}

	default:
		d.log.Debug("ignoring modem message", "type", msgType)
	}
}
