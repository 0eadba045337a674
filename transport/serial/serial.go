// Package serial provides a host link over a serial port.
//
// Lines are newline framed in both directions: the gateway writes one relay
// record per line and reads downlink commands one per line.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kabili207/lorastar-go/transport"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.HostLink = (*Transport)(nil)

const (
	// DefaultBaudRate matches the gateway firmware's host UART.
	DefaultBaudRate = 9600

	// readBufSize is the size of the serial read buffer.
	readBufSize = 256
)

// Config holds the configuration for a serial host link.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 9600.
	BaudRate int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.HostLink over a serial connection.
type Transport struct {
	cfg          Config
	port         io.ReadWriteCloser
	log          *slog.Logger
	mu           sync.RWMutex
	wmu          sync.Mutex
	connected    bool
	cancel       context.CancelFunc
	done         chan struct{}
	lineHandler  transport.LineHandler
	stateHandler transport.StateHandler
	lines        transport.LineAssembler
}

// New creates a new serial host link with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("serial"),
	}
}

// Start opens the serial port and begins reading lines.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
	}

	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	t.attach(ctx, port)
	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	return nil
}

// attach takes ownership of an open port and starts the read loop.
func (t *Transport) attach(ctx context.Context, port io.ReadWriteCloser) {
	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = make(chan struct{})
	handler := t.stateHandler
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.readLoop(readCtx, port)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

// Stop closes the serial port and stops the read loop.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}

	// Wait for read loop to finish
	if done != nil {
		<-done
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetLineHandler sets the callback for incoming downlink lines.
func (t *Transport) SetLineHandler(fn transport.LineHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lineHandler = fn
}

// SetStateHandler sets the callback for link state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// WriteLine writes line followed by a newline.
func (t *Transport) WriteLine(line []byte) error {
	if !transport.ValidLine(line) {
		return errors.New("line contains a line break")
	}

	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return transport.ErrNotConnected
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := port.Write(buf); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

// readLoop continuously reads from the serial port and assembles lines.
func (t *Transport) readLoop(ctx context.Context, port io.Reader) {
	defer close(t.done)

	buf := make([]byte, readBufSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return // context cancelled, clean shutdown
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.log.Error("serial read error", "error", err)
			}
			t.handleDisconnect(err)
			return
		}

		if n == 0 {
			continue
		}

		t.processLines(buf[:n])
	}
}

// processLines feeds raw bytes to the line assembler and dispatches every
// complete line.
func (t *Transport) processLines(data []byte) {
	t.lines.Feed(data, func(line []byte) {
		t.mu.RLock()
		handler := t.lineHandler
		t.mu.RUnlock()

		if handler != nil {
			handler(line, transport.SourceSerial)
		}
	})
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
