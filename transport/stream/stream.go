// Package stream provides a host link over an arbitrary reader and writer,
// such as a process's standard input and output.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kabili207/lorastar-go/transport"
)

// Compile-time interface check.
var _ transport.HostLink = (*Transport)(nil)

// Config holds the configuration for a stream host link.
type Config struct {
	// Reader supplies downlink lines. Nil disables downlink.
	Reader io.Reader
	// Writer receives relay records, one per line.
	Writer io.Writer
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.HostLink over a reader and writer.
type Transport struct {
	cfg          Config
	log          *slog.Logger
	mu           sync.RWMutex
	wmu          sync.Mutex
	connected    bool
	done         chan struct{}
	lineHandler  transport.LineHandler
	stateHandler transport.StateHandler
	lines        transport.LineAssembler
}

// New creates a new stream host link.
func New(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{cfg: cfg, log: cfg.Logger.WithGroup("stream")}
}

// Start begins reading lines from the reader. The read loop ends at EOF or
// when the reader fails; a blocked read is not interrupted by ctx.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Writer == nil {
		return errors.New("writer is required")
	}

	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	if t.cfg.Reader != nil {
		t.done = make(chan struct{})
		go t.readLoop(ctx)
	}
	if handler != nil {
		handler(t, transport.EventConnected)
	}
	return nil
}

// Stop marks the link disconnected. It does not wait for a blocked read.
func (t *Transport) Stop() error {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if was && handler != nil {
		handler(t, transport.EventDisconnected)
	}
	return nil
}

// Done is closed when the read loop ends.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// IsConnected returns true between Start and Stop.
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
	if !t.IsConnected() {
		return transport.ErrNotConnected
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.cfg.Writer.Write(buf); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		n, err := t.cfg.Reader.Read(buf)
		if n > 0 && ctx.Err() == nil {
			t.lines.Feed(buf[:n], t.deliver)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.log.Error("read error", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (t *Transport) deliver(line []byte) {
	t.mu.RLock()
	handler := t.lineHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(line, transport.SourceStream)
	}
}
