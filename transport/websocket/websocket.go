// Package websocket provides a host link over a WebSocket connection.
//
// Each relay record is sent as one text message. Text messages from the host
// are split into downlink lines. The link reconnects after a dropped
// connection until it is stopped.
package websocket

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kabili207/lorastar-go/transport"
)

// Compile-time interface check.
var _ transport.HostLink = (*Transport)(nil)

const (
	// DefaultReconnectInterval is the delay between reconnection attempts.
	DefaultReconnectInterval = 5 * time.Second

	// DefaultWriteTimeout bounds a single WriteLine.
	DefaultWriteTimeout = time.Second

	handshakeTimeout = 10 * time.Second
	dialTimeout      = 15 * time.Second
)

// Config holds the configuration for a WebSocket host link.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Username and Password enable HTTP Basic auth when both are set.
	Username string
	Password string
	// SkipVerify disables TLS certificate verification for wss://.
	SkipVerify bool
	// ReconnectInterval is the delay between reconnection attempts.
	// Defaults to 5s.
	ReconnectInterval time.Duration
	// WriteTimeout bounds a single write. Defaults to 1s.
	WriteTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.HostLink over WebSocket.
type Transport struct {
	cfg          Config
	log          *slog.Logger
	mu           sync.RWMutex
	wmu          sync.Mutex
	conn         *websocket.Conn
	connected    bool
	cancel       context.CancelFunc
	done         chan struct{}
	lineHandler  transport.LineHandler
	stateHandler transport.StateHandler
}

// New creates a new WebSocket host link with the given configuration.
func New(cfg Config) *Transport {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("websocket"),
	}
}

// Start dials the endpoint and begins reading downlink lines.
func (t *Transport) Start(ctx context.Context) error {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme: %q (use ws:// or wss://)", u.Scheme)
	}

	conn, err := t.dial(ctx, u)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.setConn(conn)
	t.log.Info("connected to host", "url", t.cfg.URL)

	go t.run(runCtx, u, conn)
	return nil
}

// Stop closes the connection and stops reconnecting.
func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.connected = false
	handler := t.stateHandler
	done := t.done
	t.mu.Unlock()

	var err error
	if conn != nil {
		t.wmu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.cfg.WriteTimeout))
		t.wmu.Unlock()
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
	return err
}

// IsConnected returns true if a connection is established.
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

// WriteLine sends line as one text message.
func (t *Transport) WriteLine(line []byte) error {
	if !transport.ValidLine(line) {
		return errors.New("line contains a line break")
	}

	t.mu.RLock()
	conn := t.conn
	connected := t.connected
	t.mu.RUnlock()
	if !connected || conn == nil {
		return transport.ErrNotConnected
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
		return fmt.Errorf("writing to websocket: %w", err)
	}
	return nil
}

func (t *Transport) dial(ctx context.Context, u *url.URL) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: t.cfg.SkipVerify,
		}
	}

	headers := http.Header{}
	if t.cfg.Username != "" && t.cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(t.cfg.Username + ":" + t.cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return conn, nil
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

// run reads from conn until it fails, then redials until ctx is cancelled.
func (t *Transport) run(ctx context.Context, u *url.URL, conn *websocket.Conn) {
	defer close(t.done)

	for {
		err := t.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		t.handleDisconnect(err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.ReconnectInterval):
			}
			t.emit(transport.EventReconnecting)
			c, err := t.dial(ctx, u)
			if err != nil {
				t.log.Warn("reconnect failed", "error", err)
				continue
			}
			conn = c
			t.setConn(conn)
			t.log.Info("reconnected to host", "url", t.cfg.URL)
			break
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	t.mu.RLock()
	handler := t.lineHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			handler(line, transport.SourceWebSocket)
		}
	}
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("websocket disconnected", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) emit(e transport.Event) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(t, e)
	}
}
