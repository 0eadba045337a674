// Package mqtt provides a host link over an MQTT broker.
//
// Relay records are published to "{prefix}/{gateway}/up" and downlink command
// lines are received on "{prefix}/{gateway}/down", one line per message. The
// retained "{prefix}/{gateway}/status" topic reports gateway presence.
package mqtt

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/lorastar-go/transport"
)

// Compile-time interface check.
var _ transport.HostLink = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "lorastar"

	statusOnline  = "online"
	statusOffline = "offline"
)

// Config holds the configuration for an MQTT host link.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "lorastar").
	TopicPrefix string
	// GatewayID names this gateway in topic paths.
	GatewayID string
	// QoS for published records and the downlink subscription.
	QoS byte
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.HostLink over MQTT.
type Transport struct {
	cfg          Config
	client       paho.Client
	log          *slog.Logger
	mu           sync.RWMutex
	connected    bool
	lineHandler  transport.LineHandler
	stateHandler transport.StateHandler
}

// New creates a new MQTT host link with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.QoS > 2 {
		cfg.QoS = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
	}
}

// Start connects to the MQTT broker and subscribes to the downlink topic.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.GatewayID == "" {
		return errors.New("gateway ID is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "lorastar-" + randomString(16)
	}

	opts := t.clientOptions(clientID)
	client := paho.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(30 * time.Second):
		return errors.New("connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// clientOptions assembles the paho options. The will marks the gateway
// offline on the status topic if the session drops without a Stop.
func (t *Transport) clientOptions(clientID string) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetBinaryWill(t.StatusTopic(), []byte(statusOffline), t.cfg.QoS, true).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// Stop publishes the offline status and disconnects from the broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	if t.connected {
		t.client.Publish(t.StatusTopic(), t.cfg.QoS, true, statusOffline).WaitTimeout(2 * time.Second)
	}
	t.client.Disconnect(1000)
	t.connected = false
	return nil
}

// IsConnected returns true if the link is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
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

// WriteLine publishes line to the uplink topic. It does not wait for the
// broker; delivery errors are logged when the token completes.
func (t *Transport) WriteLine(line []byte) error {
	if !transport.ValidLine(line) {
		return errors.New("line contains a line break")
	}
	if !t.IsConnected() {
		return transport.ErrNotConnected
	}

	payload := append([]byte(nil), line...)
	token := t.client.Publish(t.UpTopic(), t.cfg.QoS, false, payload)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			t.log.Warn("publish failed", "error", token.Error())
		}
	}()
	return nil
}

// UpTopic is the topic relay records are published to.
func (t *Transport) UpTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.GatewayID + "/up"
}

// DownTopic is the topic downlink lines are received from.
func (t *Transport) DownTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.GatewayID + "/down"
}

// StatusTopic carries the retained "online"/"offline" gateway presence.
func (t *Transport) StatusTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.GatewayID + "/status"
}

// announce subscribes to downlinks and marks the gateway online. Both are
// repeated on every reconnect since the session is clean.
func (t *Transport) announce(client paho.Client) {
	down := t.DownTopic()
	client.Subscribe(down, t.cfg.QoS, t.handleMessage)
	client.Publish(t.StatusTopic(), t.cfg.QoS, true, statusOnline)
	t.log.Debug("subscribed to downlink topic", "topic", down)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	t.dispatch(message.Payload())
}

// dispatch delivers each line of a downlink message.
func (t *Transport) dispatch(payload []byte) {
	t.mu.RLock()
	handler := t.lineHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		handler(line, transport.SourceMQTT)
	}
}

func (t *Transport) onConnected(client paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.announce(client)
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker, "gateway", t.cfg.GatewayID)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
