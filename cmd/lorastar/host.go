package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/kabili207/lorastar-go/transport"
	"github.com/kabili207/lorastar-go/transport/mqtt"
	"github.com/kabili207/lorastar-go/transport/serial"
	"github.com/kabili207/lorastar-go/transport/stream"
	"github.com/kabili207/lorastar-go/transport/websocket"
)

// passwordEnv holds the MQTT or WebSocket password. There is no password
// flag, so credentials stay out of shell history.
const passwordEnv = "LORASTAR_PASSWORD"

// hostOptions selects and configures the host link of one command.
type hostOptions struct {
	kind string

	port string
	baud int

	broker    string
	gatewayID string
	prefix    string
	qos       uint8
	tls       bool

	url      string
	username string
	noVerify bool
}

func (o *hostOptions) register(fs *pflag.FlagSet, defaultKind string) {
	fs.StringVar(&o.kind, "host", defaultKind, "Host link: stdio, serial, mqtt, websocket or none")
	fs.StringVar(&o.port, "host-port", "", "Serial port of the host link")
	fs.IntVar(&o.baud, "host-baud", serial.DefaultBaudRate, "Baud rate of the serial host link")
	fs.StringVar(&o.broker, "broker", "", "MQTT broker URL (tcp://host:1883)")
	fs.StringVar(&o.gatewayID, "gateway-id", "gw0", "Gateway name in MQTT topics")
	fs.StringVar(&o.prefix, "topic-prefix", mqtt.DefaultTopicPrefix, "MQTT topic prefix")
	fs.Uint8Var(&o.qos, "qos", 1, "MQTT QoS")
	fs.BoolVar(&o.tls, "tls", false, "Use TLS for MQTT")
	fs.StringVarP(&o.url, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	fs.StringVar(&o.username, "username", "", "Username for MQTT or WebSocket basic auth")
	fs.BoolVar(&o.noVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// open builds the selected host link. It returns nil for "none".
func (o *hostOptions) open(logger *slog.Logger) (transport.HostLink, error) {
	var password string
	if o.username != "" && (o.kind == "mqtt" || o.kind == "websocket") {
		var err error
		if password, err = getPassword(); err != nil {
			return nil, err
		}
	}

	switch o.kind {
	case "none", "":
		return nil, nil
	case "stdio":
		return stream.New(stream.Config{Reader: os.Stdin, Writer: os.Stdout, Logger: logger}), nil
	case "serial":
		if o.port == "" {
			return nil, errors.New("--host-port must be specified for the serial host link")
		}
		return serial.New(serial.Config{Port: o.port, BaudRate: o.baud, Logger: logger}), nil
	case "mqtt":
		if o.broker == "" {
			return nil, errors.New("--broker must be specified for the mqtt host link")
		}
		return mqtt.New(mqtt.Config{
			Broker:      o.broker,
			Username:    o.username,
			Password:    password,
			UseTLS:      o.tls,
			TopicPrefix: o.prefix,
			GatewayID:   o.gatewayID,
			QoS:         o.qos,
			Logger:      logger,
		}), nil
	case "websocket":
		if o.url == "" {
			return nil, errors.New("--url must be specified for the websocket host link")
		}
		return websocket.New(websocket.Config{
			URL:        o.url,
			Username:   o.username,
			Password:   password,
			SkipVerify: o.noVerify,
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown host link %q", o.kind)
	}
}

// getPassword reads the password from the environment or prompts for it
// without echo.
func getPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(line), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(pw), nil
}

func logHostEvents(logger *slog.Logger) transport.StateHandler {
	return func(_ transport.HostLink, ev transport.Event) {
		logger.Info("host link", "event", ev.String())
	}
}
