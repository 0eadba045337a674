// Package engine is the protocol engine shared by the gateway and node roles.
//
// An Engine owns one role's complete state: the outbound delivery queue, the
// relay queue, the cipher adapter and the radio link. All of it is mutated
// from a single poll loop. The only asynchronous inputs are the radio's
// receive interrupt, which merely raises a flag, and functions queued with
// Post, which run on the poll loop goroutine.
//
// Each Poll does three things, in order:
//   - drains received packets through the dispatcher, and abandons a
//     transmission whose tx-done has not arrived within SendInterval;
//   - runs the delivery tick once SendInterval has elapsed since the head was
//     last sent (a head that has never been sent ticks immediately);
//   - hands at most one relay record to the host link every RelayInterval.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabili207/lorastar-go/core/clock"
	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/core/crypto"
	"github.com/kabili207/lorastar-go/core/dedupe"
	"github.com/kabili207/lorastar-go/core/delivery"
	"github.com/kabili207/lorastar-go/core/relay"
	"github.com/kabili207/lorastar-go/radio"
	"github.com/kabili207/lorastar-go/transport"
)

const (
	// DefaultSendInterval is the default delay between delivery attempts.
	DefaultSendInterval = 3000 * time.Millisecond

	// DefaultRelayInterval is the default delay between relay drains.
	DefaultRelayInterval = 200 * time.Millisecond

	// DefaultPollInterval is how often Run polls.
	DefaultPollInterval = 10 * time.Millisecond

	postQueueSize = 64
)

var (
	ErrWrongRole     = errors.New("operation not supported in this role")
	ErrInvalidNode   = errors.New("invalid node ID")
	ErrPostQueueFull = errors.New("engine post queue full")
)

// Role selects which side of the star the engine plays.
type Role int

const (
	RoleGateway Role = iota
	RoleNode
)

func (r Role) String() string {
	switch r {
	case RoleGateway:
		return "gateway"
	case RoleNode:
		return "node"
	default:
		return "unknown"
	}
}

// Config configures an Engine.
type Config struct {
	Role Role

	// NodeID is this node's address. Required for RoleNode, ignored for
	// RoleGateway.
	NodeID uint8

	// NetworkID is the deployment's network ID. Default: 0xF3.
	NetworkID uint8

	// Keys is the link key table. The gateway needs the broadcast key and
	// every node's key; a node needs the broadcast key and its own.
	Keys *crypto.KeyTable

	// Cipher overrides the block cipher. Default: AES.
	Cipher crypto.BlockFactory

	// Driver is the transceiver driver.
	Driver radio.Driver

	// Radio holds the initial radio parameters. Default: radio.DefaultParams().
	Radio radio.Params

	// Host receives relay records and, on the gateway, supplies downlink
	// command lines. May be nil, in which case records are only logged.
	Host transport.HostLink

	// Board is the node's hardware I/O. Nil on a node disables actuator
	// control and reports zero battery.
	Board Board

	SendInterval  time.Duration // Default: 3s
	RelayInterval time.Duration // Default: 200ms
	PollInterval  time.Duration // Default: 10ms

	// MaxRetries is the number of send attempts per reliable message.
	// Default: 5.
	MaxRetries int

	// QueueSize is the outbound delivery queue capacity. Default: 5.
	QueueSize int

	// RelayQueueSize is the relay queue capacity. Default: 4.
	RelayQueueSize int

	// SuppressDuplicates enables the gateway's dedupe table, so that an
	// uplink or status reply retransmitted after a lost acknowledgement is
	// acknowledged again but relayed only once.
	SuppressDuplicates bool

	// FirstMessageID seeds the message ID sequence. Zero picks a random
	// starting point.
	FirstMessageID uint8

	// Logger for engine events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Engine runs one endpoint of the protocol.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	link     *radio.Link
	cipher   *crypto.Adapter
	out      *delivery.Queue
	relayQ   *relay.Queue
	dedup    *dedupe.Deduplicator
	ids      *idSource
	clock    *clock.Clock
	params   radio.Params
	relayTmr clock.Timer
	counters Counters
	posted   chan func()

	// now is the tick of the Poll in progress; every transmission happens
	// inside a Poll.
	now uint32
}

// New creates an Engine. The radio is not touched until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Driver == nil {
		return nil, errors.New("radio driver is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("key table is required")
	}
	if cfg.Role == RoleNode && !codec.IsUnicast(cfg.NodeID) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNode, cfg.NodeID)
	}
	if cfg.NetworkID == 0 {
		cfg.NetworkID = codec.DefaultNetworkID
	}
	if cfg.Radio == (radio.Params{}) {
		cfg.Radio = radio.DefaultParams()
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if cfg.RelayInterval <= 0 {
		cfg.RelayInterval = DefaultRelayInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("role", cfg.Role.String())
	if cfg.Role == RoleNode {
		logger = logger.With("node", cfg.NodeID)
	}

	link := radio.NewLink(radio.LinkConfig{
		Driver:    cfg.Driver,
		TxTimeout: cfg.SendInterval,
		Logger:    logger,
	})
	e := &Engine{
		cfg:    cfg,
		log:    logger.WithGroup("engine"),
		link:   link,
		cipher: crypto.NewAdapter(cfg.Keys, cfg.Cipher),
		relayQ: relay.NewQueue(cfg.RelayQueueSize),
		ids:    newIDSource(cfg.FirstMessageID),
		clock:  clock.New(),
		params: cfg.Radio,
		posted: make(chan func(), postQueueSize),
	}
	e.relayTmr.Interval = cfg.RelayInterval
	e.out = delivery.New(delivery.Config{
		Capacity:    cfg.QueueSize,
		MaxRetries:  cfg.MaxRetries,
		Send:        e.sendQueued,
		OnExhausted: e.onExhausted,
		Logger:      logger,
	})
	if cfg.SuppressDuplicates && cfg.Role == RoleGateway {
		e.dedup = dedupe.New()
	}
	if cfg.Host != nil && cfg.Role == RoleGateway {
		cfg.Host.SetLineHandler(e.onHostLine)
	}
	return e, nil
}

// Start applies the initial radio parameters and enters receive mode.
func (e *Engine) Start() error {
	if err := e.link.Start(e.params); err != nil {
		return err
	}
	e.log.Info("engine started", "network", e.cfg.NetworkID)
	return nil
}

// Run polls until ctx is cancelled. Functions passed to Post run between
// polls on the same goroutine.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.posted:
			fn()
		case <-ticker.C:
			e.Poll(e.clock.Now())
		}
	}
}

// Post schedules fn to run on the poll loop goroutine. It never blocks.
func (e *Engine) Post(fn func()) error {
	select {
	case e.posted <- fn:
		return nil
	default:
		return ErrPostQueueFull
	}
}

// Poll runs one cycle of the loop at tick now.
func (e *Engine) Poll(now uint32) {
	e.now = now
	e.link.Drain(e.handlePacket)
	e.link.ExpireTx(now)

	if e.sendDue(now) {
		e.out.Tick(now)
	}

	if e.relayTmr.Due(now) {
		e.relayTmr.Reset(now)
		e.drainRelay()
	}
}

func (e *Engine) sendDue(now uint32) bool {
	if e.out.Len() == 0 || e.link.Transmitting() {
		return false
	}
	last, sent := e.out.LastSendAt()
	if !sent {
		return true
	}
	return clock.Due(now, last, e.cfg.SendInterval)
}

// Role returns the engine's role.
func (e *Engine) Role() Role {
	return e.cfg.Role
}

// Params returns the radio parameters currently applied.
func (e *Engine) Params() radio.Params {
	return e.params
}

// Counters returns the engine's counters.
func (e *Engine) Counters() *Counters {
	return &e.counters
}

// LinkStats returns the radio link counters.
func (e *Engine) LinkStats() radio.LinkStats {
	return e.link.Stats()
}

// Pending returns the number of messages in the outbound delivery queue.
func (e *Engine) Pending() int {
	return e.out.Len()
}

// PendingRecords returns the number of relay records awaiting the host.
func (e *Engine) PendingRecords() int {
	return e.relayQ.Len()
}

// enqueue seals f and pushes it onto the delivery queue. A full queue is
// reported through a failure record as well as the returned error.
func (e *Engine) enqueue(dest uint8, f *codec.Frame) error {
	ct, err := e.seal(dest, f)
	if err != nil {
		return err
	}
	m := delivery.Message{
		Ciphertext:  ct,
		MessageID:   f.MessageID,
		Kind:        f.Kind,
		Destination: dest,
	}
	if f.Kind == codec.KindControl {
		m.ActuatorIndex, m.ActuatorValue = f.Field1, f.Field2
	}
	if err := e.out.Push(m); err != nil {
		if errors.Is(err, delivery.ErrQueueFull) {
			e.counters.QueueFull.Add(1)
			e.log.Warn("delivery queue full", "msg_id", f.MessageID, "dest", dest, "kind", f.Kind.String())
			e.pushRecord(relay.Failure(f.PeerID, f.MessageID, f.Kind, relay.ReasonQueueFull))
		}
		return err
	}
	return nil
}

// sendDirect seals and transmits f once, outside the delivery queue.
func (e *Engine) sendDirect(dest uint8, f *codec.Frame) error {
	ct, err := e.seal(dest, f)
	if err != nil {
		return err
	}
	return e.transmit(dest, &ct)
}

func (e *Engine) seal(dest uint8, f *codec.Frame) (codec.Block, error) {
	var plain codec.Block
	if err := codec.EncodeFrame(&plain, f); err != nil {
		return plain, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	ct, err := e.cipher.Seal(dest, &plain)
	if err != nil {
		return ct, fmt.Errorf("seal %s frame: %w", f.Kind, err)
	}
	return ct, nil
}

func (e *Engine) sendQueued(m *delivery.Message) error {
	return e.transmit(m.Destination, &m.Ciphertext)
}

func (e *Engine) transmit(peer uint8, ct *codec.Block) error {
	env := codec.Envelope{NetworkID: e.cfg.NetworkID, Peer: peer, Ciphertext: *ct}
	if err := e.link.Send(&env, e.now); err != nil {
		return err
	}
	e.counters.FramesSent.Add(1)
	return nil
}

func (e *Engine) onExhausted(m delivery.Message) {
	e.counters.DeliveryExhausted.Add(1)
	if m.Kind == codec.KindStatus && e.cfg.Role == RoleGateway {
		// An unanswered status request reports the node as inactive.
		e.pushRecord(relay.Status(m.Destination, false, 0, nil))
		return
	}
	e.pushRecord(relay.Failure(m.Destination, m.MessageID, m.Kind, relay.ReasonRetries))
}

// pushRecord queues a formatted relay record. Without a host link the record
// is logged and discarded.
func (e *Engine) pushRecord(rec relay.Record, err error) {
	if err != nil {
		e.log.Error("failed to format relay record", "error", err)
		return
	}
	if e.cfg.Host == nil {
		e.log.Info("record", "line", rec.String())
		return
	}
	if err := e.relayQ.Push(&rec); err != nil {
		e.counters.RelayDropped.Add(1)
		e.log.Warn("relay queue full, record dropped", "flag", string(rune(rec.Flag())))
	}
}

// drainRelay hands the oldest record to the host. It stays queued if the
// write fails.
func (e *Engine) drainRelay() {
	rec, ok := e.relayQ.Peek()
	if !ok || e.cfg.Host == nil || !e.cfg.Host.IsConnected() {
		return
	}
	if err := e.cfg.Host.WriteLine(rec.Bytes()); err != nil {
		e.log.Warn("relay write failed", "error", err)
		return
	}
	e.relayQ.Pop()
	e.counters.RecordsRelayed.Add(1)
}

func (e *Engine) onHostLine(line []byte, source transport.Source) {
	l := append([]byte(nil), line...)
	err := e.Post(func() {
		if err := e.HandleDownlink(l); err != nil {
			e.log.Warn("downlink rejected", "line", string(l), "source", source.String(), "error", err)
		}
	})
	if err != nil {
		e.log.Warn("downlink dropped", "source", source.String(), "error", err)
	}
}

func (e *Engine) battery() float32 {
	if e.cfg.Board == nil {
		return 0
	}
	return e.cfg.Board.BatteryVoltage()
}
