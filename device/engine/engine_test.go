package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kabili207/lorastar-go/core/clock"
	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/core/crypto"
	"github.com/kabili207/lorastar-go/core/delivery"
	"github.com/kabili207/lorastar-go/radio/sim"
	"github.com/kabili207/lorastar-go/transport"
)

var testSecret = []byte("lorastar test secret")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingHost is a HostLink that records written lines.
type recordingHost struct {
	mu      sync.Mutex
	lines   []string
	fail    error
	handler transport.LineHandler
}

func (h *recordingHost) Start(context.Context) error { return nil }
func (h *recordingHost) Stop() error { return nil }
func (h *recordingHost) IsConnected() bool { return true }
func (h *recordingHost) SetStateHandler(transport.StateHandler) {}

func (h *recordingHost) SetLineHandler(fn transport.LineHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

func (h *recordingHost) WriteLine(line []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.lines = append(h.lines, string(line))
	return nil
}

func (h *recordingHost) setFail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail = err
}

func (h *recordingHost) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

func (h *recordingHost) emit(line string) {
	h.mu.Lock()
	fn := h.handler
	h.mu.Unlock()
	fn([]byte(line), transport.SourceStream)
}

// harness is a gateway and a set of nodes sharing a sim medium, polled in a
// fixed order on a simulated 10ms tick.
// deafTxRadio is a sim radio whose tx-done notifications are lost.
type deafTxRadio struct {
	*sim.Radio
}

func (deafTxRadio) SetTxDoneHandler(func()) {}

type harness struct {
	t       *testing.T
	medium  *sim.Medium
	host    *recordingHost
	gw      *Engine
	gwRadio *sim.Radio
	nodes   map[uint8]*Engine
	radios  map[uint8]*sim.Radio
	boards  map[uint8]*MemoryBoard
	order   []uint8
	now     uint32
}

func newHarness(t *testing.T, gwOpt func(*Config), nodeIDs ...uint8) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		medium: sim.NewMedium(sim.Config{Logger: quietLogger()}),
		host:   &recordingHost{},
		nodes:  make(map[uint8]*Engine),
		radios: make(map[uint8]*sim.Radio),
		boards: make(map[uint8]*MemoryBoard),
	}

	keys, err := crypto.DeriveKeyTable(testSecret, codec.DefaultNetworkID, nodeIDs...)
	if err != nil {
		t.Fatal(err)
	}
	h.gwRadio = h.medium.NewRadio("gateway")
	cfg := Config{
		Role:           RoleGateway,
		Keys:           keys,
		Driver:         h.gwRadio,
		Host:           h.host,
		FirstMessageID: 30,
		Logger:         quietLogger(),
	}
	if gwOpt != nil {
		gwOpt(&cfg)
	}
	h.gw = mustStart(t, cfg)

	for _, id := range nodeIDs {
		h.addNode(id, nil)
	}
	return h
}

func (h *harness) addNode(id uint8, opt func(*Config)) *Engine {
	h.t.Helper()
	keys, err := crypto.DeriveKeyTable(testSecret, codec.DefaultNetworkID, id)
	if err != nil {
		h.t.Fatal(err)
	}
	r := h.medium.NewRadio(fmt.Sprintf("node%d", id))
	board := NewMemoryBoard(3.7)
	cfg := Config{
		Role:           RoleNode,
		NodeID:         id,
		Keys:           keys,
		Driver:         r,
		Board:          board,
		FirstMessageID: 100,
		Logger:         quietLogger(),
	}
	if opt != nil {
		opt(&cfg)
	}
	e := mustStart(h.t, cfg)
	h.nodes[id] = e
	h.radios[id] = r
	h.boards[id] = board
	h.order = append(h.order, id)
	return e
}

func mustStart(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e
}

func (h *harness) pollAll() {
	h.gw.Poll(h.now)
	for _, id := range h.order {
		h.nodes[id].Poll(h.now)
	}
}

// step polls every endpoint on each 10ms tick for d.
func (h *harness) step(d time.Duration) {
	for end := h.now + clock.Millis(d); h.now < end; h.now += 10 {
		h.pollAll()
	}
}

func TestScenario_UplinkAcknowledged(t *testing.T) {
	h := newHarness(t, nil, 3)
	node := h.nodes[3]

	if _, err := node.SendSensorData(0, 1); err != nil {
		t.Fatal(err)
	}
	h.step(500 * time.Millisecond)

	if node.Pending() != 0 {
		t.Errorf("node queue = %d, want empty after ack", node.Pending())
	}
	if n := len(h.radios[3].Sent()); n != 1 {
		t.Errorf("node transmissions = %d, want 1", n)
	}

	want := `{"flag":"u","nodeID":"3","sensorID":"0","value":"1","RSSI":"-60","SNR":"9.50","battery":"3.7"}`
	lines := h.host.Lines()
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("relayed = %q, want [%s]", lines, want)
	}

	gs := h.gw.Counters().Snapshot()
	if gs.FramesRecv != 1 || gs.RecordsRelayed != 1 {
		t.Errorf("gateway counters = %+v", gs)
	}
	if ns := node.Counters().Snapshot(); ns.AcksMatched != 1 {
		t.Errorf("node AcksMatched = %d, want 1", ns.AcksMatched)
	}
}

func TestScenario_BroadcastStatus(t *testing.T) {
	h := newHarness(t, nil, 1, 2, 3)

	if _, err := h.gw.SendStatusRequest(codec.BroadcastID); err != nil {
		t.Fatal(err)
	}
	h.step(time.Second)

	if h.gw.Pending() != 0 {
		t.Errorf("gateway queue = %d, want empty", h.gw.Pending())
	}
	if got := h.gw.Counters().AcksMatched.Load(); got != 1 {
		t.Errorf("gateway AcksMatched = %d, want 1 (first reply wins)", got)
	}
	for _, id := range h.order {
		if h.nodes[id].Pending() != 0 {
			t.Errorf("node %d queue = %d, want empty", id, h.nodes[id].Pending())
		}
	}

	lines := h.host.Lines()
	if len(lines) != 3 {
		t.Fatalf("relayed %d records, want 3: %q", len(lines), lines)
	}
	for i, id := range h.order {
		want := fmt.Sprintf(`{"flag":"s","nodeID":"%d","active":"1","RSSI":"-60","SNR":"9.50","battery":"3.7"}`, id)
		if lines[i] != want {
			t.Errorf("record %d = %s, want %s", i, lines[i], want)
		}
	}
	if n := len(h.gwRadio.Sent()); n != 4 {
		t.Errorf("gateway transmissions = %d, want 4 (request and three acks)", n)
	}
}

func TestScenario_ControlLost(t *testing.T) {
	h := newHarness(t, nil, 2)
	h.medium.SetFilter(sim.OneWay("gateway", "node2"))

	id, err := h.gw.SendActuatorControl(2, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.step(16 * time.Second)

	if n := len(h.gwRadio.Sent()); n != delivery.DefaultMaxRetries {
		t.Errorf("gateway transmissions = %d, want %d", n, delivery.DefaultMaxRetries)
	}
	want := fmt.Sprintf(`{"flag":"f","nodeID":"2","msgID":"%d","kind":"c","reason":"retries"}`, id)
	lines := h.host.Lines()
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("relayed = %q, want [%s]", lines, want)
	}
	if _, ok := h.boards[2].Actuator(0); ok {
		t.Error("actuator written despite packet loss")
	}

	h.step(10 * time.Second)
	if n := len(h.host.Lines()); n != 1 {
		t.Errorf("relayed %d records after exhaustion, want 1", n)
	}
	if n := len(h.gwRadio.Sent()); n != delivery.DefaultMaxRetries {
		t.Errorf("gateway kept transmitting: %d", n)
	}
	if got := h.gw.Counters().DeliveryExhausted.Load(); got != 1 {
		t.Errorf("DeliveryExhausted = %d, want 1", got)
	}
}

func TestScenario_ControlAppliedValue(t *testing.T) {
	h := newHarness(t, nil, 2)
	h.boards[2].Max = 100

	id, err := h.gw.SendActuatorControl(2, 1, 200)
	if err != nil {
		t.Fatal(err)
	}
	h.step(500 * time.Millisecond)

	if v, ok := h.boards[2].Actuator(1); !ok || v != 100 {
		t.Errorf("actuator 1 = %d, %v; want 100", v, ok)
	}
	want := fmt.Sprintf(`{"flag":"a","nodeID":"2","msgID":"%d","actID":"1","actVal":"100","RSSI":"-60","SNR":"9.50","battery":"3.7"}`, id)
	lines := h.host.Lines()
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("relayed = %q, want [%s]", lines, want)
	}
	if h.gw.Pending() != 0 {
		t.Error("control still queued after ack")
	}
}

func TestScenario_StatusUnanswered(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.gw.SendStatusRequest(9); err == nil {
		t.Fatal("expected error without a key for node 9")
	} else if !errors.Is(err, crypto.ErrUnknownPeer) {
		t.Fatalf("error = %v, want ErrUnknownPeer", err)
	}

	h = newHarness(t, nil, 9)
	h.medium.SetFilter(sim.Partition("gateway", "node9"))
	if _, err := h.gw.SendStatusRequest(9); err != nil {
		t.Fatal(err)
	}
	h.step(16 * time.Second)

	want := `{"flag":"s","nodeID":"9","active":"0"}`
	lines := h.host.Lines()
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("relayed = %q, want [%s]", lines, want)
	}
}

func TestScenario_ForeignNetworkRejected(t *testing.T) {
	h := newHarness(t, nil)
	node := h.addNode(4, func(c *Config) { c.NetworkID = 0x10 })

	if _, err := node.SendSensorData(0, 1); err != nil {
		t.Fatal(err)
	}
	h.step(500 * time.Millisecond)

	s := h.gw.Counters().Snapshot()
	if s.ForeignFrames != 1 {
		t.Errorf("ForeignFrames = %d, want 1", s.ForeignFrames)
	}
	if s.FramesRecv != 0 || s.DecodeErrors != 0 {
		t.Errorf("foreign frame reached the decoder: %+v", s)
	}
	if len(h.gwRadio.Sent()) != 0 {
		t.Error("gateway answered a foreign frame")
	}
	if len(h.host.Lines()) != 0 {
		t.Errorf("relayed %q", h.host.Lines())
	}
	if node.Pending() != 1 {
		t.Errorf("node queue = %d, want 1", node.Pending())
	}
}

func TestScenario_DuplicateUplink(t *testing.T) {
	tests := []struct {
		name     string
		suppress bool
		records  int
	}{
		{"relay every copy", false, 2},
		{"suppress duplicates", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.SuppressDuplicates = tt.suppress }, 1)
			// Acks are lost, so the node retransmits.
			h.medium.SetFilter(sim.OneWay("gateway", "node1"))

			if _, err := h.nodes[1].SendSensorData(2, 7); err != nil {
				t.Fatal(err)
			}
			h.step(3500 * time.Millisecond)

			if n := len(h.radios[1].Sent()); n != 2 {
				t.Fatalf("node transmissions = %d, want 2", n)
			}
			if n := len(h.gwRadio.Sent()); n != 2 {
				t.Errorf("gateway acks = %d, want 2", n)
			}
			if n := len(h.host.Lines()); n != tt.records {
				t.Errorf("relayed %d records, want %d", n, tt.records)
			}
		})
	}
}

func TestGateway_QueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.QueueSize = 2 }, 1, 2, 3)

	for _, n := range []uint8{1, 2} {
		if _, err := h.gw.SendStatusRequest(n); err != nil {
			t.Fatal(err)
		}
	}
	_, err := h.gw.SendStatusRequest(3)
	if !errors.Is(err, delivery.ErrQueueFull) {
		t.Fatalf("error = %v, want ErrQueueFull", err)
	}
	if h.gw.Pending() != 2 {
		t.Errorf("queue = %d, want 2", h.gw.Pending())
	}

	h.gw.Poll(0)
	want := `{"flag":"f","nodeID":"3","msgID":"32","kind":"s","reason":"queue_full"}`
	lines := h.host.Lines()
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("relayed = %q, want [%s]", lines, want)
	}
	if got := h.gw.Counters().QueueFull.Load(); got != 1 {
		t.Errorf("QueueFull = %d, want 1", got)
	}
}

func TestGateway_RelayWriteFailureKeepsRecord(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.host.setFail(errors.New("link down"))

	if _, err := h.nodes[1].SendSensorData(0, 0); err != nil {
		t.Fatal(err)
	}
	h.step(time.Second)
	if h.gw.PendingRecords() != 1 {
		t.Fatalf("pending records = %d, want 1", h.gw.PendingRecords())
	}

	h.host.setFail(nil)
	h.step(time.Second)
	if h.gw.PendingRecords() != 0 || len(h.host.Lines()) != 1 {
		t.Errorf("record not relayed after recovery: pending %d, lines %q", h.gw.PendingRecords(), h.host.Lines())
	}
}

func TestGateway_RelayQueueOverflow(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RelayQueueSize = 1 }, 1, 2)
	h.host.setFail(errors.New("link down"))

	h.nodes[1].SendSensorData(0, 1)
	h.nodes[2].SendSensorData(0, 2)
	h.step(time.Second)

	if got := h.gw.Counters().RelayDropped.Load(); got != 1 {
		t.Errorf("RelayDropped = %d, want 1", got)
	}
	if h.gw.PendingRecords() != 1 {
		t.Errorf("pending records = %d, want 1", h.gw.PendingRecords())
	}
	// Radio delivery is unaffected by the stalled host.
	for _, id := range h.order {
		if h.nodes[id].Pending() != 0 {
			t.Errorf("node %d not acknowledged", id)
		}
	}
}

func TestGateway_LostTxDoneStillExhausts(t *testing.T) {
	medium := sim.NewMedium(sim.Config{Logger: quietLogger()})
	keys, err := crypto.DeriveKeyTable(testSecret, codec.DefaultNetworkID, 2)
	if err != nil {
		t.Fatal(err)
	}
	r := medium.NewRadio("gateway")
	host := &recordingHost{}
	gw := mustStart(t, Config{
		Role:           RoleGateway,
		Keys:           keys,
		Driver:         deafTxRadio{r},
		Host:           host,
		FirstMessageID: 30,
		Logger:         quietLogger(),
	})

	id, err := gw.SendActuatorControl(2, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	var now uint32
	poll := func(d time.Duration) {
		for end := now + clock.Millis(d); now < end; now += 10 {
			gw.Poll(now)
		}
	}

	poll(time.Second)
	if n := len(r.Sent()); n != 1 {
		t.Fatalf("transmissions = %d while tx-done pending, want 1", n)
	}
	if !gw.link.Transmitting() {
		t.Fatal("link should still wait for tx-done")
	}

	poll(10 * time.Minute)
	if n := len(r.Sent()); n != delivery.DefaultMaxRetries {
		t.Errorf("transmissions = %d, want %d", n, delivery.DefaultMaxRetries)
	}
	if gw.Pending() != 0 {
		t.Errorf("pending = %d, want 0", gw.Pending())
	}
	want := fmt.Sprintf(`{"flag":"f","nodeID":"2","msgID":"%d","kind":"c","reason":"retries"}`, id)
	lines := host.Lines()
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("relayed = %q, want [%s]", lines, want)
	}
	if got := gw.Counters().DeliveryExhausted.Load(); got != 1 {
		t.Errorf("DeliveryExhausted = %d, want 1", got)
	}
	if got := gw.LinkStats().TxTimeouts; got != delivery.DefaultMaxRetries {
		t.Errorf("TxTimeouts = %d, want %d", got, delivery.DefaultMaxRetries)
	}
}

func TestGateway_ConfigureRadio(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.gw.HandleDownlink([]byte("r,250000,6,9")); err != nil {
		t.Fatal(err)
	}
	p := h.gwRadio.Params()
	if p.Bandwidth != 250000 || p.CodingRate != 6 || p.SpreadingFactor != 9 {
		t.Errorf("radio params = %s", p)
	}
	if h.gw.Params() != p {
		t.Errorf("engine params = %s, radio %s", h.gw.Params(), p)
	}
	if h.gw.Pending() != 0 || len(h.gwRadio.Sent()) != 0 {
		t.Error("radio reconfiguration must bypass the queue")
	}

	if err := h.gw.HandleDownlink([]byte("r,123,5,7")); !errors.Is(err, ErrBadDownlink) {
		t.Errorf("invalid bandwidth error = %v, want ErrBadDownlink", err)
	}
	if h.gwRadio.Params() != p {
		t.Error("invalid downlink changed the radio")
	}
}

func TestGateway_DownlinkFromHost(t *testing.T) {
	h := newHarness(t, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.gw.Run(ctx) }()

	h.host.emit("c,1,0,1")

	pending := make(chan int, 1)
	for {
		if err := h.gw.Post(func() { pending <- h.gw.Pending() + len(h.gwRadio.Sent()) }); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case n := <-pending:
		if n == 0 {
			t.Error("downlink command was not queued")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("posted function never ran")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
}

func TestNode_NoBoardIgnoresControl(t *testing.T) {
	h := newHarness(t, nil)
	h.addNode(5, func(c *Config) { c.Board = nil })
	// add the node's key to the gateway
	k, _ := crypto.DeriveLinkKey(testSecret, codec.DefaultNetworkID, 5)
	if err := h.gw.cipher.Keys().Set(5, k); err != nil {
		t.Fatal(err)
	}

	if _, err := h.gw.SendActuatorControl(5, 0, 1); err != nil {
		t.Fatal(err)
	}
	h.step(500 * time.Millisecond)
	if h.gw.Pending() != 1 {
		t.Error("control acknowledged by a node without a board")
	}
	if _, err := h.nodes[5].ReportSensor(0); !errors.Is(err, ErrNoSensor) {
		t.Errorf("ReportSensor error = %v, want ErrNoSensor", err)
	}
}

func TestNode_RepeatedStatusRequestQueuesOneReply(t *testing.T) {
	h := newHarness(t, nil, 3)
	// The node hears the gateway but its replies and uplinks are lost, so the
	// uplink stays at the head while the request is retransmitted.
	h.medium.SetFilter(sim.OneWay("node3", "gateway"))

	if _, err := h.nodes[3].SendSensorData(0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.gw.SendStatusRequest(3); err != nil {
		t.Fatal(err)
	}
	h.step(10 * time.Second)

	if n := len(h.gwRadio.Sent()); n < 3 {
		t.Fatalf("gateway sent the request %d times, want retransmissions", n)
	}
	if got := h.nodes[3].Pending(); got != 2 {
		t.Errorf("node pending = %d, want the uplink and one status reply", got)
	}
	if got := h.nodes[3].Counters().QueueFull.Load(); got != 0 {
		t.Errorf("QueueFull = %d, want 0", got)
	}
}

func TestNode_ReportSensor(t *testing.T) {
	h := newHarness(t, nil, 6)
	h.boards[6].SetSensor(3, 42)

	if _, err := h.nodes[6].ReportSensor(3); err != nil {
		t.Fatal(err)
	}
	if _, err := h.nodes[6].ReportSensor(4); !errors.Is(err, ErrNoSensor) {
		t.Errorf("unknown sensor error = %v", err)
	}
	h.step(500 * time.Millisecond)

	want := `{"flag":"u","nodeID":"6","sensorID":"3","value":"42","RSSI":"-60","SNR":"9.50","battery":"3.7"}`
	if lines := h.host.Lines(); len(lines) != 1 || lines[0] != want {
		t.Errorf("relayed = %q, want [%s]", lines, want)
	}
}

func TestDispatch_RejectsBadFrames(t *testing.T) {
	h := newHarness(t, nil, 1)
	keys, _ := crypto.DeriveKeyTable(testSecret, codec.DefaultNetworkID, 1, 5)
	adapter := crypto.NewAdapter(keys, nil)

	inject := func(peer uint8, f codec.Frame) {
		t.Helper()
		var plain codec.Block
		if err := codec.EncodeFrame(&plain, &f); err != nil {
			t.Fatal(err)
		}
		ct, err := adapter.Seal(peer, &plain)
		if err != nil {
			t.Fatal(err)
		}
		env := codec.Envelope{NetworkID: codec.DefaultNetworkID, Peer: peer, Ciphertext: ct}
		if !h.gwRadio.Inject(env.Bytes(), sim.DefaultQuality) {
			t.Fatal("inject failed")
		}
	}

	// frame peer disagrees with the envelope peer
	inject(1, codec.Frame{PeerID: 2, MessageID: 1, Kind: codec.KindUplink})
	// no key for node 5 on the gateway
	inject(5, codec.Frame{PeerID: 5, MessageID: 1, Kind: codec.KindUplink})
	// broadcast envelopes are never sent by nodes
	inject(codec.BroadcastID, codec.Frame{PeerID: codec.BroadcastID, MessageID: 1, Kind: codec.KindStatus})
	// wrong length
	h.gwRadio.Inject([]byte{codec.DefaultNetworkID, 1, 2, 3}, sim.DefaultQuality)

	h.gw.Poll(0)

	s := h.gw.Counters().Snapshot()
	if s.DecodeErrors != 3 || s.Filtered != 1 || s.FramesRecv != 0 {
		t.Errorf("counters = %+v", s)
	}
	if len(h.gwRadio.Sent()) != 0 || len(h.host.Lines()) != 0 {
		t.Error("rejected frames had side effects")
	}
}

func TestEngine_WrongRole(t *testing.T) {
	h := newHarness(t, nil, 1)
	if _, err := h.nodes[1].SendStatusRequest(codec.BroadcastID); !errors.Is(err, ErrWrongRole) {
		t.Errorf("node SendStatusRequest error = %v", err)
	}
	if err := h.nodes[1].ConfigureRadio(125000, 5, 7); !errors.Is(err, ErrWrongRole) {
		t.Errorf("node ConfigureRadio error = %v", err)
	}
	if _, err := h.gw.SendSensorData(0, 0); !errors.Is(err, ErrWrongRole) {
		t.Errorf("gateway SendSensorData error = %v", err)
	}
	if _, err := h.gw.SendActuatorControl(0, 0, 0); !errors.Is(err, ErrInvalidNode) {
		t.Errorf("node 0 error = %v, want ErrInvalidNode", err)
	}
}

func TestNew_Validation(t *testing.T) {
	keys := crypto.NewKeyTable()
	r := sim.NewMedium(sim.Config{}).NewRadio("r")

	if _, err := New(Config{Keys: keys}); err == nil {
		t.Error("expected error without driver")
	}
	if _, err := New(Config{Driver: r}); err == nil {
		t.Error("expected error without keys")
	}
	if _, err := New(Config{Role: RoleNode, Driver: r, Keys: keys}); !errors.Is(err, ErrInvalidNode) {
		t.Errorf("node ID 0 error = %v, want ErrInvalidNode", err)
	}

	e, err := New(Config{Driver: r, Keys: keys, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if e.cfg.NetworkID != codec.DefaultNetworkID || e.cfg.SendInterval != DefaultSendInterval ||
		e.cfg.RelayInterval != DefaultRelayInterval {
		t.Errorf("defaults not applied: %+v", e.cfg)
	}
	if e.Role() != RoleGateway || e.Role().String() != "gateway" {
		t.Errorf("role = %v", e.Role())
	}
}

func TestIDSource(t *testing.T) {
	s := newIDSource(codec.MaxMessageID)
	if a, b := s.Next(), s.Next(); a != codec.MaxMessageID || b != 1 {
		t.Errorf("wrap = %d, %d; want %d, 1", a, b, codec.MaxMessageID)
	}
	r := newIDSource(0)
	for range 1000 {
		if id := r.Next(); id == 0 || id > codec.MaxMessageID {
			t.Fatalf("id %d out of range", id)
		}
	}
}

func TestCounters_SnapshotReset(t *testing.T) {
	var c Counters
	c.FramesRecv.Add(3)
	c.RelayDropped.Add(1)
	s := c.Snapshot()
	if s.FramesRecv != 3 || s.RelayDropped != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	c.Reset()
	if c.Snapshot() != (CountersSnapshot{}) {
		t.Errorf("after reset = %+v", c.Snapshot())
	}
}
