package sim

import (
	"io"
	"sync"

	"github.com/kabili207/lorastar-go/radio"
)

// RxQueueSize is the number of received packets a radio buffers before
// dropping new arrivals.
const RxQueueSize = 16

// Mode is the transceiver operating mode.
type Mode int

const (
	ModeStandby Mode = iota
	ModeReceive
	ModeTransmit
)

func (m Mode) String() string {
	switch m {
	case ModeStandby:
		return "standby"
	case ModeReceive:
		return "receive"
	case ModeTransmit:
		return "transmit"
	default:
		return "unknown"
	}
}

type channel struct {
	freq uint32
	bw   uint32
	sf   uint8
}

type rxPacket struct {
	data []byte
	q    Quality
}

type deliverResult int

const (
	deliverOK deliverResult = iota
	deliverNotListening
	deliverOverflow
)

var _ radio.Driver = (*Radio)(nil)

// Radio is a simulated transceiver attached to a Medium.
type Radio struct {
	medium *Medium
	name   string

	mu       sync.Mutex
	mode     Mode
	params   radio.Params
	building bool
	frame    []byte
	rx       []rxPacket
	cur      []byte
	pos      int
	last     Quality
	sent     [][]byte

	onReceive func(size int)
	onTxDone  func()
}

func newRadio(m *Medium, name string) *Radio {
	return &Radio{medium: m, name: name, params: radio.DefaultParams()}
}

// Name returns the radio's name on the medium.
func (r *Radio) Name() string {
	return r.name
}

// Mode returns the current operating mode.
func (r *Radio) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Params returns the applied radio parameters.
func (r *Radio) Params() radio.Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// Sent returns a copy of every packet this radio has transmitted.
func (r *Radio) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	for i, p := range r.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Inject queues a packet as if it had been received over the air.
func (r *Radio) Inject(data []byte, q Quality) bool {
	return r.deliver(data, q) == deliverOK
}

func (r *Radio) SetReceiveMode() error {
	r.mu.Lock()
	r.mode = ModeReceive
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetTransmitMode() error {
	r.mu.Lock()
	r.mode = ModeStandby
	r.mu.Unlock()
	return nil
}

func (r *Radio) BeginFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeTransmit {
		return radio.ErrNotReady
	}
	r.building = true
	r.frame = r.frame[:0]
	return nil
}

func (r *Radio) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.building {
		return 0, radio.ErrNotReady
	}
	if len(r.frame)+len(p) > radio.MaxPacketSize {
		return 0, radio.ErrTooLarge
	}
	r.frame = append(r.frame, p...)
	return len(p), nil
}

func (r *Radio) EndFrame(bool) error {
	r.mu.Lock()
	if !r.building {
		r.mu.Unlock()
		return radio.ErrNotReady
	}
	r.building = false
	r.mode = ModeTransmit
	data := append([]byte(nil), r.frame...)
	r.sent = append(r.sent, data)
	r.mu.Unlock()

	r.medium.transmit(r, data)

	r.mu.Lock()
	r.mode = ModeStandby
	done := r.onTxDone
	r.mu.Unlock()
	if done != nil {
		done()
	}
	return nil
}

func (r *Radio) ParsePacket() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rx) == 0 {
		r.cur, r.pos = nil, 0
		return 0
	}
	p := r.rx[0]
	r.rx = r.rx[1:]
	r.cur, r.pos, r.last = p.data, 0, p.q
	return len(p.data)
}

func (r *Radio) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cur) - r.pos
}

func (r *Radio) ReadByte() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.cur) {
		return 0, io.EOF
	}
	b := r.cur[r.pos]
	r.pos++
	return b, nil
}

func (r *Radio) LastRSSI() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.RSSI
}

func (r *Radio) LastSNR() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.SNR
}

func (r *Radio) Configure(p radio.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.params = p
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetReceiveHandler(fn func(size int)) {
	r.mu.Lock()
	r.onReceive = fn
	r.mu.Unlock()
}

func (r *Radio) SetTxDoneHandler(fn func()) {
	r.mu.Lock()
	r.onTxDone = fn
	r.mu.Unlock()
}

func (r *Radio) channel() channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return channel{freq: r.params.Frequency, bw: r.params.Bandwidth, sf: r.params.SpreadingFactor}
}

func (r *Radio) deliver(data []byte, q Quality) deliverResult {
	r.mu.Lock()
	if r.mode != ModeReceive {
		r.mu.Unlock()
		return deliverNotListening
	}
	if len(r.rx) >= RxQueueSize {
		r.mu.Unlock()
		return deliverOverflow
	}
	r.rx = append(r.rx, rxPacket{data: append([]byte(nil), data...), q: q})
	handler := r.onReceive
	r.mu.Unlock()

	if handler != nil {
		handler(len(data))
	}
	return deliverOK
}
