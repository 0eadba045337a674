// Package sim provides an in-memory LoRa medium for tests and simulation.
//
// Every Radio attached to a Medium hears every other radio that is in receive
// mode on the same channel, subject to an optional loss Filter. Delivery is
// synchronous: by the time EndFrame returns, the packet has been queued at
// every receiver and the sender's tx-done handler has run.
package sim

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Quality is the signal quality a receiver observes for a packet.
type Quality struct {
	RSSI int
	SNR  float32
}

// DefaultQuality is used for links without an explicit Quality.
var DefaultQuality = Quality{RSSI: -60, SNR: 9.5}

// Filter decides whether a packet from one radio reaches another. It returns
// false to drop the packet.
type Filter func(from, to string, data []byte) bool

// Config configures a Medium.
type Config struct {
	// Filter is the initial loss filter. Nil delivers everything.
	Filter Filter
	// Logger for medium events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Stats counts medium activity.
type Stats struct {
	Transmitted uint32
	Delivered   uint32
	Filtered    uint32
	Missed      uint32 // receiver not listening or on another channel
	Overflowed  uint32
}

// Medium is a shared broadcast channel.
type Medium struct {
	mu      sync.Mutex
	radios  []*Radio
	filter  Filter
	quality map[[2]string]Quality
	log     *slog.Logger

	transmitted atomic.Uint32
	delivered   atomic.Uint32
	filtered    atomic.Uint32
	missed      atomic.Uint32
	overflowed  atomic.Uint32
}

// NewMedium creates an empty medium.
func NewMedium(cfg Config) *Medium {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Medium{
		filter:  cfg.Filter,
		quality: make(map[[2]string]Quality),
		log:     logger.WithGroup("sim"),
	}
}

// NewRadio attaches a new radio to the medium. Names identify radios in
// filters and quality settings.
func (m *Medium) NewRadio(name string) *Radio {
	r := newRadio(m, name)
	m.mu.Lock()
	m.radios = append(m.radios, r)
	m.mu.Unlock()
	return r
}

// SetFilter replaces the loss filter. Nil delivers everything.
func (m *Medium) SetFilter(f Filter) {
	m.mu.Lock()
	m.filter = f
	m.mu.Unlock()
}

// SetQuality sets the signal quality observed by to for packets from from.
func (m *Medium) SetQuality(from, to string, q Quality) {
	m.mu.Lock()
	m.quality[[2]string{from, to}] = q
	m.mu.Unlock()
}

// Stats returns the medium counters.
func (m *Medium) Stats() Stats {
	return Stats{
		Transmitted: m.transmitted.Load(),
		Delivered:   m.delivered.Load(),
		Filtered:    m.filtered.Load(),
		Missed:      m.missed.Load(),
		Overflowed:  m.overflowed.Load(),
	}
}

func (m *Medium) transmit(from *Radio, data []byte) {
	m.transmitted.Add(1)

	m.mu.Lock()
	radios := make([]*Radio, len(m.radios))
	copy(radios, m.radios)
	filter := m.filter
	m.mu.Unlock()

	ch := from.channel()
	for _, to := range radios {
		if to == from {
			continue
		}
		if filter != nil && !filter(from.name, to.name, data) {
			m.filtered.Add(1)
			m.log.Debug("packet lost", "from", from.name, "to", to.name)
			continue
		}
		if to.channel() != ch {
			m.missed.Add(1)
			continue
		}
		switch to.deliver(data, m.qualityFor(from.name, to.name)) {
		case deliverOK:
			m.delivered.Add(1)
		case deliverNotListening:
			m.missed.Add(1)
		case deliverOverflow:
			m.overflowed.Add(1)
		}
	}
}

func (m *Medium) qualityFor(from, to string) Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quality[[2]string{from, to}]; ok {
		return q
	}
	return DefaultQuality
}

// Partition drops all traffic between a and b in both directions.
func Partition(a, b string) Filter {
	return func(from, to string, _ []byte) bool {
		return !(from == a && to == b) && !(from == b && to == a)
	}
}

// OneWay drops traffic from from to to only.
func OneWay(from, to string) Filter {
	return func(f, t string, _ []byte) bool {
		return f != from || t != to
	}
}

// LossRate drops each packet independently with probability p, using a
// deterministic generator seeded with seed.
func LossRate(p float64, seed uint64) Filter {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(string, string, []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64() >= p
	}
}

// All combines filters; a packet is delivered only if every filter passes it.
func All(filters ...Filter) Filter {
	return func(from, to string, data []byte) bool {
		for _, f := range filters {
			if f != nil && !f(from, to, data) {
				return false
			}
		}
		return true
	}
}
