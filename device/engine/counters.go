package engine

import "sync/atomic"

// Counters tracks protocol engine statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	FramesRecv        atomic.Uint32 // Frames decrypted and decoded
	FramesSent        atomic.Uint32 // Envelopes handed to the radio
	DecodeErrors      atomic.Uint32 // Malformed, undecryptable or invalid frames
	ForeignFrames     atomic.Uint32 // Envelopes from another network
	Filtered          atomic.Uint32 // Envelopes addressed to another node
	Duplicates        atomic.Uint32 // Retransmissions suppressed by the dedupe table
	AcksMatched       atomic.Uint32 // Replies that resolved the queue head
	DeliveryExhausted atomic.Uint32 // Messages abandoned after MaxRetries
	QueueFull         atomic.Uint32 // Messages rejected by a full delivery queue
	RecordsRelayed    atomic.Uint32 // Relay records written to the host link
	RelayDropped      atomic.Uint32 // Relay records rejected by a full relay queue
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	FramesRecv        uint32
	FramesSent        uint32
	DecodeErrors      uint32
	ForeignFrames     uint32
	Filtered          uint32
	Duplicates        uint32
	AcksMatched       uint32
	DeliveryExhausted uint32
	QueueFull         uint32
	RecordsRelayed    uint32
	RelayDropped      uint32
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		FramesRecv:        c.FramesRecv.Load(),
		FramesSent:        c.FramesSent.Load(),
		DecodeErrors:      c.DecodeErrors.Load(),
		ForeignFrames:     c.ForeignFrames.Load(),
		Filtered:          c.Filtered.Load(),
		Duplicates:        c.Duplicates.Load(),
		AcksMatched:       c.AcksMatched.Load(),
		DeliveryExhausted: c.DeliveryExhausted.Load(),
		QueueFull:         c.QueueFull.Load(),
		RecordsRelayed:    c.RecordsRelayed.Load(),
		RelayDropped:      c.RelayDropped.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.FramesRecv.Store(0)
	c.FramesSent.Store(0)
	c.DecodeErrors.Store(0)
	c.ForeignFrames.Store(0)
	c.Filtered.Store(0)
	c.Duplicates.Store(0)
	c.AcksMatched.Store(0)
	c.DeliveryExhausted.Store(0)
	c.QueueFull.Store(0)
	c.RecordsRelayed.Store(0)
	c.RelayDropped.Store(0)
}
