// Package dedupe remembers recently received reliable frames so a gateway can
// recognise a retransmission whose acknowledgement was lost.
//
// Frames are identified by (node, message ID, kind) and kept in a circular
// table; the oldest entry is overwritten once the table is full. Message IDs
// cycle, so the table must stay small relative to the ID space.
package dedupe

import "github.com/kabili207/lorastar-go/core/codec"

// DefaultCapacity is the default number of remembered frames.
const DefaultCapacity = 32

// present marks an occupied slot so the zero value means empty.
const present = 1 << 24

// Deduplicator tracks recently seen frames. It is owned by the poll loop and
// is not safe for concurrent use.
type Deduplicator struct {
	keys []uint32
	next int
}

// New creates a Deduplicator with the default capacity.
func New() *Deduplicator {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a Deduplicator remembering up to n frames.
func NewWithCapacity(n int) *Deduplicator {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &Deduplicator{keys: make([]uint32, n)}
}

// HasSeen checks if a frame has been seen before. If not, it records the frame
// and returns false. If it has been seen, it returns true.
func (d *Deduplicator) HasSeen(node, messageID uint8, kind codec.Kind) bool {
	k := Key(node, messageID, kind)
	for _, v := range d.keys {
		if v == k {
			return true
		}
	}
	d.keys[d.next] = k
	d.next = (d.next + 1) % len(d.keys)
	return false
}

// Forget removes a frame so a later copy is treated as new.
func (d *Deduplicator) Forget(node, messageID uint8, kind codec.Kind) {
	k := Key(node, messageID, kind)
	for i, v := range d.keys {
		if v == k {
			d.keys[i] = 0
		}
	}
}

// Clear resets the deduplicator, forgetting all previously seen frames.
func (d *Deduplicator) Clear() {
	clear(d.keys)
	d.next = 0
}

// Key packs a frame identity into a table key.
func Key(node, messageID uint8, kind codec.Kind) uint32 {
	return present | uint32(node)<<16 | uint32(messageID)<<8 | uint32(kind)
}
