package engine

import (
	"math/rand/v2"

	"github.com/kabili207/lorastar-go/core/codec"
)

// idSource hands out message IDs in 1..MaxMessageID, starting at a random
// point so a restarted endpoint is unlikely to reuse its previous IDs.
type idSource struct {
	next uint8
}

func newIDSource(first uint8) *idSource {
	if first == 0 || first > codec.MaxMessageID {
		first = uint8(rand.IntN(codec.MaxMessageID)) + 1
	}
	return &idSource{next: first}
}

// Next returns the next message ID. Zero is never returned.
func (s *idSource) Next() uint8 {
	id := s.next
	if s.next >= codec.MaxMessageID {
		s.next = 1
	} else {
		s.next++
	}
	return id
}
