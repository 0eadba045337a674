package engine

import (
	"fmt"

	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/core/delivery"
	"github.com/kabili207/lorastar-go/core/relay"
	"github.com/kabili207/lorastar-go/radio"
)

// handlePacket validates, decrypts and decodes one received packet and
// dispatches it by role. Every failure discards the packet without side
// effects.
func (e *Engine) handlePacket(pkt *radio.Packet) {
	if pkt.Truncated {
		e.counters.DecodeErrors.Add(1)
		e.log.Debug("dropping truncated packet", "size", len(pkt.Data))
		return
	}
	env, err := codec.UnwrapEnvelope(pkt.Data)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		e.log.Debug("dropping packet", "error", err)
		return
	}
	// The network check runs before any decryption.
	if err := env.CheckNetwork(e.cfg.NetworkID); err != nil {
		e.counters.ForeignFrames.Add(1)
		e.log.Debug("dropping foreign frame", "error", err)
		return
	}
	if !e.accepts(env.Peer) {
		e.counters.Filtered.Add(1)
		return
	}

	f, err := e.open(&env)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		e.log.Debug("dropping undecodable frame", "peer", env.Peer, "error", err)
		return
	}
	e.counters.FramesRecv.Add(1)

	m := relay.Metrics{RSSI: pkt.RSSI, SNR: pkt.SNR}
	e.log.Debug("frame received", "peer", f.PeerID, "msg_id", f.MessageID, "kind", f.Kind.String(),
		"rssi", m.RSSI, "snr", m.SNR)

	switch e.cfg.Role {
	case RoleGateway:
		e.dispatchGateway(&f, m)
	case RoleNode:
		e.dispatchNode(&f)
	}
}

// accepts filters envelopes on the peer byte before decryption. Nodes only
// transmit unicast, so the gateway ignores broadcast envelopes.
func (e *Engine) accepts(peer uint8) bool {
	if e.cfg.Role == RoleGateway {
		return codec.IsUnicast(peer)
	}
	return codec.Accepts(e.cfg.NodeID, peer)
}

func (e *Engine) open(env *codec.Envelope) (codec.Frame, error) {
	plain, err := e.cipher.Open(env.Peer, &env.Ciphertext)
	if err != nil {
		return codec.Frame{}, err
	}
	f, err := codec.DecodeFrame(&plain)
	if err != nil {
		return codec.Frame{}, err
	}
	if env.Peer != codec.BroadcastID && f.PeerID != env.Peer {
		return codec.Frame{}, fmt.Errorf("%w: frame %d, envelope %d", codec.ErrPeerMismatch, f.PeerID, env.Peer)
	}
	if e.cfg.Role == RoleNode && !codec.Accepts(e.cfg.NodeID, f.PeerID) {
		return codec.Frame{}, fmt.Errorf("%w: frame addressed to %d", codec.ErrPeerMismatch, f.PeerID)
	}
	return f, nil
}

// resolve drops the queue head if f answers it: same message ID, same node
// (or a broadcast head), and for a status reply a status request head.
// Later replies to a broadcast head find it gone and resolve nothing.
func (e *Engine) resolve(f *codec.Frame) (delivery.Message, bool) {
	head, ok := e.out.Peek()
	if !ok || head.MessageID != f.MessageID {
		return delivery.Message{}, false
	}
	if head.Destination != f.PeerID && head.Destination != codec.BroadcastID {
		return delivery.Message{}, false
	}
	if f.Kind == codec.KindStatus && head.Kind != codec.KindStatus {
		return delivery.Message{}, false
	}
	if _, ok := e.out.Resolve(f.MessageID); !ok {
		return delivery.Message{}, false
	}
	e.counters.AcksMatched.Add(1)
	return head, true
}

// ack acknowledges f directly, bypassing the delivery queue.
func (e *Engine) ack(f *codec.Frame, field1, field2 uint8, battery float32) {
	a := codec.Frame{
		PeerID:    f.PeerID,
		MessageID: f.MessageID,
		Kind:      codec.KindAck,
		Field1:    field1,
		Field2:    field2,
	}
	a.SetBattery(battery)
	if err := e.sendDirect(f.PeerID, &a); err != nil {
		e.log.Warn("failed to send ack", "peer", f.PeerID, "msg_id", f.MessageID, "error", err)
	}
}
