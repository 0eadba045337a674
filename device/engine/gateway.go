package engine

import (
	"fmt"

	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/core/relay"
)

func (e *Engine) dispatchGateway(f *codec.Frame, m relay.Metrics) {
	switch f.Kind {
	case codec.KindUplink:
		e.ack(f, 0, 0, 0)
		if e.duplicate(f) {
			return
		}
		e.pushRecord(relay.Uplink(f.PeerID, f.Field1, f.Field2, f.Battery(), m))

	case codec.KindStatus:
		// A status reply is acknowledged and also answers a pending request.
		e.ack(f, 0, 0, 0)
		e.resolve(f)
		if e.duplicate(f) {
			return
		}
		e.pushRecord(relay.Status(f.PeerID, true, f.Battery(), &m))

	case codec.KindAck:
		head, ok := e.resolve(f)
		if !ok {
			e.log.Debug("ack does not match queue head", "peer", f.PeerID, "msg_id", f.MessageID)
			return
		}
		if head.Kind == codec.KindControl {
			e.pushRecord(relay.ControlAck(f.PeerID, f.MessageID, f.Field1, f.Field2, f.Battery(), m))
			return
		}
		e.pushRecord(relay.Ack(f.PeerID, f.MessageID, m))

	default:
		e.log.Debug("ignoring frame", "kind", f.Kind.String(), "peer", f.PeerID)
	}
}

func (e *Engine) duplicate(f *codec.Frame) bool {
	if e.dedup == nil || !e.dedup.HasSeen(f.PeerID, f.MessageID, f.Kind) {
		return false
	}
	e.counters.Duplicates.Add(1)
	e.log.Debug("duplicate frame not relayed", "peer", f.PeerID, "msg_id", f.MessageID, "kind", f.Kind.String())
	return true
}

// SendStatusRequest queues a status request for node, or for every node when
// node is codec.BroadcastID. It returns the request's message ID.
func (e *Engine) SendStatusRequest(node uint8) (uint8, error) {
	if err := e.checkTarget(node); err != nil {
		return 0, err
	}
	f := codec.Frame{PeerID: node, MessageID: e.ids.Next(), Kind: codec.KindStatus}
	if err := e.enqueue(node, &f); err != nil {
		return 0, err
	}
	e.log.Info("status request queued", "node", node, "msg_id", f.MessageID)
	return f.MessageID, nil
}

// SendActuatorControl queues a command setting actuator on node to value.
func (e *Engine) SendActuatorControl(node, actuator, value uint8) (uint8, error) {
	if err := e.checkTarget(node); err != nil {
		return 0, err
	}
	f := codec.Frame{
		PeerID:    node,
		MessageID: e.ids.Next(),
		Kind:      codec.KindControl,
		Field1:    actuator,
		Field2:    value,
	}
	if err := e.enqueue(node, &f); err != nil {
		return 0, err
	}
	e.log.Info("actuator control queued", "node", node, "msg_id", f.MessageID, "actuator", actuator, "value", value)
	return f.MessageID, nil
}

// ConfigureRadio changes the modulation immediately. Nothing is sent and no
// acknowledgement is expected.
func (e *Engine) ConfigureRadio(bandwidth uint32, codingRate, spreadingFactor uint8) error {
	if e.cfg.Role != RoleGateway {
		return ErrWrongRole
	}
	p := e.params.WithModulation(bandwidth, codingRate, spreadingFactor)
	if err := e.link.Configure(p); err != nil {
		return err
	}
	e.params = p
	e.log.Info("radio reconfigured", "params", p.String())
	return nil
}

// HandleDownlink decodes one host line and runs the command. It must be
// called on the poll loop goroutine.
func (e *Engine) HandleDownlink(line []byte) error {
	cmd, err := ParseDownlink(line)
	if err != nil {
		return err
	}
	switch cmd.Kind {
	case codec.KindStatus:
		_, err = e.SendStatusRequest(cmd.Node)
	case codec.KindControl:
		_, err = e.SendActuatorControl(cmd.Node, cmd.Actuator, cmd.Value)
	case codec.KindRadioParams:
		err = e.ConfigureRadio(cmd.Bandwidth, cmd.CodingRate, cmd.SpreadingFactor)
	}
	return err
}

func (e *Engine) checkTarget(node uint8) error {
	if e.cfg.Role != RoleGateway {
		return ErrWrongRole
	}
	if node != codec.BroadcastID && !codec.IsUnicast(node) {
		return fmt.Errorf("%w: %d", ErrInvalidNode, node)
	}
	return nil
}
