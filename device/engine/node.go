package engine

import (
	"github.com/kabili207/lorastar-go/core/codec"
)

func (e *Engine) dispatchNode(f *codec.Frame) {
	switch f.Kind {
	case codec.KindAck:
		if head, ok := e.resolve(f); ok {
			e.log.Info("delivered", "msg_id", head.MessageID, "kind", head.Kind.String())
		}

	case codec.KindStatus:
		e.replyStatus(f)

	case codec.KindControl:
		e.applyControl(f)

	default:
		e.log.Debug("ignoring frame", "kind", f.Kind.String())
	}
}

// replyStatus answers a status request with a status message carrying the
// request's ID. The reply is itself delivered reliably, so a retransmitted
// request is ignored while its reply is still queued.
func (e *Engine) replyStatus(req *codec.Frame) {
	if e.out.Contains(codec.KindStatus, req.MessageID) {
		return
	}
	f := codec.Frame{PeerID: e.cfg.NodeID, MessageID: req.MessageID, Kind: codec.KindStatus}
	f.SetBattery(e.battery())
	if err := e.enqueue(e.cfg.NodeID, &f); err != nil {
		e.log.Warn("failed to queue status reply", "msg_id", req.MessageID, "error", err)
	}
}

// applyControl drives the actuator and acknowledges with the value actually
// applied. A failed write is not acknowledged, so the gateway retries.
func (e *Engine) applyControl(f *codec.Frame) {
	if e.cfg.Board == nil {
		e.log.Warn("no board, control ignored", "actuator", f.Field1)
		return
	}
	applied, err := e.cfg.Board.WriteActuator(f.Field1, f.Field2)
	if err != nil {
		e.log.Warn("actuator write failed", "actuator", f.Field1, "value", f.Field2, "error", err)
		return
	}
	e.log.Info("actuator set", "actuator", f.Field1, "value", applied, "msg_id", f.MessageID)

	reply := codec.Frame{PeerID: e.cfg.NodeID, MessageID: f.MessageID}
	e.ack(&reply, f.Field1, applied, e.battery())
}

// SendSensorData queues a sensor reading for the gateway and returns its
// message ID.
func (e *Engine) SendSensorData(sensor, value uint8) (uint8, error) {
	if e.cfg.Role != RoleNode {
		return 0, ErrWrongRole
	}
	f := codec.Frame{
		PeerID:    e.cfg.NodeID,
		MessageID: e.ids.Next(),
		Kind:      codec.KindUplink,
		Field1:    sensor,
		Field2:    value,
	}
	f.SetBattery(e.battery())
	if err := e.enqueue(e.cfg.NodeID, &f); err != nil {
		return 0, err
	}
	e.log.Debug("uplink queued", "msg_id", f.MessageID, "sensor", sensor, "value", value)
	return f.MessageID, nil
}

// ReportSensor samples a sensor from the board and queues the reading.
func (e *Engine) ReportSensor(sensor uint8) (uint8, error) {
	if e.cfg.Role != RoleNode {
		return 0, ErrWrongRole
	}
	if e.cfg.Board == nil {
		return 0, ErrNoSensor
	}
	v, err := e.cfg.Board.ReadSensor(sensor)
	if err != nil {
		return 0, err
	}
	return e.SendSensorData(sensor, v)
}
