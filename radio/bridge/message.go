package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Message types. Host to modem requests have the high bit clear; modem
// notifications have it set.
const (
	MsgSetMode   uint8 = 0x01
	MsgTransmit  uint8 = 0x02
	MsgConfigure uint8 = 0x03

	MsgPacketReceived uint8 = 0x81
	MsgTxDone         uint8 = 0x82
)

// Set-mode values.
const (
	ModeStandby uint64 = 0
	ModeReceive uint64 = 1
)

// Payload map keys.
const (
	KeyMode = 0
	KeyData = 0
	KeyRSSI = 1
	KeySNR  = 2

	KeyBandwidth       = 0
	KeyCodingRate      = 1
	KeySpreadingFactor = 2
	KeyFrequency       = 3
	KeyTxPower         = 4
)

// EncodeMessage builds a CBOR message: [msg_type, payload_map]. An empty
// payload is encoded as null.
func EncodeMessage(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	var msg interface{}
	if len(payload) == 0 {
		msg = []interface{}{uint64(msgType), nil}
	} else {
		msg = []interface{}{uint64(msgType), payload}
	}
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// ParseMessage decodes a CBOR message: [msg_type, payload_map].
// The payload map is nil for empty payloads.
func ParseMessage(data []byte) (uint8, map[int]interface{}, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}
	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	t, ok := msg[0].(uint64)
	if !ok || t > 255 {
		return 0, nil, fmt.Errorf("invalid message type %v", msg[0])
	}
	if msg[1] == nil {
		return uint8(t), nil, nil
	}
	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	payload := make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return uint8(t), payload, nil
}

func mapInt(m map[int]interface{}, key int) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func mapFloat(m map[int]interface{}, key int) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func mapBytes(m map[int]interface{}, key int) ([]byte, bool) {
	v, ok := m[key].([]byte)
	return v, ok
}
