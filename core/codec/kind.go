package codec

// Kind is the one-character message type tag carried in every frame.
type Kind byte

const (
	KindUplink      Kind = 'u' // Node sensor reading
	KindStatus      Kind = 's' // Status request (gateway) or status reply (node)
	KindAck         Kind = 'a' // Acknowledgement
	KindControl     Kind = 'c' // Actuator control
	KindRadioParams Kind = 'r' // Radio reconfiguration (gateway downlink only)

	// KindFailure is synthetic. It only appears in relay records and is never
	// transmitted.
	KindFailure Kind = 'f'
)

// IsValid reports whether k may appear in a transmitted frame.
func (k Kind) IsValid() bool {
	switch k {
	case KindUplink, KindStatus, KindAck, KindControl, KindRadioParams:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindUplink:
		return "uplink"
	case KindStatus:
		return "status"
	case KindAck:
		return "ack"
	case KindControl:
		return "control"
	case KindRadioParams:
		return "radio-params"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}
