package relay

import (
	"strconv"

	"github.com/kabili207/lorastar-go/core/codec"
)

// MaxRecordSize is the capacity of one record buffer.
const MaxRecordSize = 128

// Signal and battery values are clamped to these bounds when formatted, so
// a misbehaving modem cannot push a record past MaxRecordSize.
const (
	MinRSSI    = -200
	MaxRSSI    = 0
	MinSNR     = -40
	MaxSNR     = 40
	MaxBattery = codec.MaxFieldValue + 0.9
)

// FailureReason says why a reliable message was abandoned.
type FailureReason string

const (
	ReasonRetries   FailureReason = "retries"
	ReasonQueueFull FailureReason = "queue_full"
)

// Metrics is the signal quality captured when a frame was received.
type Metrics struct {
	RSSI int
	SNR  float32
}

// Record is one host-bound status line: a flat JSON object whose values are
// all strings. The encoding never contains a newline.
type Record struct {
	buf [MaxRecordSize]byte
	n   int
}

// Bytes returns the formatted record. The slice aliases the record buffer.
func (r *Record) Bytes() []byte {
	return r.buf[:r.n]
}

func (r *Record) String() string {
	return string(r.buf[:r.n])
}

// Len returns the formatted length in bytes.
func (r *Record) Len() int {
	return r.n
}

// Flag returns the record's kind tag, or 0 for an empty record.
func (r *Record) Flag() codec.Kind {
	const prefix = len(`{"flag":"`)
	if r.n <= prefix {
		return 0
	}
	return codec.Kind(r.buf[prefix])
}

func (r *Record) reset() {
	r.n = 0
}

// Uplink formats a sensor reading received from a node.
func Uplink(node, sensor, value uint8, battery float32, m Metrics) (Record, error) {
	var b builder
	b.begin(codec.KindUplink)
	b.uint("nodeID", node)
	b.uint("sensorID", sensor)
	b.uint("value", value)
	b.metrics(m)
	b.battery(battery)
	return b.finish()
}

// Status formats a status report. active is false for a status request that
// went unanswered.
func Status(node uint8, active bool, battery float32, m *Metrics) (Record, error) {
	var b builder
	b.begin(codec.KindStatus)
	b.uint("nodeID", node)
	if active {
		b.str("active", "1")
	} else {
		b.str("active", "0")
	}
	if m != nil {
		b.metrics(*m)
		b.battery(battery)
	}
	return b.finish()
}

// Ack formats an acknowledgement that resolved a pending message.
func Ack(node, msgID uint8, m Metrics) (Record, error) {
	var b builder
	b.begin(codec.KindAck)
	b.uint("nodeID", node)
	b.uint("msgID", msgID)
	b.metrics(m)
	return b.finish()
}

// ControlAck formats the acknowledgement of an actuator command, carrying the
// value the node actually applied.
func ControlAck(node, msgID, actuator, applied uint8, battery float32, m Metrics) (Record, error) {
	var b builder
	b.begin(codec.KindAck)
	b.uint("nodeID", node)
	b.uint("msgID", msgID)
	b.uint("actID", actuator)
	b.uint("actVal", applied)
	b.metrics(m)
	b.battery(battery)
	return b.finish()
}

// Failure formats a synthetic delivery failure for a message that was never
// acknowledged or could not be queued.
func Failure(node, msgID uint8, kind codec.Kind, reason FailureReason) (Record, error) {
	var b builder
	b.begin(codec.KindFailure)
	b.uint("nodeID", node)
	b.uint("msgID", msgID)
	b.str("kind", string(rune(kind)))
	b.str("reason", string(reason))
	return b.finish()
}

// builder appends into a record buffer. Keys and string values are ASCII
// literals chosen by this package, so no escaping is needed.
type builder struct {
	rec Record
	b   []byte
}

func (b *builder) begin(flag codec.Kind) {
	b.b = b.rec.buf[:0]
	b.b = append(b.b, `{"flag":"`...)
	b.b = append(b.b, byte(flag), '"')
}

func (b *builder) key(k string) {
	b.b = append(b.b, ',', '"')
	b.b = append(b.b, k...)
	b.b = append(b.b, '"', ':', '"')
}

func (b *builder) str(k, v string) {
	b.key(k)
	b.b = append(b.b, v...)
	b.b = append(b.b, '"')
}

func (b *builder) uint(k string, v uint8) {
	b.key(k)
	b.b = strconv.AppendUint(b.b, uint64(v), 10)
	b.b = append(b.b, '"')
}

func (b *builder) metrics(m Metrics) {
	b.key("RSSI")
	b.b = strconv.AppendInt(b.b, int64(min(max(m.RSSI, MinRSSI), MaxRSSI)), 10)
	b.b = append(b.b, '"')
	b.key("SNR")
	b.b = strconv.AppendFloat(b.b, float64(clamp(m.SNR, MinSNR, MaxSNR)), 'f', 2, 32)
	b.b = append(b.b, '"')
}

func (b *builder) battery(v float32) {
	b.key("battery")
	b.b = strconv.AppendFloat(b.b, float64(clamp(v, 0, MaxBattery)), 'f', 1, 32)
	b.b = append(b.b, '"')
}

// clamp bounds v to [lo, hi]. NaN is reported as lo.
func clamp(v, lo, hi float32) float32 {
	if v != v {
		return lo
	}
	return min(max(v, lo), hi)
}

func (b *builder) finish() (Record, error) {
	b.b = append(b.b, '}')
	// append reallocates once the fixed buffer is exhausted
	if len(b.b) > MaxRecordSize {
		return Record{}, ErrRecordTooLong
	}
	b.rec.n = len(b.b)
	return b.rec, nil
}
