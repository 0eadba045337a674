// Package delivery provides the outbound delivery queue used by both the
// gateway and node roles.
//
// The Queue is a bounded FIFO of encrypted messages. Only the head of the
// queue is ever transmitted, so at most one reliable message is in flight
// per endpoint. A periodic Tick re-sends the head until it is acknowledged
// (Resolve) or MaxRetries attempts have been made, at which point the head
// is dropped and reported through OnExhausted.
//
// A Queue is owned by a single poll loop and is not safe for concurrent use.
package delivery

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kabili207/lorastar-go/core/codec"
)

const (
	// DefaultCapacity is the default number of queued messages.
	DefaultCapacity = 5

	// DefaultMaxRetries is the default number of send attempts per message.
	DefaultMaxRetries = 5
)

var (
	ErrQueueFull         = errors.New("delivery queue full")
	ErrDeliveryExhausted = errors.New("delivery retries exhausted")
	ErrZeroMessageID     = errors.New("message ID must not be zero")
)

// Message is an outbound reliable message. The ciphertext is computed once at
// push time and re-sent verbatim on every attempt.
type Message struct {
	Ciphertext  codec.Block
	MessageID   uint8
	Kind        codec.Kind
	Destination uint8

	// Actuator index and value requested by a control message.
	ActuatorIndex uint8
	ActuatorValue uint8
}

// Record is the delivery state of the current head.
type Record struct {
	LastSentMessageID    uint8
	ConsecutiveSendCount int
	LastSentAt           uint32
	Sent                 bool
}

// TickResult reports what a Tick did.
type TickResult int

const (
	TickIdle TickResult = iota
	TickSent
	TickSendFailed
	TickExhausted
)

func (r TickResult) String() string {
	switch r {
	case TickIdle:
		return "idle"
	case TickSent:
		return "sent"
	case TickSendFailed:
		return "send-failed"
	case TickExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Config configures a Queue.
type Config struct {
	// Capacity is the maximum number of queued messages. Default: 5.
	Capacity int

	// MaxRetries is the number of send attempts before a message is
	// abandoned. Default: 5.
	MaxRetries int

	// Send transmits a message. It is called for every attempt, including
	// the first. An error counts as an attempt.
	Send func(m *Message) error

	// OnExhausted is called after the head has been dropped because no
	// acknowledgement arrived within MaxRetries attempts. May be nil.
	OnExhausted func(m Message)

	// Logger for queue events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

type slot struct {
	msg Message
	seq uint64
}

// Queue is a fixed-capacity ring of outbound messages.
type Queue struct {
	cfg   Config
	log   *slog.Logger
	slots []slot
	head  int
	count int

	nextSeq uint64
	headSeq uint64 // seq of the message the record refers to
	record  Record
}

// New creates a delivery queue.
func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:   cfg,
		log:   logger.WithGroup("delivery"),
		slots: make([]slot, cfg.Capacity),
	}
}

// Push appends a message. A full queue rejects the new message with
// ErrQueueFull; queued messages are never evicted.
func (q *Queue) Push(m Message) error {
	if m.MessageID == 0 {
		return ErrZeroMessageID
	}
	if q.count == len(q.slots) {
		return fmt.Errorf("%w: message %d to %d", ErrQueueFull, m.MessageID, m.Destination)
	}
	q.nextSeq++
	idx := (q.head + q.count) % len(q.slots)
	q.slots[idx] = slot{msg: m, seq: q.nextSeq}
	q.count++
	return nil
}

// Peek returns the head message without removing it.
func (q *Queue) Peek() (Message, bool) {
	if q.count == 0 {
		return Message{}, false
	}
	return q.slots[q.head].msg, true
}

// PeekID returns the head's message ID, or 0 if the queue is empty.
func (q *Queue) PeekID() uint8 {
	if q.count == 0 {
		return 0
	}
	return q.slots[q.head].msg.MessageID
}

// Contains reports whether any queued message, in flight or waiting, has
// the given kind and message ID.
func (q *Queue) Contains(kind codec.Kind, messageID uint8) bool {
	for i := 0; i < q.count; i++ {
		m := &q.slots[(q.head+i)%len(q.slots)].msg
		if m.Kind == kind && m.MessageID == messageID {
			return true
		}
	}
	return false
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Record returns the delivery state of the current head.
func (q *Queue) Record() Record {
	return q.record
}

// Resolve drops the head if its message ID matches an acknowledgement,
// regardless of how many attempts have been made. It returns the dropped
// message.
func (q *Queue) Resolve(messageID uint8) (Message, bool) {
	if q.count == 0 || messageID == 0 || q.slots[q.head].msg.MessageID != messageID {
		return Message{}, false
	}
	m := q.drop()
	q.log.Debug("delivered", "msg_id", m.MessageID, "dest", m.Destination, "attempts", q.record.ConsecutiveSendCount+1)
	return m, true
}

// Tick advances the delivery state machine by one step:
//   - an empty queue does nothing;
//   - a new head resets the send count, an unchanged head increments it;
//   - below MaxRetries the head is (re)sent;
//   - at MaxRetries the head is dropped and OnExhausted is called.
func (q *Queue) Tick(now uint32) TickResult {
	if q.count == 0 {
		return TickIdle
	}
	head := &q.slots[q.head]

	if q.record.Sent && q.headSeq == head.seq {
		q.record.ConsecutiveSendCount++
	} else {
		q.record.ConsecutiveSendCount = 0
	}
	q.headSeq = head.seq
	q.record.LastSentMessageID = head.msg.MessageID

	if q.record.ConsecutiveSendCount >= q.cfg.MaxRetries {
		m := q.drop()
		q.log.Warn("delivery failed", "msg_id", m.MessageID, "dest", m.Destination,
			"kind", m.Kind.String(), "attempts", q.cfg.MaxRetries)
		if q.cfg.OnExhausted != nil {
			q.cfg.OnExhausted(m)
		}
		return TickExhausted
	}

	q.record.Sent = true
	q.record.LastSentAt = now
	if q.cfg.Send == nil {
		return TickSent
	}
	if err := q.cfg.Send(&head.msg); err != nil {
		q.log.Warn("send failed", "msg_id", head.msg.MessageID, "attempt", q.record.ConsecutiveSendCount+1, "error", err)
		return TickSendFailed
	}
	q.log.Debug("sent", "msg_id", head.msg.MessageID, "dest", head.msg.Destination,
		"attempt", q.record.ConsecutiveSendCount+1)
	return TickSent
}

// LastSendAt returns the tick of the last send attempt for the current head.
// It reports false when the queue is empty or the head has not been sent.
func (q *Queue) LastSendAt() (uint32, bool) {
	if q.count == 0 || !q.record.Sent || q.headSeq != q.slots[q.head].seq {
		return 0, false
	}
	return q.record.LastSentAt, true
}

func (q *Queue) drop() Message {
	m := q.slots[q.head].msg
	q.slots[q.head] = slot{}
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	return m
}
