package engine

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoSensor is returned by a Board for an unknown sensor index.
var ErrNoSensor = errors.New("no such sensor")

// Board is the node's hardware I/O.
type Board interface {
	// WriteActuator drives actuator index to value and returns the value
	// actually applied.
	WriteActuator(index, value uint8) (uint8, error)
	// ReadSensor samples sensor index.
	ReadSensor(index uint8) (uint8, error)
	// BatteryVoltage returns the supply voltage in volts.
	BatteryVoltage() float32
}

// MemoryBoard is an in-memory Board for simulation and tests. Actuator
// values are clamped to Max when Max is non-zero.
type MemoryBoard struct {
	Battery float32
	Max     uint8

	mu        sync.Mutex
	actuators map[uint8]uint8
	sensors   map[uint8]uint8
}

// NewMemoryBoard creates a board reporting the given battery voltage.
func NewMemoryBoard(battery float32) *MemoryBoard {
	return &MemoryBoard{
		Battery:   battery,
		actuators: make(map[uint8]uint8),
		sensors:   make(map[uint8]uint8),
	}
}

func (b *MemoryBoard) WriteActuator(index, value uint8) (uint8, error) {
	if b.Max != 0 && value > b.Max {
		value = b.Max
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actuators[index] = value
	return value, nil
}

func (b *MemoryBoard) ReadSensor(index uint8) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.sensors[index]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoSensor, index)
	}
	return v, nil
}

func (b *MemoryBoard) BatteryVoltage() float32 {
	return b.Battery
}

// SetSensor sets the value returned by ReadSensor.
func (b *MemoryBoard) SetSensor(index, value uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors[index] = value
}

// Actuator returns the last value written to an actuator.
func (b *MemoryBoard) Actuator(index uint8) (uint8, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.actuators[index]
	return v, ok
}
