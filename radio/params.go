package radio

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidParams = errors.New("invalid radio parameters")

// Bandwidths lists the signal bandwidths in Hz supported by SX127x-class
// transceivers.
var Bandwidths = []uint32{7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

// Params is the transceiver modulation and RF configuration.
type Params struct {
	Frequency       uint32 // Hz
	Bandwidth       uint32 // Hz
	CodingRate      uint8  // denominator of 4/x, 5-8
	SpreadingFactor uint8  // 6-12
	TxPower         int8   // dBm
}

// DefaultParams returns the default EU 868 MHz configuration.
func DefaultParams() Params {
	return Params{
		Frequency:       868_000_000,
		Bandwidth:       125_000,
		CodingRate:      5,
		SpreadingFactor: 7,
		TxPower:         14,
	}
}

// Validate checks the modulation parameters.
func (p Params) Validate() error {
	if p.SpreadingFactor < 6 || p.SpreadingFactor > 12 {
		return fmt.Errorf("%w: spreading factor %d", ErrInvalidParams, p.SpreadingFactor)
	}
	if p.CodingRate < 5 || p.CodingRate > 8 {
		return fmt.Errorf("%w: coding rate 4/%d", ErrInvalidParams, p.CodingRate)
	}
	if !slices.Contains(Bandwidths, p.Bandwidth) {
		return fmt.Errorf("%w: bandwidth %d Hz", ErrInvalidParams, p.Bandwidth)
	}
	if p.Frequency == 0 {
		return fmt.Errorf("%w: frequency not set", ErrInvalidParams)
	}
	return nil
}

// WithModulation returns a copy of p with new modulation settings.
func (p Params) WithModulation(bandwidth uint32, codingRate, spreadingFactor uint8) Params {
	p.Bandwidth = bandwidth
	p.CodingRate = codingRate
	p.SpreadingFactor = spreadingFactor
	return p
}

func (p Params) String() string {
	return fmt.Sprintf("%.3f MHz SF%d BW%.1fk CR4/%d %ddBm",
		float64(p.Frequency)/1e6, p.SpreadingFactor, float64(p.Bandwidth)/1e3, p.CodingRate, p.TxPower)
}
