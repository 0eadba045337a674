package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kabili207/lorastar-go/radio"
	"github.com/kabili207/lorastar-go/radio/bridge"
)

func radioParams() radio.Params {
	return radio.Params{
		Frequency:       frequency,
		Bandwidth:       bandwidth,
		CodingRate:      codingRate,
		SpreadingFactor: spreadingFactor,
		TxPower:         txPower,
	}
}

// openModem connects to the UART modem and starts its read loop.
func openModem(ctx context.Context, logger *slog.Logger) (*bridge.Driver, error) {
	if modemPort == "" {
		return nil, errors.New("--modem must be specified")
	}
	if err := radioParams().Validate(); err != nil {
		return nil, err
	}
	d, err := bridge.Open(modemPort, modemBaud, logger)
	if err != nil {
		return nil, fmt.Errorf("open modem: %w", err)
	}
	d.Start(ctx)
	return d, nil
}
