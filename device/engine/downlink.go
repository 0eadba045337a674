package engine

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/radio"
)

// ErrBadDownlink is returned for host lines that are not a valid command.
var ErrBadDownlink = errors.New("malformed downlink")

// Command is a decoded host downlink line.
//
//	s,<node>                  status request (node 254 is broadcast)
//	c,<node>,<actuator>,<value>  actuator control
//	r,<bandwidth>,<cr>,<sf>   radio reconfiguration, bandwidth in Hz
type Command struct {
	Kind codec.Kind
	Node uint8

	Actuator uint8
	Value    uint8

	Bandwidth       uint32
	CodingRate      uint8
	SpreadingFactor uint8
}

// ParseDownlink decodes one host line.
func ParseDownlink(line []byte) (Command, error) {
	fields := bytes.Split(bytes.TrimSpace(line), []byte{','})
	if len(fields[0]) != 1 {
		return Command{}, fmt.Errorf("%w: %q", ErrBadDownlink, line)
	}

	cmd := Command{Kind: codec.Kind(fields[0][0])}
	args := fields[1:]
	var err error
	switch cmd.Kind {
	case codec.KindStatus:
		if err = wantArgs(args, 1); err != nil {
			break
		}
		cmd.Node, err = parseNode(args[0])

	case codec.KindControl:
		if err = wantArgs(args, 3); err != nil {
			break
		}
		if cmd.Node, err = parseNode(args[0]); err != nil {
			break
		}
		if cmd.Actuator, err = parseField(args[1]); err != nil {
			break
		}
		cmd.Value, err = parseField(args[2])

	case codec.KindRadioParams:
		if err = wantArgs(args, 3); err != nil {
			break
		}
		var bw uint64
		if bw, err = strconv.ParseUint(string(args[0]), 10, 32); err != nil {
			break
		}
		cmd.Bandwidth = uint32(bw)
		if cmd.CodingRate, err = parseField(args[1]); err != nil {
			break
		}
		if cmd.SpreadingFactor, err = parseField(args[2]); err != nil {
			break
		}
		err = radio.DefaultParams().WithModulation(cmd.Bandwidth, cmd.CodingRate, cmd.SpreadingFactor).Validate()

	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrBadDownlink, err)
	}
	return cmd, nil
}

func wantArgs(args [][]byte, n int) error {
	if len(args) != n {
		return fmt.Errorf("want %d arguments, got %d", n, len(args))
	}
	return nil
}

func parseField(b []byte) (uint8, error) {
	v, err := strconv.ParseUint(string(b), 10, 8)
	if err != nil {
		return 0, err
	}
	if v > codec.MaxFieldValue {
		return 0, fmt.Errorf("value %d out of range", v)
	}
	return uint8(v), nil
}

func parseNode(b []byte) (uint8, error) {
	v, err := parseField(b)
	if err != nil {
		return 0, err
	}
	if v != codec.BroadcastID && !codec.IsUnicast(v) {
		return 0, fmt.Errorf("invalid node ID %d", v)
	}
	return v, nil
}
