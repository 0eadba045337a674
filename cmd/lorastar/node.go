package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/device/engine"
)

var (
	nodeID      uint8
	nodeBattery float32
	nodeActMax  uint8
	nodeHost    hostOptions
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a node",
	Long: `Run a node. Sensor readings are read from standard input as lines of the
form u,<sensor>,<value> and delivered reliably to the gateway. Actuator
commands from the gateway are logged and acknowledged.`,
	RunE: runNode,
}

func init() {
	nodeCmd.Flags().Uint8Var(&nodeID, "id", 0, "Node ID (1-253)")
	nodeCmd.Flags().Float32Var(&nodeBattery, "battery", 3.7, "Reported battery voltage")
	nodeCmd.Flags().Uint8Var(&nodeActMax, "actuator-max", 0, "Clamp actuator values to this maximum (0 disables)")
	nodeHost.register(nodeCmd.Flags(), "none")
	rootCmd.AddCommand(nodeCmd)
}

// loggingBoard logs actuator writes on top of an in-memory board.
type loggingBoard struct {
	*engine.MemoryBoard
	log *slog.Logger
}

func (b loggingBoard) WriteActuator(index, value uint8) (uint8, error) {
	applied, err := b.MemoryBoard.WriteActuator(index, value)
	if err == nil {
		b.log.Info("actuator write", "actuator", index, "requested", value, "applied", applied)
	}
	return applied, err
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !codec.IsUnicast(nodeID) {
		return fmt.Errorf("--id must be between %d and %d", codec.MinNodeID, codec.MaxNodeID)
	}
	if nodeHost.kind == "stdio" {
		return errors.New("standard input is the node console; choose another --host")
	}
	keys, err := loadKeys([]uint8{nodeID})
	if err != nil {
		return err
	}
	host, err := nodeHost.open(logger)
	if err != nil {
		return err
	}

	modem, err := openModem(ctx, logger)
	if err != nil {
		return err
	}
	defer modem.Close()

	mem := engine.NewMemoryBoard(nodeBattery)
	mem.Max = nodeActMax
	eng, err := engine.New(engine.Config{
		Role:      engine.RoleNode,
		NodeID:    nodeID,
		NetworkID: networkID,
		Keys:      keys,
		Driver:    modem,
		Radio:     radioParams(),
		Host:      host,
		Board:     loggingBoard{MemoryBoard: mem, log: logger},
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}
	if host != nil {
		host.SetStateHandler(logHostEvents(logger))
		if err := host.Start(ctx); err != nil {
			return err
		}
		defer host.Stop()
	}

	go readConsole(os.Stdin, eng, logger)

	logger.Info("node running", "id", nodeID, "network", networkID, "radio", radioParams().String())
	err = eng.Run(ctx)
	logCounters(logger, eng)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readConsole feeds sensor events from r into the engine until EOF.
func readConsole(r io.Reader, eng *engine.Engine, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sensor, value, err := parseConsoleLine(line)
		if err != nil {
			logger.Warn("ignoring console line", "line", line, "error", err)
			continue
		}
		err = eng.Post(func() {
			if _, err := eng.SendSensorData(sensor, value); err != nil {
				logger.Warn("uplink not queued", "sensor", sensor, "error", err)
			}
		})
		if err != nil {
			logger.Warn("console event dropped", "error", err)
		}
	}
}

// parseConsoleLine parses "u,<sensor>,<value>".
func parseConsoleLine(line string) (sensor, value uint8, err error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 || parts[0] != "u" {
		return 0, 0, errors.New("want u,<sensor>,<value>")
	}
	s, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || s > codec.MaxFieldValue {
		return 0, 0, fmt.Errorf("bad sensor %q", parts[1])
	}
	v, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil || v > codec.MaxFieldValue {
		return 0, 0, fmt.Errorf("bad value %q", parts[2])
	}
	return uint8(s), uint8(v), nil
}
