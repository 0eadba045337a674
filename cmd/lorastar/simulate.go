package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/core/crypto"
	"github.com/kabili207/lorastar-go/device/engine"
	"github.com/kabili207/lorastar-go/radio/sim"
	"github.com/kabili207/lorastar-go/transport/stream"
)

var (
	simNodes          int
	simLoss           float64
	simSeed           uint64
	simDuration       time.Duration
	simReportInterval time.Duration
	simStatusInterval time.Duration
)

// simSecret is used when no master secret is configured.
var simSecret = []byte("lorastar simulation secret")

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a gateway and nodes on an in-memory medium",
	Long: `Run a gateway and --nodes nodes on a simulated radio medium that drops
packets with probability --loss. Each node reports a sensor reading every
--report-interval and the gateway broadcasts a status request every
--status-interval. Relay records are printed to standard output.`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simNodes, "nodes", 3, "Number of nodes")
	f.Float64Var(&simLoss, "loss", 0.1, "Packet loss probability")
	f.Uint64Var(&simSeed, "seed", 1, "Loss generator seed")
	f.DurationVar(&simDuration, "duration", 30*time.Second, "Simulation length")
	f.DurationVar(&simReportInterval, "report-interval", 5*time.Second, "Sensor report interval per node")
	f.DurationVar(&simStatusInterval, "status-interval", 15*time.Second, "Broadcast status request interval")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	if simNodes < 1 || simNodes > codec.MaxNodeID {
		return fmt.Errorf("--nodes must be between 1 and %d", codec.MaxNodeID)
	}
	secret, err := loadMasterSecret()
	if err != nil {
		return err
	}
	if secret == nil {
		secret = simSecret
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, simDuration)
	defer cancel()

	medium := sim.NewMedium(sim.Config{Filter: sim.LossRate(simLoss, simSeed), Logger: logger})

	ids := make([]uint8, simNodes)
	for i := range ids {
		ids[i] = uint8(i + 1)
	}
	gwKeys, err := crypto.DeriveKeyTable(secret, networkID, ids...)
	if err != nil {
		return err
	}
	host := stream.New(stream.Config{Writer: os.Stdout, Logger: logger})
	gw, err := engine.New(engine.Config{
		Role:      engine.RoleGateway,
		NetworkID: networkID,
		Keys:      gwKeys,
		Driver:    medium.NewRadio("gateway"),
		Radio:     radioParams(),
		Host:      host,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	nodes := make([]*engine.Engine, 0, len(ids))
	for _, id := range ids {
		keys, err := crypto.DeriveKeyTable(secret, networkID, id)
		if err != nil {
			return err
		}
		n, err := engine.New(engine.Config{
			Role:      engine.RoleNode,
			NodeID:    id,
			NetworkID: networkID,
			Keys:      keys,
			Driver:    medium.NewRadio(fmt.Sprintf("node%d", id)),
			Radio:     radioParams(),
			Board:     engine.NewMemoryBoard(3.0 + float32(id%12)/10),
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
	}

	for _, e := range append([]*engine.Engine{gw}, nodes...) {
		if err := e.Start(); err != nil {
			return err
		}
	}
	if err := host.Start(ctx); err != nil {
		return err
	}
	defer host.Stop()

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { _ = gw.Run(ctx) })
	run(func() {
		every(ctx, simStatusInterval, func() {
			postLogged(gw, logger, func() error {
				_, err := gw.SendStatusRequest(codec.BroadcastID)
				return err
			})
		})
	})
	for i, n := range nodes {
		run(func() { _ = n.Run(ctx) })
		run(func() {
			var value uint8
			every(ctx, simReportInterval, func() {
				v := value
				value = (value + 1) % (codec.MaxFieldValue + 1)
				postLogged(n, logger, func() error {
					_, err := n.SendSensorData(uint8(i%4), v)
					return err
				})
			})
		})
	}

	wg.Wait()

	logger.Info("simulation finished", "medium", fmt.Sprintf("%+v", medium.Stats()))
	logCounters(logger.With("endpoint", "gateway"), gw)
	for i, n := range nodes {
		logCounters(logger.With("endpoint", fmt.Sprintf("node%d", ids[i])), n)
	}
	return nil
}

// every calls fn immediately and then at each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// postLogged runs fn on the engine's poll loop and logs its error.
func postLogged(e *engine.Engine, logger *slog.Logger, fn func() error) {
	err := e.Post(func() {
		if err := fn(); err != nil {
			logger.Warn("simulated event failed", "role", e.Role().String(), "error", err)
		}
	})
	if err != nil {
		logger.Warn("simulated event dropped", "error", err)
	}
}
