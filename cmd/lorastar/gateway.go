package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kabili207/lorastar-go/device/engine"
)

var (
	gatewayNodes  []uint
	gatewayDedupe bool
	gatewayHost   hostOptions
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway",
	Long: `Run the gateway: receive node traffic over the modem, acknowledge it, and
relay one JSON record per event to the host link. Downlink commands arrive on
the same host link.

Keys for every --node are derived from the master secret.`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().UintSliceVar(&gatewayNodes, "nodes", nil, "Node IDs served by this gateway")
	gatewayCmd.Flags().BoolVar(&gatewayDedupe, "dedupe", false, "Relay retransmitted uplinks only once")
	gatewayHost.register(gatewayCmd.Flags(), "stdio")
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodes, err := parseNodes(gatewayNodes)
	if err != nil {
		return err
	}
	keys, err := loadKeys(nodes)
	if err != nil {
		return err
	}
	host, err := gatewayHost.open(logger)
	if err != nil {
		return err
	}
	if host == nil {
		logger.Warn("no host link, records will only be logged")
	}

	modem, err := openModem(ctx, logger)
	if err != nil {
		return err
	}
	defer modem.Close()

	eng, err := engine.New(engine.Config{
		Role:               engine.RoleGateway,
		NetworkID:          networkID,
		Keys:               keys,
		Driver:             modem,
		Radio:              radioParams(),
		Host:               host,
		SuppressDuplicates: gatewayDedupe,
		Logger:             logger,
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

	logger.Info("gateway running", "network", networkID, "nodes", nodes, "radio", radioParams().String())
	err = eng.Run(ctx)
	logCounters(logger, eng)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logCounters(logger *slog.Logger, eng *engine.Engine) {
	s := eng.Counters().Snapshot()
	l := eng.LinkStats()
	logger.Info("counters",
		"frames_recv", s.FramesRecv,
		"frames_sent", s.FramesSent,
		"decode_errors", s.DecodeErrors,
		"foreign", s.ForeignFrames,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"acks_matched", s.AcksMatched,
		"exhausted", s.DeliveryExhausted,
		"queue_full", s.QueueFull,
		"relayed", s.RecordsRelayed,
		"relay_dropped", s.RelayDropped,
		"tx_done", l.TxDone,
		"tx_timeouts", l.TxTimeouts,
		"send_errors", l.SendErrors,
	)
}
