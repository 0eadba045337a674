// Command lorastar runs a gateway or node of the lorastar sensor network,
// simulates a whole network in memory, and provisions link keys.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kabili207/lorastar-go/core/codec"
)

var (
	verbose   bool
	networkID uint8

	// Key provisioning flags
	masterSecret string
	keyFlags     []string

	// Radio flags
	frequency       uint32
	bandwidth       uint32
	codingRate      uint8
	spreadingFactor uint8
	txPower         int8
	modemPort       string
	modemBaud       int
)

var rootCmd = &cobra.Command{
	Use:   "lorastar",
	Short: "Encrypted LoRa star network gateway and node",
	Long: `lorastar links battery-powered sensor and actuator nodes to a gateway over
LoRa. The gateway relays every event to a host as one JSON line and accepts
downlink commands from the host:

  s,<node>                     status request (254 is broadcast)
  c,<node>,<actuator>,<value>  actuator control
  r,<bandwidth>,<cr>,<sf>      radio reconfiguration

Link keys are derived from a master secret (--master-secret or the
LORASTAR_MASTER_SECRET environment variable, hex encoded) or given per slot
with --key <id>=<hex>. Slot 0 is the broadcast key.

The radio is a LoRa modem attached over UART (--modem).`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.Uint8Var(&networkID, "network", codec.DefaultNetworkID, "Network ID")

	pf.StringVar(&masterSecret, "master-secret", "", "Hex-encoded master secret for link key derivation")
	pf.StringArrayVar(&keyFlags, "key", nil, "Link key as <id>=<hex>; repeatable")

	pf.Uint32Var(&frequency, "frequency", 868_000_000, "Radio frequency in Hz")
	pf.Uint32Var(&bandwidth, "bandwidth", 125_000, "Signal bandwidth in Hz")
	pf.Uint8Var(&codingRate, "coding-rate", 5, "Coding rate denominator (4/x)")
	pf.Uint8Var(&spreadingFactor, "sf", 7, "Spreading factor")
	pf.Int8Var(&txPower, "tx-power", 14, "Transmit power in dBm")
	pf.StringVar(&modemPort, "modem", "", "Serial port of the LoRa modem")
	pf.IntVar(&modemBaud, "modem-baud", 115200, "Baud rate of the LoRa modem")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
