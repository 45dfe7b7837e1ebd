// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket gateway flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Simulated floor
	simNodes int
)

var rootCmd = &cobra.Command{
	Use:   "floorctl",
	Short: "Disco Floor bus controller",
	Long: `Floorctl - controller for a daisy-chained floor of RGB/touch cells.

Drives the multi-drop half-duplex bus from the master side: numbering the
chain, scattering colors, gathering touch sensors, and passively decoding
bus traffic.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  Gateway:   --url ws://host/bus [--username user]
  Simulator: --sim 16

For gateway authentication, the password is read from the FLOOR_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version: "1.0.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket gateway flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Gateway WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Simulator
	rootCmd.PersistentFlags().IntVar(&simNodes, "sim", 0, "Run against an in-memory chain of N cells")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
