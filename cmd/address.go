// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/discofloor/floorctl/pkg/multidrop"
	"github.com/spf13/cobra"
)

var (
	addressTimeout int
	addressStart   int
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Number the chain of floor cells",
	Long: `Run an addressing session over the daisy chain.

Every cell is reset and forgets its address, the enable line powers the
first cell, and cells take sequential addresses as the enable signal
ripples down the chain. A second sweep picks up cells that missed the
first one (late power-up, line noise).

Examples:
  # Number a floor on a local serial bus
  floorctl address --port /dev/ttyUSB0

  # Dry run against a simulated chain of 16 cells
  floorctl address --sim 16

Exit codes:
  0 - Addressing successful (at least one cell numbered)
  1 - Addressing failed or empty chain
  2 - Connection error`,
	RunE: runAddress,
}

func init() {
	rootCmd.AddCommand(addressCmd)
	addressCmd.Flags().IntVar(&addressTimeout, "timeout", 30, "Overall session timeout in seconds")
	addressCmd.Flags().IntVar(&addressStart, "start-from", 0, "First address is assigned above this value")
}

func runAddress(cmd *cobra.Command, args []string) error {
	link, connInfo, err := openLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	bus := multidrop.NewBus(link)
	defer bus.Close()

	fmt.Printf("Floorctl - Chain Addressing\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	comp, err := bus.StartAddressing(addressStart)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
		os.Exit(2)
	}

	deadline := time.After(time.Duration(addressTimeout) * time.Second)
	for {
		select {
		case addr, ok := <-comp.Progress():
			if !ok {
				// Session over; the terminal result is on Done.
				if err := comp.Wait(); err != nil {
					fmt.Fprintf(os.Stderr, "\nAddressing failed: %v\n", err)
					os.Exit(1)
				}

				count := bus.NodeCount()
				fmt.Printf("\n--- Addressing summary ---\n")
				fmt.Printf("Cells numbered: %d\n", count)
				if count == 0 {
					fmt.Printf("No cells found. Check chain wiring and power.\n")
					os.Exit(1)
				}
				return nil
			}
			fmt.Printf("Cell confirmed: address %d\n", addr)

		case <-deadline:
			fmt.Fprintf(os.Stderr, "\nTIMEOUT: session did not finish in %ds\n", addressTimeout)
			os.Exit(1)
		}
	}
}
