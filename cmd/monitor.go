// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package cmd

import (
	"fmt"
	"log"

	"github.com/discofloor/floorctl/pkg/multidrop"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Passively decode bus traffic",
	Long: `Continuously decode and display bus messages as they arrive.

Attach to the bus as a listener (no writes) and print each frame with
timestamp, command, destination and decoded payload. Useful for watching
what another master is doing on the wire.

Supports both serial and gateway connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	link, connInfo, err := openLink()
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("Floorctl - Bus Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := multidrop.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := link.Read(buf)
		if err != nil {
			log.Printf("Read error: %v", err)
			return nil
		}

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if frame != nil {
				fmt.Print(multidrop.FormatFrame(frame))
			}
		}
	}
}
