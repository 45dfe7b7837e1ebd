// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/discofloor/floorctl/pkg/multidrop"
	"github.com/spf13/cobra"
)

var (
	sensorsWatch    bool
	sensorsInterval int
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Read the floor's touch sensors",
	Long: `Number the chain, then run a sensor sweep and gather one touch
value per cell in address order. A silent cell reads as 0.

With --watch the sweep repeats until interrupted, printing a line per
sweep so a person walking the floor shows up live.

Examples:
  floorctl sensors --port /dev/ttyUSB0
  floorctl sensors --sim 16 --watch --interval 200`,
	RunE: runSensors,
}

func init() {
	rootCmd.AddCommand(sensorsCmd)
	sensorsCmd.Flags().BoolVarP(&sensorsWatch, "watch", "w", false, "Sweep continuously")
	sensorsCmd.Flags().IntVar(&sensorsInterval, "interval", 500, "Sweep interval in milliseconds (with --watch)")
}

func runSensors(cmd *cobra.Command, args []string) error {
	link, connInfo, err := openLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	bus := multidrop.NewBus(link)
	defer bus.Close()

	fmt.Printf("Floorctl - Touch Sensors\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	fmt.Printf("Numbering the chain...\n")
	comp, err := bus.StartAddressing(0)
	if err != nil {
		return err
	}
	if err := comp.Wait(); err != nil {
		return fmt.Errorf("addressing failed: %v", err)
	}
	count := bus.NodeCount()
	fmt.Printf("Cells numbered: %d\n\n", count)
	if count == 0 {
		return fmt.Errorf("no cells on the chain")
	}

	for {
		if err := bus.RunSensors(); err != nil {
			return fmt.Errorf("sensor sweep failed: %v", err)
		}
		values, err := bus.ReadSensors()
		if err != nil {
			return fmt.Errorf("sensor gather failed: %v", err)
		}

		fmt.Println(formatSweep(values))

		if !sensorsWatch {
			return nil
		}
		time.Sleep(time.Duration(sensorsInterval) * time.Millisecond)
	}
}

// formatSweep renders one gather: a cell map plus the touched addresses.
func formatSweep(values []byte) string {
	var sb strings.Builder

	sb.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if v != 0 {
			sb.WriteByte('#')
		} else {
			sb.WriteByte('.')
		}
	}
	sb.WriteByte(']')

	var touched []string
	for i, v := range values {
		if v != 0 {
			touched = append(touched, fmt.Sprintf("%d", i+1))
		}
	}
	if len(touched) > 0 {
		sb.WriteString(" touched: ")
		sb.WriteString(strings.Join(touched, ", "))
	}
	return sb.String()
}
