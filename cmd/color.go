// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/discofloor/floorctl/pkg/multidrop"
	"github.com/spf13/cobra"
)

var colorCmd = &cobra.Command{
	Use:   "color RRGGBB [RRGGBB...]",
	Short: "Set floor cell colors",
	Long: `Set cell colors, as hex RGB triplets.

With a single color the whole floor is set via one broadcast; no
addressing is needed. With multiple colors the chain is numbered first
and the colors are scattered in address order, so the count must match
the number of cells on the chain.

Examples:
  # Whole floor red
  floorctl color --port /dev/ttyUSB0 FF0000

  # Four cells, individual colors
  floorctl color --sim 4 FF0000 00FF00 0000FF FFFFFF`,
	Args: cobra.MinimumNArgs(1),
	RunE: runColor,
}

func init() {
	rootCmd.AddCommand(colorCmd)
}

// parseColor parses an RRGGBB hex triplet, with an optional leading #.
func parseColor(s string) ([3]byte, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return [3]byte{}, fmt.Errorf("color %q: want 6 hex digits (RRGGBB)", s)
	}
	v, err := strconv.ParseUint(s, 16, 24)
	if err != nil {
		return [3]byte{}, fmt.Errorf("color %q: %v", s, err)
	}
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}, nil
}

func runColor(cmd *cobra.Command, args []string) error {
	colors := make([][3]byte, 0, len(args))
	for _, arg := range args {
		c, err := parseColor(arg)
		if err != nil {
			return err
		}
		colors = append(colors, c)
	}

	link, connInfo, err := openLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	bus := multidrop.NewBus(link)
	defer bus.Close()

	fmt.Printf("Floorctl - Set Colors\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	if len(colors) == 1 {
		if err := bus.SetAllColor(colors[0]); err != nil {
			return fmt.Errorf("broadcast failed: %v", err)
		}
		fmt.Printf("Floor set to #%02X%02X%02X\n", colors[0][0], colors[0][1], colors[0][2])
		return nil
	}

	fmt.Printf("Numbering the chain...\n")
	comp, err := bus.StartAddressing(0)
	if err != nil {
		return err
	}
	if err := comp.Wait(); err != nil {
		return fmt.Errorf("addressing failed: %v", err)
	}

	count := bus.NodeCount()
	fmt.Printf("Cells numbered: %d\n", count)
	if count != len(colors) {
		return fmt.Errorf("%d color(s) given for %d cell(s)", len(colors), count)
	}

	if err := bus.SetColors(colors); err != nil {
		return fmt.Errorf("scatter failed: %v", err)
	}
	fmt.Printf("Colors applied\n")
	return nil
}
