// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project
//
// Floorctl - Disco Floor bus controller
//
// A CLI tool for driving a daisy-chained floor of RGB/touch cells over
// a multi-drop serial bus.

package main

import (
	"os"

	"github.com/discofloor/floorctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
