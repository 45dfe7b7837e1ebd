// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"fmt"
	"strings"
)

// CommandName returns a human-readable name for a bus command.
func CommandName(cmd Command) string {
	switch cmd {
	case CmdNull:
		return "NULL"
	case CmdSetColor:
		return "SET_COLOR"
	case CmdRunSensor:
		return "RUN_SENSOR"
	case CmdGetSensorValue:
		return "GET_SENSOR_VALUE"
	case CmdReset:
		return "RESET"
	case CmdAddress:
		return "ADDRESS"
	default:
		return "UNKNOWN"
	}
}

// FormatFrame renders a decoded frame for the monitor output.
func FormatFrame(f *Frame) string {
	var sb strings.Builder

	timestamp := f.Timestamp.Format("15:04:05.000")
	fmt.Fprintf(&sb, "[%s] %s (0x%02X)", timestamp, CommandName(f.Cmd), uint8(f.Cmd))

	if f.IsBroadcast() {
		sb.WriteString(" dest=broadcast")
	} else {
		fmt.Fprintf(&sb, " dest=%d", f.Dest)
	}

	if f.Batch() {
		fmt.Fprintf(&sb, " nodes=%d", f.NodeCount)
	}
	fmt.Fprintf(&sb, " len=%d", f.Length)
	if f.ResponseExpected() {
		sb.WriteString(" [response]")
	}
	sb.WriteByte('\n')

	if len(f.Payload) > 0 {
		sb.WriteString(formatPayload(f))
	}

	return sb.String()
}

// formatPayload renders the payload section, per-node for batches and
// as a plain hex dump otherwise.
func formatPayload(f *Frame) string {
	var sb strings.Builder

	if f.Cmd == CmdSetColor && f.Batch() && f.Length == 3 {
		for i := 0; i+3 <= len(f.Payload); i += 3 {
			fmt.Fprintf(&sb, "  Node %d: #%02X%02X%02X\n",
				i/3+1, f.Payload[i], f.Payload[i+1], f.Payload[i+2])
		}
		return sb.String()
	}

	sb.WriteString("  Payload: ")
	for i, b := range f.Payload {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n           ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteByte('\n')
	return sb.String()
}
