// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/discofloor/floorctl/pkg/multidrop"
	"github.com/spf13/cobra"
)

var tuiColumns int

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive floor control",
	Long: `Control the floor from an interactive terminal UI.

The chain is numbered on startup, then the floor is shown as a grid of
cells colored by their last applied color. Touch sensors are polled
continuously; a touched cell lights up in the grid.

Keys:
  arrows     move the cell cursor
  enter      apply the entered color to the selected cell
  ctrl+a     apply the entered color to the whole floor
  ctrl+r     re-run addressing
  q, ctrl+c  quit

Supports serial, gateway and simulator connections.`,
	RunE: runTui,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
	tuiCmd.Flags().IntVar(&tuiColumns, "columns", 8, "Grid width in cells")
}

// TUI messages
type floorTickMsg time.Time
type floorAddressedMsg struct {
	count int
	err   error
}
type floorSweepMsg struct {
	values []byte
	err    error
}
type floorColorMsg struct {
	err error
}

type floorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// floorModel is the TUI state: the bus session, the master-side color
// map, and the latest sensor sweep.
type floorModel struct {
	bus      *multidrop.Bus
	connInfo string
	columns  int

	addressed bool
	count     int
	colors    [][3]byte
	touched   []bool
	cursor    int

	input   textinput.Model
	log     []floorLogEntry
	maxLog  int
	width   int
	height  int
	polling bool
	quit    bool
}

func initialFloorModel(bus *multidrop.Bus, connInfo string, columns int) floorModel {
	input := textinput.New()
	input.Placeholder = "RRGGBB"
	input.CharLimit = 7
	input.Width = 10
	input.Focus()

	if columns < 1 {
		columns = 1
	}

	return floorModel{
		bus:      bus,
		connInfo: connInfo,
		columns:  columns,
		input:    input,
		maxLog:   50,
		width:    80,
		height:   24,
	}
}

func runTui(cmd *cobra.Command, args []string) error {
	link, connInfo, err := openLink()
	if err != nil {
		return err
	}

	bus := multidrop.NewBus(link)
	defer bus.Close()

	m := initialFloorModel(bus, connInfo, tuiColumns)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

func (m floorModel) Init() tea.Cmd {
	return tea.Batch(
		addressFloorCmd(m.bus),
		floorTickCmd(),
	)
}

func floorTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return floorTickMsg(t)
	})
}

// addressFloorCmd runs a full addressing session off the UI loop.
func addressFloorCmd(bus *multidrop.Bus) tea.Cmd {
	return func() tea.Msg {
		comp, err := bus.StartAddressing(0)
		if err != nil {
			return floorAddressedMsg{err: err}
		}
		if err := comp.Wait(); err != nil {
			return floorAddressedMsg{err: err}
		}
		return floorAddressedMsg{count: bus.NodeCount()}
	}
}

// sweepFloorCmd runs one sensor sweep and gather.
func sweepFloorCmd(bus *multidrop.Bus) tea.Cmd {
	return func() tea.Msg {
		if err := bus.RunSensors(); err != nil {
			return floorSweepMsg{err: err}
		}
		values, err := bus.ReadSensors()
		return floorSweepMsg{values: values, err: err}
	}
}

func setCellColorCmd(bus *multidrop.Bus, colors [][3]byte) tea.Cmd {
	return func() tea.Msg {
		return floorColorMsg{err: bus.SetColors(colors)}
	}
}

func setFloorColorCmd(bus *multidrop.Bus, c [3]byte) tea.Cmd {
	return func() tea.Msg {
		return floorColorMsg{err: bus.SetAllColor(c)}
	}
}

func (m floorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit

		case "left":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "right":
			if m.cursor < m.count-1 {
				m.cursor++
			}
			return m, nil
		case "up":
			if m.cursor-m.columns >= 0 {
				m.cursor -= m.columns
			}
			return m, nil
		case "down":
			if m.cursor+m.columns < m.count {
				m.cursor += m.columns
			}
			return m, nil

		case "enter":
			if !m.addressed || m.count == 0 {
				return m, nil
			}
			c, err := parseColor(m.input.Value())
			if err != nil {
				m.addLog(err.Error(), true)
				return m, nil
			}
			m.colors[m.cursor] = c
			colors := make([][3]byte, m.count)
			copy(colors, m.colors)
			m.addLog(fmt.Sprintf("Cell %d -> #%02X%02X%02X", m.cursor+1, c[0], c[1], c[2]), false)
			return m, setCellColorCmd(m.bus, colors)

		case "ctrl+a":
			if !m.addressed {
				return m, nil
			}
			c, err := parseColor(m.input.Value())
			if err != nil {
				m.addLog(err.Error(), true)
				return m, nil
			}
			for i := range m.colors {
				m.colors[i] = c
			}
			m.addLog(fmt.Sprintf("Floor -> #%02X%02X%02X", c[0], c[1], c[2]), false)
			return m, setFloorColorCmd(m.bus, c)

		case "ctrl+r":
			m.addressed = false
			m.count = 0
			m.addLog("Re-addressing...", false)
			return m, addressFloorCmd(m.bus)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case floorAddressedMsg:
		if msg.err != nil {
			m.addLog(fmt.Sprintf("Addressing failed: %v", msg.err), true)
			return m, nil
		}
		m.addressed = true
		m.count = msg.count
		m.colors = make([][3]byte, msg.count)
		m.touched = make([]bool, msg.count)
		if m.cursor >= m.count {
			m.cursor = 0
		}
		m.addLog(fmt.Sprintf("Chain numbered: %d cells", msg.count), false)

	case floorTickMsg:
		if m.addressed && m.count > 0 && !m.polling {
			m.polling = true
			return m, tea.Batch(sweepFloorCmd(m.bus), floorTickCmd())
		}
		return m, floorTickCmd()

	case floorSweepMsg:
		m.polling = false
		if msg.err != nil {
			m.addLog(fmt.Sprintf("Sweep failed: %v", msg.err), true)
			return m, nil
		}
		for i := range m.touched {
			m.touched[i] = i < len(msg.values) && msg.values[i] != 0
		}

	case floorColorMsg:
		if msg.err != nil {
			m.addLog(fmt.Sprintf("Color failed: %v", msg.err), true)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *floorModel) addLog(message string, isError bool) {
	m.log = append(m.log, floorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.log) > m.maxLog {
		m.log = m.log[len(m.log)-m.maxLog:]
	}
}

func (m floorModel) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("FLOORCTL"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf(
		"%s | arrows: move, enter: cell, ctrl+a: floor, ctrl+r: re-address, q: quit", m.connInfo)))
	s.WriteString("\n\n")

	if !m.addressed {
		s.WriteString("Numbering the chain...\n")
	} else {
		s.WriteString(boxStyle.Render(m.renderGrid()))
		s.WriteString("\n")
	}

	s.WriteString("\nColor: ")
	s.WriteString(m.input.View())
	s.WriteString("\n\n")

	start := 0
	if len(m.log) > 5 {
		start = len(m.log) - 5
	}
	for _, entry := range m.log[start:] {
		line := fmt.Sprintf("%s %s", entry.timestamp.Format("15:04:05"), entry.message)
		if entry.isError {
			line = errorStyle.Render(line)
		} else {
			line = headerStyle.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}

	return s.String()
}

// renderGrid draws the floor as rows of color swatches. The selected
// cell gets brackets, a touched cell an inverted swatch.
func (m floorModel) renderGrid() string {
	var rows []string

	for row := 0; row*m.columns < m.count; row++ {
		var cells []string
		for col := 0; col < m.columns; col++ {
			i := row*m.columns + col
			if i >= m.count {
				break
			}

			c := m.colors[i]
			style := lipgloss.NewStyle().
				Background(lipgloss.Color(fmt.Sprintf("#%02X%02X%02X", c[0], c[1], c[2])))
			if m.touched[i] {
				style = style.Reverse(true)
			}

			swatch := style.Render(fmt.Sprintf(" %3d ", i+1))
			if i == m.cursor {
				swatch = "[" + swatch + "]"
			} else {
				swatch = " " + swatch + " "
			}
			cells = append(cells, swatch)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	return strings.Join(rows, "\n")
}
