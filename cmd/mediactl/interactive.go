package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kr/pretty"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/engine"
	"github.com/wippyai/wasm-media/gateway"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// field is one text input of an operation form.
type field struct {
	name        string
	placeholder string
}

var opFields = map[build.Op][]field{
	build.OpProbe: {
		{"input", "path"},
		{"src", "container, e.g. wav"},
	},
	build.OpTranscode: {
		{"input", "path"},
		{"src", "container, e.g. wav"},
		{"dst", "container, e.g. ogg"},
		{"codec", "codec, e.g. libopus (empty for none)"},
		{"opts", "k:v,k:v"},
		{"out", "path"},
	},
	build.OpEncodeMux: {
		{"input", "path"},
		{"rate", "sample rate"},
		{"channels", "channel count"},
		{"profile", "profile name"},
		{"out", "path"},
	},
	build.OpModify: {
		{"input", "path"},
		{"profile", "profile name"},
		{"out", "path"},
	},
}

type interactiveModel struct {
	err      error
	rt       *engine.Runtime
	handle   *engine.Handle
	gw       *gateway.Gateway
	cfg      *engine.Config
	filename string
	buildID  string
	result   string
	ops      []build.Op
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(filename, buildID string, cfg *engine.Config) *interactiveModel {
	return &interactiveModel{
		filename: filename,
		buildID:  buildID,
		cfg:      cfg,
		state:    stateSelectOp,
	}
}

type loadedMsg struct {
	err    error
	rt     *engine.Runtime
	handle *engine.Handle
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadEngine
}

func (m *interactiveModel) loadEngine() tea.Msg {
	rt, h, err := openHandle(context.Background(), m.filename, m.buildID, m.cfg)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{rt: rt, handle: h}
}

func (m *interactiveModel) close() {
	ctx := context.Background()
	if m.handle != nil {
		m.handle.Close(ctx)
	}
	if m.rt != nil {
		m.rt.Close(ctx)
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.close()
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				m.close()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				m.prepareInputs()
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.callOp

			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectOp
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.handle = msg.handle
		m.gw = gateway.New(msg.handle, gateway.WithLogger(m.cfg.Logger))
		for _, op := range build.Ops() {
			if msg.handle.Build().Supports(op) {
				m.ops = append(m.ops, op)
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	fields := opFields[m.ops[m.selected]]
	m.inputs = make([]textinput.Model, len(fields))
	for i, f := range fields {
		ti := textinput.New()
		ti.Placeholder = f.placeholder
		ti.Prompt = f.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) values() map[string]string {
	fields := opFields[m.ops[m.selected]]
	vals := make(map[string]string, len(fields))
	for i, f := range fields {
		vals[f.name] = strings.TrimSpace(m.inputs[i].Value())
	}
	return vals
}

func (m *interactiveModel) callOp() tea.Msg {
	if m.gw == nil {
		return callResultMsg{err: fmt.Errorf("engine not loaded")}
	}
	op := m.ops[m.selected]
	vals := m.values()

	input, err := os.ReadFile(vals["input"])
	if err != nil {
		return callResultMsg{err: err}
	}
	r := request{
		op:      op,
		input:   input,
		src:     vals["src"],
		dst:     vals["dst"],
		codec:   vals["codec"],
		opts:    vals["opts"],
		profile: vals["profile"],
	}
	if op == build.OpEncodeMux {
		if r.rate, err = strconv.Atoi(vals["rate"]); err != nil {
			return callResultMsg{err: fmt.Errorf("rate: %w", err)}
		}
		if r.channels, err = strconv.Atoi(vals["channels"]); err != nil {
			return callResultMsg{err: fmt.Errorf("channels: %w", err)}
		}
	}

	res, err := execute(context.Background(), m.gw, r)
	if err != nil {
		return callResultMsg{err: err}
	}

	var b strings.Builder
	if res.probed || res.header.Present != 0 {
		fmt.Fprintf(&b, "%# v\n", pretty.Formatter(res.header))
	}
	if !res.probed {
		if out := vals["out"]; out != "" {
			if err := writeOutput(out, res.data); err != nil {
				return callResultMsg{err: err}
			}
			fmt.Fprintf(&b, "wrote %d bytes to %s", len(res.data), out)
		} else {
			fmt.Fprintf(&b, "%d bytes of output (no out path given)", len(res.data))
		}
	}
	return callResultMsg{result: b.String()}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.handle == nil {
		return "Loading engine..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Media Engine"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(typeStyle.Render(m.handle.Build().ID))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an operation:\n\n")
		for i, op := range m.ops {
			line := m.formatOp(op)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter choose • q quit"))

	case stateInputArgs:
		op := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Running %s\n\n", opStyle.Render(op.String())))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		if op == build.OpEncodeMux || op == build.OpModify {
			b.WriteString("\n")
			b.WriteString(typeStyle.Render("profiles: " + strings.Join(m.handle.Build().Profiles.Names(), ", ")))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter run • esc back"))

	case stateShowResult:
		op := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", opStyle.Render(op.String())))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatOp(op build.Op) string {
	spec, err := m.handle.Build().Op(op)
	if err != nil {
		return op.String()
	}
	detail := spec.Convention.String()
	if spec.Convention == build.Header {
		detail = spec.Layout.String()
	}
	return opStyle.Render(op.String()) + " " + spec.Entry + " " + typeStyle.Render(detail)
}

func runInteractive(filename, buildID string, cfg *engine.Config) error {
	p := tea.NewProgram(newInteractiveModel(filename, buildID, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
