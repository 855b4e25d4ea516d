package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/loopback"
	"github.com/wippyai/composition/scenario"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	traceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// watchWindow is the notification target registered for every channel the
// monitor creates. The loopback engine only needs it to be non-zero.
const watchWindow uintptr = 1

const logLines = 14

func newWatchCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Interactive monitor for channels, handles and notifications",
		Long: `Open a loopback engine and type scenario steps one line at a time.

Steps use the one-line form, e.g.
  create_channel channel=a
  register_notifications channel=a
  create_resource channel=a resource=brush type=solid_color_brush
  commit channel=a

Notifications are shown as they arrive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.Unsupported(errors.PhaseConfig, "watch needs an interactive terminal")
			}
			return runWatch(root)
		},
	}
}

type signalMsg struct{}

type watchModel struct {
	err     error
	eng     *loopback.Engine
	session *channel.Session
	runner  *scenario.Runner
	signals chan struct{}
	input   textinput.Model
	handles table.Model
	log     []string
}

func newWatchModel(root *rootOptions) (*watchModel, error) {
	signals := make(chan struct{}, 1)
	eng := root.newEngine(loopback.WithWindowNotifier(func(engine.ChannelHandle, uintptr, uint32) {
		select {
		case signals <- struct{}{}:
		default:
		}
	}))

	s, err := channel.NewSession(eng, channel.WithLogger(root.log))
	if err != nil {
		return nil, multierr.Append(err, eng.Close())
	}

	ti := textinput.New()
	ti.Placeholder = "create_channel channel=a"
	ti.Prompt = "> "
	ti.Width = 72
	ti.Focus()

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Resource", Width: 14},
			{Title: "Type", Width: 18},
			{Title: "Channel", Width: 8},
			{Title: "Handle", Width: 7},
			{Title: "Refs", Width: 5},
		}),
		table.WithHeight(8),
	)

	return &watchModel{
		eng:     eng,
		session: s,
		runner:  scenario.NewRunner(s, "watch", scenario.WithFlushTimeout(root.cfg.Engine.SyncFlushTimeout)),
		signals: signals,
		input:   ti,
		handles: tbl,
	}, nil
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitSignal())
}

func (m *watchModel) waitSignal() tea.Cmd {
	return func() tea.Msg {
		<-m.signals
		return signalMsg{}
	}
}

// exec runs one typed step on the update goroutine; the runner is not
// safe for concurrent use.
func (m *watchModel) exec(line string) {
	entries, err := m.step(line)
	if err != nil {
		m.appendLog(errorStyle.Render(fmt.Sprintf("%s: %v", line, err)))
	}
	for _, e := range entries {
		m.appendLog(traceStyle.Render(fmt.Sprintf("%02d %s %s", e.Step, e.Op, e.Detail)))
	}
	m.refreshHandles()
}

func (m *watchModel) step(line string) ([]scenario.Entry, error) {
	st, err := scenario.ParseStep(line)
	if err != nil {
		return nil, err
	}
	entries, err := m.runner.Exec(context.Background(), st)
	if err != nil {
		return nil, err
	}
	if st.Op == scenario.OpCreateChannel {
		ch, _ := m.runner.Channel(st.Channel)
		return entries, ch.SetNotificationWindow(watchWindow, 0)
	}
	return entries, nil
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.err = m.close()
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line != "" {
				m.exec(line)
			}
			return m, nil
		}

	case signalMsg:
		m.drain()
		return m, m.waitSignal()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// drain pulls every pending notification from every channel.
func (m *watchModel) drain() {
	for _, name := range m.runner.ChannelNames() {
		ch, _ := m.runner.Channel(name)
		for {
			msg, ok, err := ch.PeekNextMessage()
			if err != nil {
				m.appendLog(errorStyle.Render(fmt.Sprintf("%s: %v", name, err)))
				break
			}
			if !ok {
				break
			}
			m.appendLog(messageStyle.Render(fmt.Sprintf("<- %s %s", name, msg)))
		}
	}
}

func (m *watchModel) refreshHandles() {
	handles := m.runner.Handles()
	rows := make([]table.Row, 0, len(handles))
	for _, h := range handles {
		rows = append(rows, table.Row{
			h.Resource,
			h.Type.String(),
			h.Channel,
			fmt.Sprint(uint32(h.Handle)),
			fmt.Sprint(h.RefCount),
		})
	}
	m.handles.SetRows(rows)
}

func (m *watchModel) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

func (m *watchModel) close() error {
	return multierr.Append(m.session.Close(), m.eng.Close())
}

func (m *watchModel) View() string {
	var b strings.Builder

	st := m.eng.Stats()
	b.WriteString(titleStyle.Render("Compositor Probe"))
	fmt.Fprintf(&b, " channels=%d partitions=%d commits=%d commands=%d rejected=%d messages=%d\n\n",
		st.Channels, st.Partitions, st.Commits, st.Commands, st.Rejected, st.MessagesPosted)

	b.WriteString(m.handles.View())
	b.WriteString("\n\n")

	for _, line := range m.log {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter run step • esc quit"))

	return b.String()
}

func runWatch(root *rootOptions) error {
	m, err := newWatchModel(root)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return multierr.Append(err, m.close())
	}
	return m.err
}
