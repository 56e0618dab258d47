package tui

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const greeting = "Ask a question (exit to quit)."

const helpLine = ":health  :rebuild  exit  ·  pgup/pgdn scroll  ·  ctrl+c quit"

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	failedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// replyMsg carries the result of Session.Handle back to the model.
type replyMsg struct {
	reply Reply
	err   error
}

// Model is the Bubble Tea chat screen: a scrolling transcript above a
// single-line input.
type Model struct {
	ctx     context.Context
	session *Session

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries []string
	status  string
	busy    bool
	ready   bool
	err     error
}

// New creates a chat model bound to session. ctx is passed to every
// question and command.
func New(ctx context.Context, session *Session) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	return Model{
		ctx:      ctx,
		session:  session,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		status:   greeting,
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and reply messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		tw, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // title and help, status, input box
		m.viewport.Width = max(20, msg.Width-tw)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.input.Width = max(10, msg.Width-tw-len(m.input.Prompt)-1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			return m.submit()
		}

	case replyMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		text := strings.TrimRight(msg.reply.Text, "\n")
		if msg.reply.Failed {
			text = failedStyle.Render(text)
		}
		m.entries = append(m.entries, text)
		m.status = "Ready."
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs the line in the input box. One line runs at a time.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	action, line := Parse(m.input.Value())
	m.input.Reset()

	switch action {
	case ActionNone:
		return m, nil
	case ActionQuit:
		return m, tea.Quit
	}

	m.busy = true
	m.status = busyStatus(action)
	m.entries = append(m.entries, questionStyle.Render("> "+line))
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.handle(line))
}

func (m Model) handle(line string) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		reply, err := session.Handle(ctx, line)
		return replyMsg{reply: reply, err: err}
	}
}

func busyStatus(a Action) string {
	switch a {
	case ActionRebuild:
		return "Rebuilding index..."
	case ActionHealth:
		return "Checking health..."
	default:
		return "Thinking..."
	}
}

// refresh re-renders the transcript, wrapped to the viewport, and scrolls
// to the newest entry.
func (m *Model) refresh() {
	if m.viewport.Width <= 0 {
		return
	}
	wrap := lipgloss.NewStyle().Width(m.viewport.Width)
	rendered := make([]string, len(m.entries))
	for i, e := range m.entries {
		rendered[i] = wrap.Render(e)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n\n"))
	m.viewport.GotoBottom()
}

// View renders the title, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return titleStyle.Render("ragd chat") + "\n" +
		helpStyle.Render(helpLine) + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

// Transcript returns the rendered entries, oldest first.
func (m Model) Transcript() []string {
	return append([]string(nil), m.entries...)
}

// Busy reports whether a line is still running.
func (m Model) Busy() bool { return m.busy }

// Err is the error that ended the session, if any.
func (m Model) Err() error { return m.err }

// Run shows the chat screen on out, reading keys from in, until the user
// quits or ctx is done.
func Run(ctx context.Context, session *Session, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(New(ctx, session),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if fm, ok := final.(Model); ok {
		return fm.Err()
	}
	return nil
}
