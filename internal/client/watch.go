package client

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"filedrop/internal/drop"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	panelStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	inputBoxStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).MarginTop(1)
	connectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true).MarginTop(1)
)

// maxMessageWidth bounds how much of a chat message the feed shows.
const maxMessageWidth = 200

type watchMode int

const (
	modeNamePrompt watchMode = iota
	modeFeed
)

type (
	frameMsg    drop.ServerFrame
	feedErrMsg  struct{ err error }
	sentMsg     struct{}
	sendFailMsg struct{ err error }
)

// WatchModel is the bubbletea model behind `filedrop watch`: a live view of a
// session's files, participants, and activity, with a chat prompt.
type WatchModel struct {
	feed    *Feed
	session string
	name    string
	mode    watchMode
	input   textinput.Model
	state   *SessionState
	err     error
}

// NewWatchModel creates the model for feed. With a valid name it joins right
// away; otherwise it asks for one first.
func NewWatchModel(feed *Feed, session, name string) *WatchModel {
	input := textinput.New()
	input.CharLimit = drop.MaxMessageLength
	input.Focus()

	m := &WatchModel{
		feed:    feed,
		session: session,
		input:   input,
		state:   NewSessionState(),
	}
	if drop.ValidateName(name) == nil {
		m.name = name
		m.enterFeed()
	} else {
		m.enterNamePrompt(name)
	}
	return m
}

func (m *WatchModel) enterNamePrompt(value string) {
	m.mode = modeNamePrompt
	m.input.SetValue(value)
	m.input.Prompt = "name> "
	m.input.Placeholder = "Enter display name…"
	m.input.CharLimit = drop.MaxNameLength
}

func (m *WatchModel) enterFeed() {
	m.mode = modeFeed
	m.input.SetValue("")
	m.input.Prompt = "> "
	m.input.Placeholder = "Type a message…"
	m.input.CharLimit = drop.MaxMessageLength
}

// State returns the mirrored session state.
func (m *WatchModel) State() *SessionState { return m.state }

func (m *WatchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.readCmd()}
	if m.mode == modeFeed {
		cmds = append(cmds, m.joinCmd(m.name))
	}
	return tea.Batch(cmds...)
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			_ = m.feed.Close()
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m, m.submit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case frameMsg:
		frame := drop.ServerFrame(msg)
		m.state.Apply(frame)
		if frame.Error != "" && m.mode == modeFeed && !m.state.Ready {
			// The join was refused; ask again.
			m.enterNamePrompt(m.name)
		}
		if m.state.Closed {
			return m, tea.Quit
		}
		return m, m.readCmd()

	case feedErrMsg:
		m.err = msg.err
		return m, tea.Quit

	case sentMsg:
		m.input.SetValue("")
		return m, nil

	case sendFailMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *WatchModel) submit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	switch m.mode {
	case modeNamePrompt:
		if err := drop.ValidateName(value); err != nil {
			m.state.LastError = fmt.Sprintf("Names must be %d to %d characters.", drop.MinNameLength, drop.MaxNameLength)
			return nil
		}
		m.name = value
		m.enterFeed()
		return m.joinCmd(value)
	default:
		if value == "" {
			return nil
		}
		if value == "/quit" || value == "/exit" {
			_ = m.feed.Close()
			return tea.Quit
		}
		return m.sayCmd(value)
	}
}

func (m *WatchModel) readCmd() tea.Cmd {
	return func() tea.Msg {
		frame, err := m.feed.Next()
		if err != nil {
			return feedErrMsg{err: err}
		}
		return frameMsg(frame)
	}
}

func (m *WatchModel) joinCmd(name string) tea.Cmd {
	return func() tea.Msg {
		if err := m.feed.Join(name); err != nil {
			return sendFailMsg{err: err}
		}
		return nil
	}
}

func (m *WatchModel) sayCmd(text string) tea.Cmd {
	return func() tea.Msg {
		if err := m.feed.Say(text); err != nil {
			return sendFailMsg{err: err}
		}
		return sentMsg{}
	}
}

// Err returns the error that ended the feed, if any.
func (m *WatchModel) Err() error { return m.err }

func (m *WatchModel) View() string {
	sections := []string{titleStyle.Render("filedrop · " + m.session)}

	if m.mode == modeNamePrompt {
		sections = append(sections, hintStyle.Render("Pick a display name to join the session."))
	} else if m.state.Ready {
		sections = append(sections,
			connectedStyle.Render("Joined as "+m.name),
			panelStyle.Render(m.renderFiles()),
			panelStyle.Render(m.renderUsers()),
			panelStyle.Render(m.renderEvents()),
		)
	} else {
		sections = append(sections, hintStyle.Render("Joining…"))
	}

	if m.state.LastError != "" {
		sections = append(sections, errorStyle.Render(m.state.LastError))
	}
	if m.state.Closed {
		sections = append(sections, systemStyle.Render("Session expired."))
	}
	sections = append(sections,
		inputBoxStyle.Render(m.input.View()),
		hintStyle.Render("Enter) send  •  /quit or Esc) leave"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *WatchModel) renderFiles() string {
	files := m.state.SortedFiles()
	lines := []string{fmt.Sprintf("Files (%d/%d)", len(files), drop.MaxFiles)}
	if len(files) == 0 {
		lines = append(lines, systemStyle.Render("no files yet"))
	}
	for _, f := range files {
		lock := ""
		if f.Encrypted {
			lock = " [encrypted]"
		}
		lines = append(lines, fmt.Sprintf("%s  %s  %s%s", f.ID, formatSize(f.Size), f.Type, lock))
	}
	return strings.Join(lines, "\n")
}

func (m *WatchModel) renderUsers() string {
	if len(m.state.Users) == 0 {
		return "Here: nobody"
	}
	names := make([]string, len(m.state.Users))
	for i, u := range m.state.Users {
		names[i] = userStyle.Render(u)
	}
	return "Here: " + strings.Join(names, ", ")
}

func (m *WatchModel) renderEvents() string {
	if len(m.state.Events) == 0 {
		return systemStyle.Render("no activity yet")
	}
	lines := make([]string, 0, len(m.state.Events))
	for _, e := range m.state.Events {
		lines = append(lines, timestampStyle.Render(e.Date.Local().Format("15:04"))+" "+describeEvent(e))
	}
	return strings.Join(lines, "\n")
}

func describeEvent(e drop.LogEvent) string {
	user := userStyle.Render(e.User)
	fileID := ""
	if e.File != nil {
		fileID = e.File.ID
	}
	switch e.Kind {
	case drop.EventUserJoin:
		return user + " joined"
	case drop.EventUserLeave:
		return user + " left"
	case drop.EventFileUpload:
		return user + " uploaded " + fileID
	case drop.EventFileDelete:
		return user + " deleted " + fileID
	case drop.EventMessage:
		return user + ": " + truncate(e.Message, maxMessageWidth)
	case drop.EventClose:
		return systemStyle.Render("session closed")
	}
	return string(e.Kind)
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// RunWatch runs the terminal feed for an open Feed until the user quits or
// the session ends.
func RunWatch(feed *Feed, session, name string) error {
	model := NewWatchModel(feed, session, name)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return err
	}
	if model.Err() != nil {
		if code, reason, ok := CloseReason(model.Err()); ok {
			if code == drop.CloseNormal || code == drop.CloseGoingAway {
				return nil
			}
			return fmt.Errorf("session closed: %s", reason)
		}
		return model.Err()
	}
	return nil
}
