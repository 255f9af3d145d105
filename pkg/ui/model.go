package ui

import (
	"context"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/render"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	bannerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
)

type entry struct {
	role    string
	content string
}

// frameMsg advances the typewriter of message id by one frame.
type frameMsg struct {
	id string
}

type typing struct {
	id     string
	frames []string
	idx    int
	delay  time.Duration
	final  string
}

// Model is the terminal chat for one page.
type Model struct {
	ctx      context.Context
	title    string
	backend  *ServiceBackend
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	entries  []entry
	banner   string
	typing   *typing
	waiting  bool
	render   func(string) string
}

type ModelOption func(*Model)

// WithRenderer replaces the markdown renderer used for assistant messages.
func WithRenderer(f func(string) string) ModelOption {
	return func(m *Model) { m.render = f }
}

func NewModel(ctx context.Context, title string, backend *ServiceBackend, history []chatstore.Message, opts ...ModelOption) Model {
	in := textinput.New()
	in.Placeholder = "Ask a question"
	in.Prompt = "> "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Line

	m := Model{
		ctx:      ctx,
		title:    title,
		backend:  backend,
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		render:   render.Terminal,
	}
	for _, o := range opts {
		o(&m)
	}
	for _, msg := range history {
		m.entries = append(m.entries, entry{role: msg.Role, content: msg.Content})
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = ev.Width
		m.viewport.Height = max(ev.Height-5, 3)
		m.input.Width = max(ev.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch ev.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.waiting {
				m.backend.Interrupt()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case ReplyMsg:
		m.waiting = false
		if ev.Err != nil {
			m.banner = chat.Banner(ev.Err)
			m.refresh()
			return m, nil
		}
		m.banner = ""
		res := ev.Result
		if len(res.Frames) > 0 && res.Speed > 0 {
			m.typing = &typing{id: res.Message.ID, frames: res.Frames, delay: render.Delay(res.Speed), final: res.Message.Content}
			m.refresh()
			return m, m.tick()
		}
		m.entries = append(m.entries, entry{role: chat.RoleAssistant, content: res.Message.Content})
		m.refresh()
		return m, nil

	case frameMsg:
		if m.typing == nil || m.typing.id != ev.id {
			return m, nil
		}
		m.typing.idx++
		if m.typing.idx >= len(m.typing.frames)-1 {
			m.entries = append(m.entries, entry{role: chat.RoleAssistant, content: m.typing.final})
			m.typing = nil
			m.refresh()
			return m, nil
		}
		m.refresh()
		return m, m.tick()

	case spinner.TickMsg:
		if !m.waiting {
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

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.waiting || m.typing != nil {
		return m, nil
	}
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		m.banner = chat.Banner(chat.ErrEmptyPrompt)
		m.refresh()
		return m, nil
	}
	cmd, err := m.backend.Start(m.ctx, prompt)
	if err != nil {
		m.banner = chat.Banner(err)
		m.refresh()
		return m, nil
	}
	m.input.Reset()
	m.banner = ""
	m.waiting = true
	m.entries = append(m.entries, entry{role: chat.RoleUser, content: prompt})
	m.refresh()
	return m, tea.Batch(cmd, m.spinner.Tick)
}

func (m Model) tick() tea.Cmd {
	id, d := m.typing.id, m.typing.delay
	return tea.Tick(d, func(time.Time) tea.Msg { return frameMsg{id: id} })
}

func (m *Model) refresh() {
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(m.renderEntry(e.role, e.content))
		b.WriteString("\n")
	}
	if m.typing != nil {
		b.WriteString(assistantStyle.Render("SnapLogic") + "\n" + m.typing.frames[m.typing.idx] + "\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderEntry(role, content string) string {
	if role == chat.RoleUser {
		return userStyle.Render("You") + "\n" + content + "\n"
	}
	return assistantStyle.Render("SnapLogic") + "\n" + strings.TrimRight(m.render(content), "\n") + "\n"
}

func (m Model) View() string {
	status := helpStyle.Render("enter: send • pgup/pgdn: scroll • esc: quit")
	if m.waiting {
		status = m.spinner.View() + " " + helpStyle.Render("waiting for SnapLogic… (esc to cancel)")
	}
	parts := []string{titleStyle.Render(m.title), m.viewport.View()}
	if m.banner != "" {
		parts = append(parts, bannerStyle.Render(m.banner))
	}
	parts = append(parts, m.input.View(), status)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
