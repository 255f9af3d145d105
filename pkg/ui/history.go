package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/render"
)

const listWidth = 48

var (
	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	modalStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("170")).
			Padding(1, 3)
	infoKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	infoValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

type historyMode int

const (
	browseMode historyMode = iota
	transcriptMode
	confirmMode
)

type conversationItem struct {
	conv chatstore.Conversation
}

func (i conversationItem) Title() string { return i.conv.Key.String() }
func (i conversationItem) Description() string {
	return fmt.Sprintf("%d messages, last %s", i.conv.Messages, i.conv.LastAt.Local().Format(time.DateTime))
}
func (i conversationItem) FilterValue() string { return i.conv.Key.String() }

type conversationsMsg struct {
	convs []chatstore.Conversation
	err   error
}

type transcriptMsg struct {
	key  chatstore.Key
	msgs []chatstore.Message
	err  error
}

type clearedMsg struct {
	key chatstore.Key
	err error
}

// HistoryModel browses stored conversations: a list on the left, the
// selected transcript on the right, enter for a full-screen view and d to clear.
type HistoryModel struct {
	ctx      context.Context
	store    chatstore.Store
	list     list.Model
	preview  viewport.Model
	full     viewport.Model
	selected *chatstore.Key
	messages []chatstore.Message
	mode     historyMode
	width    int
	height   int
	status   string
	render   func(string) string
}

func NewHistoryModel(ctx context.Context, store chatstore.Store, convs []chatstore.Conversation) HistoryModel {
	l := list.New(conversationItems(convs), list.NewDefaultDelegate(), listWidth, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)

	m := HistoryModel{
		ctx:     ctx,
		store:   store,
		list:    l,
		preview: viewport.New(60, 20),
		full:    viewport.New(80, 20),
		render:  render.Terminal,
	}
	if it, ok := l.SelectedItem().(conversationItem); ok {
		k := it.conv.Key
		m.selected = &k
	}
	m.refresh()
	return m
}

func conversationItems(convs []chatstore.Conversation) []list.Item {
	items := make([]list.Item, 0, len(convs))
	for _, c := range convs {
		items = append(items, conversationItem{conv: c})
	}
	return items
}

func (m HistoryModel) Init() tea.Cmd {
	if m.selected == nil {
		return nil
	}
	return m.load(*m.selected)
}

func (m HistoryModel) load(key chatstore.Key) tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		msgs, err := store.List(ctx, key)
		return transcriptMsg{key: key, msgs: msgs, err: err}
	}
}

func (m HistoryModel) clear(key chatstore.Key) tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		return clearedMsg{key: key, err: store.Clear(ctx, key)}
	}
}

func (m HistoryModel) reload() tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		convs, err := store.Conversations(ctx)
		return conversationsMsg{convs: convs, err: err}
	}
}

func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = ev.Width, ev.Height
		m.list.SetSize(listWidth, max(ev.Height-2, 5))
		m.preview.Width = max(ev.Width-listWidth-6, 10)
		m.preview.Height = max(ev.Height-2, 5)
		m.full.Width = max(ev.Width-10, 10)
		m.full.Height = max(ev.Height-8, 5)
		m.refresh()
		return m, nil

	case transcriptMsg:
		if m.selected == nil || *m.selected != ev.key {
			return m, nil
		}
		if ev.err != nil {
			m.status = chat.Banner(ev.err)
			return m, nil
		}
		m.messages = ev.msgs
		m.refresh()
		return m, nil

	case clearedMsg:
		if ev.err != nil {
			m.status = chat.Banner(ev.err)
			return m, nil
		}
		m.status = "cleared " + ev.key.String()
		return m, m.reload()

	case conversationsMsg:
		if ev.err != nil {
			m.status = chat.Banner(ev.err)
			return m, nil
		}
		cmd := m.list.SetItems(conversationItems(ev.convs))
		if n := len(ev.convs); n > 0 && m.list.Index() >= n {
			m.list.Select(n - 1)
		}
		load := m.selectionChanged()
		return m, tea.Batch(cmd, load)

	case tea.KeyMsg:
		return m.handleKey(ev)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m HistoryModel) handleKey(ev tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := ev.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	switch m.mode {
	case transcriptMode:
		switch key {
		case "q":
			return m, tea.Quit
		case "esc", "enter", "backspace":
			m.mode = browseMode
			return m, nil
		}
		var cmd tea.Cmd
		m.full, cmd = m.full.Update(ev)
		return m, cmd

	case confirmMode:
		m.mode = browseMode
		if key == "y" && m.selected != nil {
			return m, m.clear(*m.selected)
		}
		m.status = ""
		return m, nil
	}

	switch key {
	case "q", "esc":
		return m, tea.Quit
	case "enter":
		if m.selected != nil {
			m.mode = transcriptMode
			m.full.GotoTop()
		}
		return m, nil
	case "d":
		if m.selected != nil {
			m.mode = confirmMode
			m.status = fmt.Sprintf("clear %s? (y/n)", m.selected.String())
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.preview, cmd = m.preview.Update(ev)
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(ev)
	load := m.selectionChanged()
	return m, tea.Batch(cmd, load)
}

// selectionChanged loads the transcript when the highlighted item moved.
func (m *HistoryModel) selectionChanged() tea.Cmd {
	it, ok := m.list.SelectedItem().(conversationItem)
	if !ok {
		m.selected = nil
		m.messages = nil
		m.refresh()
		return nil
	}
	if m.selected != nil && *m.selected == it.conv.Key {
		return nil
	}
	k := it.conv.Key
	m.selected = &k
	m.messages = nil
	m.refresh()
	return m.load(k)
}

func (m *HistoryModel) refresh() {
	m.preview.SetContent(m.transcript(false))
	m.preview.GotoTop()
	m.full.SetContent(m.transcript(true))
}

func (m *HistoryModel) transcript(rendered bool) string {
	if m.selected == nil {
		return dimStyle.Render("No conversation selected")
	}
	var b strings.Builder
	b.WriteString(infoKeyStyle.Render("Page: ") + infoValueStyle.Render(m.selected.Page) + "\n")
	b.WriteString(infoKeyStyle.Render("Session: ") + infoValueStyle.Render(m.selected.Session) + "\n\n")
	for _, msg := range m.messages {
		who := userStyle.Render("You")
		if msg.Role != chat.RoleUser {
			who = assistantStyle.Render("SnapLogic")
		}
		b.WriteString(who + " " + dimStyle.Render(msg.CreatedAt.Local().Format(time.DateTime)) + "\n")
		content := msg.Content
		if rendered && msg.Role != chat.RoleUser {
			content = strings.TrimRight(m.render(content), "\n")
		}
		b.WriteString(content + "\n\n")
	}
	return b.String()
}

// Selected is the conversation highlighted when the program exited.
func (m HistoryModel) Selected() (chatstore.Key, bool) {
	if m.selected == nil {
		return chatstore.Key{}, false
	}
	return *m.selected, true
}

func (m HistoryModel) View() string {
	if m.mode == transcriptMode {
		modal := modalStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(" "+m.selected.String()+" "),
			m.full.View(),
			helpStyle.Render("esc or enter to close"),
		))
		if m.width > 0 && m.height > 0 {
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
		}
		return modal
	}

	left := paneStyle.Render(m.list.View())
	right := paneStyle.Render(m.preview.View())
	parts := []string{lipgloss.JoinHorizontal(lipgloss.Top, left, right)}
	if m.status != "" {
		parts = append(parts, bannerStyle.Render(m.status))
	} else {
		parts = append(parts, helpStyle.Render("enter: open • d: clear • q: quit"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
