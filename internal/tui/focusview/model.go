// Package focusview is the live focus-session countdown shown by
// `offsync focus watch`.
package focusview

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
)

// Snapshotter exposes the current focus session.
type Snapshotter interface {
	Snapshot() models.FocusSession
}

// StateMsg carries a focus state update from the bus.
type StateMsg events.FocusStateUpdated

// CompletedMsg carries a completion from the bus.
type CompletedMsg events.FocusCompleted

type keyMap struct {
	Cancel key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Cancel, k.Quit} }

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var defaultKeys = keyMap{
	Cancel: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel session")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "detach")),
}

// Model is the Bubble Tea model for the countdown
type Model struct {
	bus     *events.Bus
	updates chan tea.Msg
	subs    []events.Subscription

	Session   models.FocusSession
	Completed *CompletedMsg
	Width     int

	spinner spinner.Model
	keys    keyMap
	help    help.Model
}

// NewModel creates a countdown that follows bus updates, starting from the
// source's current snapshot. Call Close when the program exits.
func NewModel(bus *events.Bus, source Snapshotter) *Model {
	m := &Model{
		bus:     bus,
		updates: make(chan tea.Msg, 16),
		Session: source.Snapshot(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		keys:    defaultKeys,
		help:    help.New(),
	}
	m.subs = []events.Subscription{
		bus.Subscribe(events.KindFocusStateUpdated, func(ev events.Event) {
			if p, ok := ev.Payload.(events.FocusStateUpdated); ok {
				m.send(StateMsg(p))
			}
		}),
		bus.Subscribe(events.KindFocusCompleted, func(ev events.Event) {
			if p, ok := ev.Payload.(events.FocusCompleted); ok {
				m.send(CompletedMsg(p))
			}
		}),
	}
	return m
}

// Close removes the bus subscriptions.
func (m *Model) Close() {
	for _, s := range m.subs {
		s.Cancel()
	}
	m.subs = nil
}

// send never blocks the publisher; a full buffer drops the update since the
// next tick supersedes it.
func (m *Model) send(msg tea.Msg) {
	select {
	case m.updates <- msg:
	default:
	}
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	if m.Session.Status != models.FocusRunning {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, m.waitForUpdate())
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Cancel):
			m.bus.Publish(events.FocusCancel{})
			return m, nil
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case CompletedMsg:
		c := msg
		m.Completed = &c
		return m, m.waitForUpdate()

	case StateMsg:
		m.Session.Status = msg.Status
		m.Session.RemainingMs = msg.RemainingMs
		m.Session.EndTime = msg.EndTime
		if msg.Status != models.FocusRunning {
			return m, tea.Quit
		}
		return m, m.waitForUpdate()
	}

	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	return m.renderView()
}
