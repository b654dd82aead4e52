// Package chat provides the interactive TUI chat interface for formcoach.
//   - model.go: types, Init, Update loop
//   - view.go: rendering and styles
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"

	"formcoach/internal/config"
	"formcoach/internal/dialogue"
	"formcoach/internal/orchestrator"
	"formcoach/internal/schema"
	"formcoach/internal/stages"
)

// messageTimeout bounds one conversation turn, LLM and web calls included.
const messageTimeout = 5 * time.Minute

// entry is one transcript line.
type entry struct {
	speaker  string
	text     string
	rendered bool // text is already terminal-formatted
}

// outcomeMsg carries the session's answer to one message.
type outcomeMsg orchestrator.Outcome

// Model is the main model for the interactive chat interface.
type Model struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	cfg        *config.Config
	deps       *stages.Deps
	questioner dialogue.QuestionGenerator
	session    *orchestrator.Session

	entries []entry
	working bool
	done    bool
	width   int
	height  int
	ready   bool
}

// Run starts the chat program and blocks until exit.
func Run(cfg *config.Config, deps *stages.Deps, questioner dialogue.QuestionGenerator) error {
	p := tea.NewProgram(
		New(cfg, deps, questioner),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	_, err := p.Run()
	return err
}

// New builds the chat model and its first session.
func New(cfg *config.Config, deps *stages.Deps, questioner dialogue.QuestionGenerator) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe what hurts and when it happens..."
	ti.CharLimit = 500
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := Model{
		input:      ti,
		spinner:    sp,
		cfg:        cfg,
		deps:       deps,
		questioner: questioner,
	}
	m.session = m.newSession()
	m.entries = []entry{{speaker: speakerSystem, text: welcomeText(deps)}}
	return m
}

// newSession builds a fresh session with its own question-order view.
func (m Model) newSession() *orchestrator.Session {
	view := schema.Default().SessionView(schema.ShufflePolicy{
		Enabled:   m.cfg.Dialogue.Shuffle.Enabled,
		Seed:      m.cfg.Dialogue.Shuffle.Seed,
		BudgetMin: m.cfg.Dialogue.OptionalBudgetMin,
		BudgetMax: m.cfg.Dialogue.OptionalBudgetMax,
	})
	ocfg := orchestrator.Config{
		MaxIterations:         m.cfg.Orchestrator.MaxIterations,
		MaxStagesPerRequest:   m.cfg.Orchestrator.MaxStagesPerRequest,
		ProgressCheckInterval: m.cfg.Orchestrator.ProgressCheckInterval,
		StageTimeout:          m.cfg.GetStageTimeout(),
		MinOptionalFields:     m.cfg.Dialogue.MinOptionalFields,
	}
	return orchestrator.NewSession(uuid.NewString(), ocfg, view, m.deps, m.questioner)
}

// Init starts the caret blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles one message in the bubbletea loop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Header, input line, and help line frame the viewport
		vpHeight := msg.Height - 4
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4

		wrap := msg.Width - 2
		if wrap > 100 {
			wrap = 100
		}
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(wrap)); err == nil {
			m.renderer = r
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlR:
			m.session = m.newSession()
			m.entries = append(m.entries, entry{speaker: speakerSystem, text: "Started a new conversation."})
			m.working = false
			m.done = false
			m.refresh()
			return m, nil

		case tea.KeyEnter:
			if m.working {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.entries = append(m.entries, entry{speaker: speakerYou, text: text})
			m.input.SetValue("")
			m.working = true
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, sendMessage(m.session, text))
		}

	case outcomeMsg:
		m.working = false
		switch msg.Type {
		case orchestrator.OutcomeQuestion:
			m.entries = append(m.entries, entry{speaker: speakerCoach, text: msg.Question})
		case orchestrator.OutcomeComplete:
			m.done = true
			m.entries = append(m.entries, entry{
				speaker:  speakerCoach,
				text:     m.renderMarkdown(msg.Report.Markdown()),
				rendered: true,
			})
		case orchestrator.OutcomeError:
			text := "something went wrong"
			if msg.Err != nil {
				text = msg.Err.Error()
			}
			m.entries = append(m.entries, entry{speaker: speakerSystem, text: "Error: " + text})
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.working {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}
		return m, nil
	}

	m.input, tiCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// sendMessage runs one conversation turn off the UI goroutine. The working
// flag in Update serializes calls, which the session requires.
func sendMessage(sess *orchestrator.Session, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		return outcomeMsg(sess.HandleMessage(ctx, text))
	}
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.transcriptView())
	m.viewport.GotoBottom()
}

func (m Model) renderMarkdown(md string) string {
	if m.renderer == nil {
		return md
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
