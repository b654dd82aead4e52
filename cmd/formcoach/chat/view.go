// Package chat provides the interactive TUI chat interface for formcoach.
// This file contains the rendering functions and styles.
package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"formcoach/internal/stages"
)

const (
	speakerYou    = "you"
	speakerCoach  = "coach"
	speakerSystem = "system"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	youStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	coachStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
)

// View renders the full interface.
func (m Model) View() string {
	if !m.ready {
		return "starting formcoach..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("formcoach"))
	if m.working {
		b.WriteString("  " + m.spinner.View() + " thinking")
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send · ctrl+r new conversation · ctrl+c quit"))
	return b.String()
}

func (m Model) transcriptView() string {
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.speaker {
		case speakerYou:
			b.WriteString(youStyle.Render("You: ") + e.text + "\n")
		case speakerCoach:
			if e.rendered {
				b.WriteString(coachStyle.Render("Coach:") + "\n" + e.text)
			} else {
				b.WriteString(coachStyle.Render("Coach: ") + e.text + "\n")
			}
		default:
			b.WriteString(systemStyle.Render(e.text) + "\n")
		}
	}
	return b.String()
}

// welcomeText names the collaborators that are missing so the user knows
// what kind of answers to expect.
func welcomeText(deps *stages.Deps) string {
	var missing []string
	if deps.LLM == nil {
		missing = append(missing, "LLM")
	}
	if deps.Searcher == nil {
		missing = append(missing, "web search")
	}

	msg := "Tell me about a pain or form problem in your training."
	if len(missing) > 0 {
		msg += fmt.Sprintf(" (running without %s; answers lean on the local knowledge base)",
			strings.Join(missing, " or "))
	}
	return msg
}
