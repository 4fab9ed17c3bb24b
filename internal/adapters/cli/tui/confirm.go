package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// ConfirmModel asks a yes/no question. Anything but an explicit yes declines.
type ConfirmModel struct {
	question  string
	detail    string
	confirmed bool
	done      bool
}

// NewConfirmModel creates a confirmation prompt. detail is shown under the
// question, for example a cost estimate.
func NewConfirmModel(question, detail string) ConfirmModel {
	return ConfirmModel{question: question, detail: detail}
}

func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(km, keys.Yes):
		m.confirmed, m.done = true, true
		return m, tea.Quit
	case key.Matches(km, keys.No), key.Matches(km, keys.Quit):
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m ConfirmModel) View() string {
	if m.done {
		return ""
	}
	s := "? " + TitleStyle.Render(m.question) + "\n"
	if m.detail != "" {
		s += m.detail + "\n"
	}
	return s + "\n" + helpLine(keys.Yes, keys.No) + "\n"
}

// Confirmed reports whether the user answered yes
func (m ConfirmModel) Confirmed() bool {
	return m.confirmed
}

// Confirm runs the prompt and returns the answer
func Confirm(question, detail string) (bool, error) {
	final, err := tea.NewProgram(NewConfirmModel(question, detail)).Run()
	if err != nil {
		return false, err
	}
	return final.(ConfirmModel).Confirmed(), nil
}
